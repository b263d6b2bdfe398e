package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-relay/backend/internal/auth"
	"github.com/agent-relay/backend/internal/model"
	"github.com/agent-relay/backend/internal/pty"
	"github.com/agent-relay/backend/internal/watcher"
)

// DefaultAuthTimeout is how long a fresh connection may sit in
// AwaitingAuth before it is closed.
const DefaultAuthTimeout = 10 * time.Second

// Terminal dimensions are clamped to these bounds before reaching the PTY.
const (
	maxCols = 500
	maxRows = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens in-band via the first frame, not via Origin.
		return true
	},
}

// TurnController is the active-session owner: the collaborator that
// runs agent turns. Session-channel intents are forwarded to it; the
// semantics of prompts, approvals, and interrupts are its concern.
type TurnController interface {
	SubmitPrompt(sessionID, text string) error
	Approve(sessionID, requestID string) error
	Deny(sessionID, requestID string) error
	Interrupt(sessionID string) error
}

// Handler terminates both upgrade paths, performs the auth handshake,
// and maps client intents to watcher and registry calls.
type Handler struct {
	auth     *auth.Authenticator
	watcher  *watcher.Watcher
	registry *pty.Registry
	turns    TurnController

	// DefaultShell is spawned when an attach frame names none.
	DefaultShell string

	// AuthTimeout bounds the AwaitingAuth state; tests shorten it.
	AuthTimeout time.Duration
}

// NewHandler creates a WebSocket handler over the given collaborators.
// turns may be nil when no agent runner is wired; session intents then
// answer with an error event.
func NewHandler(authenticator *auth.Authenticator, w *watcher.Watcher, registry *pty.Registry, turns TurnController) *Handler {
	return &Handler{
		auth:         authenticator,
		watcher:      w,
		registry:     registry,
		turns:        turns,
		DefaultShell: "/bin/bash",
		AuthTimeout:  DefaultAuthTimeout,
	}
}

// HandleChat upgrades and serves one session-channel connection: auth
// handshake, transcript replay via the watcher, then live tailing,
// with client intents forwarded to the turn controller.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	if !h.handshake(conn, auth.ClientIP(r)) {
		return nil
	}

	client := NewClient(conn)
	go client.writePump()

	messageLimit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			messageLimit = n
		}
	}

	h.watcher.Subscribe(sessionID, client, messageLimit)
	h.readChatFrames(client, conn, sessionID)
	return nil
}

// readChatFrames pumps session-channel frames until the connection
// dies. Malformed frames after auth answer with an error event; the
// connection stays open.
func (h *Handler) readChatFrames(client *Client, conn *websocket.Conn, sessionID string) {
	defer func() {
		h.watcher.Unsubscribe(sessionID, client)
		client.Close()
		conn.Close()
	}()

	armHeartbeat(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: session channel read error: %v", err)
			}
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			client.SendEvent(&model.Event{Type: model.EventError, Error: "malformed frame"})
			continue
		}

		switch frame.Type {
		case model.FramePrompt:
			h.forwardIntent(client, func() error { return h.turns.SubmitPrompt(sessionID, frame.Text) })
		case model.FrameApprove:
			h.forwardIntent(client, func() error { return h.turns.Approve(sessionID, frame.RequestID) })
		case model.FrameDeny:
			h.forwardIntent(client, func() error { return h.turns.Deny(sessionID, frame.RequestID) })
		case model.FrameInterrupt:
			h.forwardIntent(client, func() error { return h.turns.Interrupt(sessionID) })
		default:
			client.SendEvent(&model.Event{Type: model.EventError, Error: "unknown frame type: " + string(frame.Type)})
		}
	}
}

// forwardIntent relays one session intent to the turn controller.
func (h *Handler) forwardIntent(client *Client, call func() error) {
	if h.turns == nil {
		client.SendEvent(&model.Event{Type: model.EventError, Error: "no agent runner configured"})
		return
	}
	if err := call(); err != nil {
		client.SendEvent(&model.Event{Type: model.EventError, Error: err.Error()})
	}
}

// HandleTerminal upgrades and serves one terminal-channel connection.
func (h *Handler) HandleTerminal(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	if !h.handshake(conn, auth.ClientIP(r)) {
		return nil
	}

	client := NewClient(conn)
	go client.writePump()
	h.readTerminalFrames(client, conn)
	return nil
}

// readTerminalFrames pumps terminal-channel frames. The connection
// holds at most one PTY attachment; every attach frame answers with
// the resolved session ID and a freshness flag.
func (h *Handler) readTerminalFrames(client *Client, conn *websocket.Conn) {
	var (
		att        *pty.Attachment
		cancelExit func()
	)

	detach := func() {
		if cancelExit != nil {
			cancelExit()
			cancelExit = nil
		}
		if att != nil {
			h.registry.Detach(att)
			att = nil
		}
	}

	defer func() {
		detach()
		client.Close()
		conn.Close()
	}()

	armHeartbeat(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: terminal channel read error: %v", err)
			}
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			client.SendEvent(&model.Event{Type: model.EventError, Error: "malformed frame"})
			continue
		}

		switch frame.Type {
		case model.FrameAttach:
			detach()
			att, cancelExit = h.attachTerminal(client, &frame)

		case model.FrameInput:
			if att == nil {
				client.SendEvent(&model.Event{Type: model.EventError, Error: "not attached"})
				continue
			}
			if err := h.registry.Write(att.SessionID(), []byte(frame.Data)); err != nil {
				client.SendEvent(&model.Event{Type: model.EventError, Error: err.Error()})
			}

		case model.FrameResize:
			if att == nil {
				client.SendEvent(&model.Event{Type: model.EventError, Error: "not attached"})
				continue
			}
			cols := clamp(frame.Cols, 1, maxCols)
			rows := clamp(frame.Rows, 1, maxRows)
			if err := h.registry.Resize(att.SessionID(), rows, cols); err != nil {
				client.SendEvent(&model.Event{Type: model.EventError, Error: err.Error()})
			}

		default:
			client.SendEvent(&model.Event{Type: model.EventError, Error: "unknown frame type: " + string(frame.Type)})
		}
	}
}

// attachTerminal resolves an attach frame: reattach to the named live
// session, or fall back to a fresh spawn when the ID is absent or
// dead. The buffered history is replayed as one output event before
// live streaming resumes.
func (h *Handler) attachTerminal(client *Client, frame *model.Frame) (*pty.Attachment, func()) {
	var (
		att   *pty.Attachment
		fresh bool
	)

	if frame.SessionID != "" {
		att, _ = h.registry.Attach(frame.SessionID)
	}
	if att == nil {
		shell := frame.Shell
		if shell == "" {
			shell = h.DefaultShell
		}
		sess, err := h.registry.Create(shell, frame.Cwd)
		if err != nil {
			client.SendEvent(&model.Event{Type: model.EventError, Error: "failed to start terminal: " + err.Error()})
			return nil, nil
		}
		att, _ = h.registry.Attach(sess.ID)
		if att == nil {
			client.SendEvent(&model.Event{Type: model.EventError, Error: "terminal exited immediately"})
			return nil, nil
		}
		fresh = true
	}

	client.SendEvent(&model.Event{Type: model.EventAttached, SessionID: att.SessionID(), Fresh: fresh})
	if len(att.Replay) > 0 {
		client.SendEvent(&model.Event{Type: model.EventOutput, Data: string(att.Replay)})
	}

	exitCh, cancelExit, ok := h.registry.NotifyExit(att.SessionID())
	if !ok {
		// Exited between attach and registration; the closed output
		// channel ends the stream below.
		exitCh, cancelExit = nil, nil
	}

	go streamOutput(client, att, exitCh)
	return att, cancelExit
}

// streamOutput pumps PTY output chunks to the client. When the output
// channel closes it either reports the exit (process died) or returns
// quietly (listener detached, exit notification canceled).
func streamOutput(client *Client, att *pty.Attachment, exitCh <-chan pty.ExitStatus) {
	for data := range att.Output {
		client.SendEvent(&model.Event{Type: model.EventOutput, Data: string(data)})
	}

	if exitCh == nil {
		return
	}
	status, ok := <-exitCh
	if !ok {
		return
	}
	code := status.Code
	client.SendEvent(&model.Event{Type: model.EventExit, Code: &code})
	client.SendClose(websocket.CloseNormalClosure, "process exited")
}

// handshake drives the AwaitingAuth state: exactly one auth frame
// within the timeout. Failure closes the connection with the matching
// code and reports whether the caller may proceed.
func (h *Handler) handshake(conn *websocket.Conn, ip string) bool {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.AuthTimeout))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		h.reject(conn, CloseUnauthorized, preAuthCloseReason(err))
		return false
	}

	var frame model.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.reject(conn, CloseMalformedAuth, "malformed auth payload")
		return false
	}
	if frame.Type != model.FrameAuth {
		h.reject(conn, CloseUnauthorized, "unauthorized")
		return false
	}

	switch h.auth.AuthenticateToken(frame.Token, ip) {
	case auth.ResultOK:
		return true
	case auth.ResultRateLimited:
		h.reject(conn, CloseRateLimited, "rate_limited")
		return false
	default:
		h.reject(conn, CloseUnauthorized, "unauthorized")
		return false
	}
}

// preAuthCloseReason names why the handshake read failed. Only a
// deadline expiry is the peer sitting silent through the auth window;
// a dropped connection or oversized frame is an aborted handshake, not
// a timeout.
func preAuthCloseReason(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "auth timeout"
	}
	return "unauthorized"
}

// reject closes a pre-auth connection with the given close code.
func (h *Handler) reject(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

// armHeartbeat configures dead-peer detection: the read deadline only
// survives as long as pongs keep arriving for the pings writePump sends.
func armHeartbeat(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

func clamp(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
