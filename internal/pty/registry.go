package pty

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-relay/backend/internal/buffer"
	"github.com/agent-relay/backend/internal/logger"
	"github.com/agent-relay/backend/internal/model"
)

const (
	// DefaultBufferSize is the per-session replay buffer capacity (64KB).
	DefaultBufferSize = 64 * 1024

	// DefaultReadBufferSize is the buffer size for reading PTY output.
	DefaultReadBufferSize = 4096

	// DefaultIdleTimeout is how long a session may sit with zero
	// attachments before the idle sweeper evicts it.
	DefaultIdleTimeout = 30 * time.Minute

	// idleSweepPeriod is how often the sweeper checks for idle sessions.
	idleSweepPeriod = time.Minute

	// attachmentDepth is the output channel capacity per attachment.
	// A listener that falls this far behind starts losing chunks.
	attachmentDepth = 64
)

// ExitStatus is delivered exactly once to every registered exit waiter.
type ExitStatus struct {
	Code int
	Err  error
}

// Attachment is one live listener on a session's output.
type Attachment struct {
	// Replay holds everything the session buffered before this
	// attachment was made.
	Replay []byte

	// Output receives chunks produced after attachment. It is closed
	// on detach and on process exit.
	Output <-chan []byte

	sessionID string
	key       int
	ch        chan []byte
}

// SessionID returns the session this attachment listens on.
func (a *Attachment) SessionID() string {
	return a.sessionID
}

// Recorder persists terminal session lifecycle transitions. It is
// optional; a nil Recorder disables persistence.
type Recorder interface {
	Create(ctx context.Context, sess *model.TerminalSession) error
	UpdateStatus(ctx context.Context, id string, status model.TerminalStatus, exitCode *int) error
}

// Session is one live shell process, owned by the Registry
// independently of any connection so reconnects resume rather than
// restart.
type Session struct {
	ID    string
	Shell string
	Cwd   string

	proc *Process
	buf  *buffer.Ring
	log  *logger.AsciinemaLogger

	mu          sync.Mutex
	listeners   map[int]chan []byte
	nextKey     int
	exitWaiters map[int]chan ExitStatus
	nextWaiter  int
	exited      bool
	exitStatus  ExitStatus
	evicted     bool
	idleSince   time.Time
}

// Registry owns shell-process lifecycles: spawn, multi-listener output
// fan-out, exit notification, and idle eviction.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// BufferSize is the replay buffer capacity for each session.
	BufferSize int

	// LogDir is where session recordings are written; empty disables
	// recording.
	LogDir string

	// IdleTimeout is the zero-attachment lifetime before eviction.
	IdleTimeout time.Duration

	recorder Recorder

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry creates a PTY session registry.
func NewRegistry(logDir string) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		BufferSize:  DefaultBufferSize,
		LogDir:      logDir,
		IdleTimeout: DefaultIdleTimeout,
		stop:        make(chan struct{}),
	}
}

// SetRecorder configures lifecycle persistence.
func (r *Registry) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// Start launches the idle sweeper.
func (r *Registry) Start() {
	go func() {
		ticker := time.NewTicker(idleSweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweepIdle()
			}
		}
	}()
}

// Stop halts the sweeper and closes every live session.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.kill(false)
	}
}

// Create spawns a shell process and returns the new session. Spawn
// failure surfaces synchronously to the caller.
func (r *Registry) Create(shell, cwd string) (*Session, error) {
	if shell == "" {
		return nil, model.ErrShellRequired
	}

	if cwd != "" {
		expanded, err := expandHome(cwd)
		if err != nil {
			return nil, err
		}
		cwd = expanded
		if err := os.MkdirAll(cwd, 0755); err != nil {
			return nil, fmt.Errorf("failed to create working directory %s: %w", cwd, err)
		}
	}

	id := uuid.New().String()

	var castLogger *logger.AsciinemaLogger
	if r.LogDir != "" {
		var err error
		castLogger, err = logger.New(filepath.Join(r.LogDir, id+".cast"))
		if err != nil {
			return nil, fmt.Errorf("failed to create session recording: %w", err)
		}
		if err := castLogger.WriteHeader(80, 24); err != nil {
			castLogger.Close()
			return nil, fmt.Errorf("failed to write recording header: %w", err)
		}
	}

	proc, err := Spawn(SpawnConfig{
		Shell: shell,
		Env:   os.Environ(),
		Dir:   cwd,
		Rows:  24,
		Cols:  80,
	})
	if err != nil {
		if castLogger != nil {
			castLogger.Close()
		}
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	sess := &Session{
		ID:          id,
		Shell:       shell,
		Cwd:         cwd,
		proc:        proc,
		buf:         buffer.New(r.BufferSize),
		log:         castLogger,
		listeners:   make(map[int]chan []byte),
		exitWaiters: make(map[int]chan ExitStatus),
		idleSince:   time.Now(),
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	if r.recorder != nil {
		pid := proc.PID()
		record := &model.TerminalSession{
			ID:        id,
			Shell:     shell,
			Cwd:       cwd,
			Status:    model.TerminalStatusRunning,
			PID:       &pid,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if castLogger != nil {
			record.LogFilePath = filepath.Join(r.LogDir, id+".cast")
		}
		if err := r.recorder.Create(context.Background(), record); err != nil {
			log.Printf("pty: failed to persist session %s: %v", id, err)
		}
	}

	go sess.readLoop()
	go r.waitLoop(sess)

	return sess, nil
}

// Attach registers a new output listener. ok is false when no live
// session matches the ID. The attachment's Replay carries the buffered
// history; Output receives everything after it.
func (r *Registry) Attach(id string) (*Attachment, bool) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.exited {
		return nil, false
	}

	ch := make(chan []byte, attachmentDepth)
	key := sess.nextKey
	sess.nextKey++
	sess.listeners[key] = ch
	sess.idleSince = time.Time{}

	return &Attachment{
		Replay:    sess.buf.Snapshot(),
		Output:    ch,
		sessionID: id,
		key:       key,
		ch:        ch,
	}, true
}

// Detach removes one listener. The process persists with zero
// listeners until the idle sweeper evicts it.
func (r *Registry) Detach(att *Attachment) {
	if att == nil {
		return
	}
	r.mu.RLock()
	sess, ok := r.sessions[att.sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, live := sess.listeners[att.key]; !live {
		return
	}
	delete(sess.listeners, att.key)
	close(att.ch)
	if len(sess.listeners) == 0 {
		sess.idleSince = time.Now()
	}
}

// NotifyExit registers a one-shot exit waiter. The returned channel
// receives the exit status exactly once and is then closed; cancel
// deregisters it. ok is false for unknown sessions.
func (r *Registry) NotifyExit(id string) (<-chan ExitStatus, func(), bool) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	ch := make(chan ExitStatus, 1)
	if sess.exited {
		ch <- sess.exitStatus
		close(ch)
		return ch, func() {}, true
	}

	key := sess.nextWaiter
	sess.nextWaiter++
	sess.exitWaiters[key] = ch

	cancel := func() {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if _, live := sess.exitWaiters[key]; live {
			delete(sess.exitWaiters, key)
			close(ch)
		}
	}
	return ch, cancel, true
}

// Write forwards input to the session's PTY. An unknown session is a
// reported failure, not a fault.
func (r *Registry) Write(id string, data []byte) error {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	return sess.write(data)
}

// Resize changes the session's PTY window size.
func (r *Registry) Resize(id string, rows, cols uint16) error {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	return sess.resize(rows, cols)
}

// Kill terminates a session's process. The exit path dispatches
// notifications and removes the session.
func (r *Registry) Kill(id string) error {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	sess.kill(false)
	return nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// sweepIdle evicts sessions that have had zero attachments for longer
// than IdleTimeout.
func (r *Registry) sweepIdle() {
	cutoff := time.Now().Add(-r.IdleTimeout)

	r.mu.RLock()
	var idle []*Session
	for _, sess := range r.sessions {
		sess.mu.Lock()
		if !sess.exited && len(sess.listeners) == 0 &&
			!sess.idleSince.IsZero() && sess.idleSince.Before(cutoff) {
			idle = append(idle, sess)
		}
		sess.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, sess := range idle {
		log.Printf("pty: evicting idle session %s", sess.ID)
		sess.kill(true)
	}
}

// waitLoop waits for the process to exit, dispatches exit status to
// every waiter exactly once, and removes the session.
func (r *Registry) waitLoop(sess *Session) {
	code, err := sess.proc.Wait()

	sess.mu.Lock()
	sess.exited = true
	sess.exitStatus = ExitStatus{Code: code, Err: err}
	waiters := sess.exitWaiters
	sess.exitWaiters = make(map[int]chan ExitStatus)
	listeners := sess.listeners
	sess.listeners = make(map[int]chan []byte)
	evicted := sess.evicted
	sess.mu.Unlock()

	for _, ch := range waiters {
		ch <- sess.exitStatus
		close(ch)
	}
	for _, ch := range listeners {
		close(ch)
	}

	sess.proc.Close()
	if sess.log != nil {
		sess.log.Close()
	}

	r.mu.Lock()
	delete(r.sessions, sess.ID)
	r.mu.Unlock()

	if r.recorder != nil {
		status := model.TerminalStatusExited
		if evicted {
			status = model.TerminalStatusEvicted
		}
		exitCode := code
		if uerr := r.recorder.UpdateStatus(context.Background(), sess.ID, status, &exitCode); uerr != nil {
			log.Printf("pty: failed to update session %s status: %v", sess.ID, uerr)
		}
	}
}

// readLoop pumps PTY output into the replay buffer, the recording, and
// every attached listener. A listener whose channel is full loses the
// chunk; the others are unaffected.
func (s *Session) readLoop() {
	buf := make([]byte, DefaultReadBufferSize)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.buf.Write(data)
			if s.log != nil {
				s.log.WriteOutput(data)
			}

			s.mu.Lock()
			for _, ch := range s.listeners {
				select {
				case ch <- data:
				default:
				}
			}
			s.mu.Unlock()
		}
		if err != nil {
			// EOF and EIO both mean the process side closed.
			if err != io.EOF {
				log.Printf("pty: session %s read ended: %v", s.ID, err)
			}
			return
		}
	}
}

func (s *Session) write(data []byte) error {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return model.ErrSessionClosed
	}
	s.mu.Unlock()

	if _, err := s.proc.Write(data); err != nil {
		return fmt.Errorf("failed to write to PTY: %w", err)
	}
	if s.log != nil {
		s.log.WriteInput(data)
	}
	return nil
}

func (s *Session) resize(rows, cols uint16) error {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return model.ErrSessionClosed
	}
	s.mu.Unlock()
	return s.proc.Resize(rows, cols)
}

// kill terminates the process; waitLoop performs all cleanup.
func (s *Session) kill(evicted bool) {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	s.evicted = evicted
	s.mu.Unlock()
	s.proc.Kill()
}

// PID returns the shell's process ID.
func (s *Session) PID() int {
	return s.proc.PID()
}

// expandHome resolves a leading ~ in a path.
func expandHome(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	if path[1] == '/' {
		return home + path[1:], nil
	}
	return path, nil
}
