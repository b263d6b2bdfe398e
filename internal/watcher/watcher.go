// Package watcher tails append-only transcript files on one shared
// timer and fans new messages out to WebSocket subscribers, replaying
// history before switching each subscriber to live tailing.
package watcher

import (
	"bufio"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/agent-relay/backend/internal/model"
	"github.com/agent-relay/backend/internal/transcript"
)

// Subscriber receives outbound events for a watched session. The
// implementation must not block; ws.Client queues into a buffered
// send channel.
type Subscriber interface {
	SendEvent(ev *model.Event)
}

// watched is the per-session delivery state. At most one exists per
// session ID.
type watched struct {
	id           string
	filePath     string
	byteOffset   int64
	messageIndex int
	subscribers  map[Subscriber]struct{}

	// suppress is reference-counted: polling keeps advancing the
	// offset while > 0 but skips delivery, because another path is
	// pushing the same content directly. Nested suppress calls must
	// be balanced by the same number of unsuppress calls.
	suppress int
}

// Watcher owns all watched sessions and the shared poll timer.
type Watcher struct {
	adapter transcript.Adapter

	mu       sync.Mutex
	sessions map[string]*watched
	running  bool
	stop     chan struct{}
}

// New creates a Watcher backed by the given transcript adapter.
func New(adapter transcript.Adapter) *Watcher {
	return &Watcher{
		adapter:  adapter,
		sessions: make(map[string]*watched),
	}
}

// Start begins the shared poll timer. Each tick runs one full cycle
// synchronously, so a cycle never overlaps the previous one.
func (w *Watcher) Start(interval time.Duration) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	stop := w.stop
	w.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				w.pollOnce()
			}
		}
	}()
}

// Stop halts the poll timer. Watched sessions and subscribers are kept.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stop)
}

// Subscribe replays the transcript tail to sub (oldest-first, capped
// to the most recent messageLimit when > 0), sends replay_complete,
// then registers sub for live delivery. A missing transcript yields an
// empty replay; the session may exist before anything is written.
func (w *Watcher) Subscribe(sessionID string, sub Subscriber, messageLimit int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ws := w.ensureLocked(sessionID)

	msgs, total, end, err := w.readFromStart(ws)
	if err != nil {
		log.Printf("watcher: replay read failed for session %s: %v", sessionID, err)
	}
	if messageLimit > 0 && len(msgs) > messageLimit {
		msgs = msgs[len(msgs)-messageLimit:]
	}

	for i := range msgs {
		sub.SendEvent(&model.Event{Type: model.EventMessage, Message: &msgs[i]})
	}
	oldest := total - len(msgs)
	sub.SendEvent(&model.Event{
		Type:        model.EventReplayComplete,
		Total:       &total,
		OldestIndex: &oldest,
	})

	// The replay consumed the file up to its last complete line;
	// resumed polling must not deliver those bytes again.
	if end > ws.byteOffset {
		ws.byteOffset = end
	}
	if total > ws.messageIndex {
		ws.messageIndex = total
	}

	ws.subscribers[sub] = struct{}{}
}

// Unsubscribe removes sub. The watch entry is dropped once no
// subscribers remain and no suppression is outstanding.
func (w *Watcher) Unsubscribe(sessionID string, sub Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ws, ok := w.sessions[sessionID]
	if !ok {
		return
	}
	delete(ws.subscribers, sub)
	w.maybeDropLocked(ws)
}

// Remap atomically moves a session's subscribers and offset state to a
// new ID, then tells the moved subscribers where they now live. Used
// when a provisional session ID is swapped for a provider-assigned one.
func (w *Watcher) Remap(oldID, newID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ws, ok := w.sessions[oldID]
	if !ok {
		return
	}
	delete(w.sessions, oldID)

	if existing, ok := w.sessions[newID]; ok {
		// Both IDs were watched: fold the moved subscribers into the
		// entry already tracking the new ID.
		for sub := range ws.subscribers {
			existing.subscribers[sub] = struct{}{}
		}
		existing.suppress += ws.suppress
		ws = existing
	} else {
		ws.id = newID
		if path, ok := w.adapter.SessionFilePath(newID); ok {
			ws.filePath = path
		} else {
			ws.filePath = ""
		}
		w.sessions[newID] = ws
	}

	redirect := &model.Event{Type: model.EventSessionRedirected, SessionID: newID}
	for sub := range ws.subscribers {
		sub.SendEvent(redirect)
	}
}

// SuppressPolling disables poll delivery for the session while another
// path pushes its content directly. Calls nest; see UnsuppressPolling.
// The entry is created if absent.
func (w *Watcher) SuppressPolling(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws := w.ensureLocked(sessionID)
	ws.suppress++
}

// UnsuppressPolling reverses one SuppressPolling call. Delivery
// resumes only when every outstanding suppression has been released.
func (w *Watcher) UnsuppressPolling(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws, ok := w.sessions[sessionID]
	if !ok || ws.suppress == 0 {
		return
	}
	ws.suppress--
	w.maybeDropLocked(ws)
}

// SyncOffsetToEnd consumes everything currently in the transcript
// without delivering it, so resumed polling does not replay content a
// direct-streaming window already sent.
func (w *Watcher) SyncOffsetToEnd(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws, ok := w.sessions[sessionID]
	if !ok {
		return
	}
	if err := w.pollSessionLocked(ws, false); err != nil {
		log.Printf("watcher: offset sync failed for session %s: %v", sessionID, err)
	}
}

// BroadcastToSubscribers pushes a non-file-derived event (status,
// approvals, deltas owned elsewhere) through the same per-client send
// path as polling, preserving relative ordering.
func (w *Watcher) BroadcastToSubscribers(sessionID string, ev *model.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws, ok := w.sessions[sessionID]
	if !ok {
		return
	}
	for sub := range ws.subscribers {
		sub.SendEvent(ev)
	}
}

// SubscriberCount reports the live subscriber count for a session.
func (w *Watcher) SubscriberCount(sessionID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws, ok := w.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(ws.subscribers)
}

// IsWatched reports whether a watch entry exists for the session.
func (w *Watcher) IsWatched(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.sessions[sessionID]
	return ok
}

// pollOnce runs one poll cycle over every watched session. The lock is
// held for the whole cycle: cycle N+1 cannot start before cycle N's
// reads resolve, and a session unsubscribed meanwhile is simply gone
// from the map. One session's read error never aborts the cycle.
func (w *Watcher) pollOnce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, ws := range w.sessions {
		if err := w.pollSessionLocked(ws, ws.suppress == 0); err != nil {
			log.Printf("watcher: poll failed for session %s, skipping this cycle: %v", id, err)
		}
	}
}

// pollSessionLocked reads bytes appended since the session's offset,
// normalizes each complete line, and (when deliver is set) broadcasts
// the derived messages. The offset advances only past complete lines;
// a partial tail is left for the next cycle.
func (w *Watcher) pollSessionLocked(ws *watched, deliver bool) error {
	if ws.filePath == "" {
		path, ok := w.adapter.SessionFilePath(ws.id)
		if !ok {
			return nil
		}
		ws.filePath = path
	}

	f, err := os.Open(ws.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= ws.byteOffset {
		return nil
	}
	if _, err := f.Seek(ws.byteOffset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(io.LimitReader(f, size-ws.byteOffset))
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return err
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			// Incomplete tail: the writer is mid-line. Leave it for
			// the next cycle.
			break
		}

		ws.byteOffset += int64(len(line))
		record := line[:len(line)-1]
		if len(record) == 0 {
			continue
		}
		if msg, ok := w.adapter.NormalizeLine(record, ws.messageIndex); ok {
			ws.messageIndex++
			if deliver {
				ev := &model.Event{Type: model.EventMessage, Message: msg}
				for sub := range ws.subscribers {
					sub.SendEvent(ev)
				}
			}
		}

		if err == io.EOF {
			break
		}
	}
	return nil
}

// readFromStart parses the whole transcript from byte zero for replay.
// It returns all normalized messages, the total count, and the byte
// offset of the last complete line.
func (w *Watcher) readFromStart(ws *watched) ([]model.ChatMessage, int, int64, error) {
	if ws.filePath == "" {
		path, ok := w.adapter.SessionFilePath(ws.id)
		if !ok {
			return nil, 0, 0, nil
		}
		ws.filePath = path
	}

	f, err := os.Open(ws.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, 0, nil
		}
		return nil, 0, 0, err
	}
	defer f.Close()

	var (
		msgs []model.ChatMessage
		end  int64
	)
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return msgs, len(msgs), end, err
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			break
		}

		end += int64(len(line))
		record := line[:len(line)-1]
		if len(record) > 0 {
			if msg, ok := w.adapter.NormalizeLine(record, len(msgs)); ok {
				msgs = append(msgs, *msg)
			}
		}

		if err == io.EOF {
			break
		}
	}
	return msgs, len(msgs), end, nil
}

// ensureLocked returns the watch entry for a session, creating it on
// first subscribe or first suppress.
func (w *Watcher) ensureLocked(sessionID string) *watched {
	ws, ok := w.sessions[sessionID]
	if !ok {
		ws = &watched{
			id:          sessionID,
			subscribers: make(map[Subscriber]struct{}),
		}
		if path, ok := w.adapter.SessionFilePath(sessionID); ok {
			ws.filePath = path
		}
		w.sessions[sessionID] = ws
	}
	return ws
}

// maybeDropLocked destroys the entry once nothing references it.
func (w *Watcher) maybeDropLocked(ws *watched) {
	if len(ws.subscribers) == 0 && ws.suppress == 0 {
		delete(w.sessions, ws.id)
	}
}
