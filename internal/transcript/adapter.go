// Package transcript resolves and normalizes append-only agent
// conversation transcripts for the session watcher.
package transcript

import (
	"github.com/agent-relay/backend/internal/model"
)

// Adapter maps session IDs to transcript files and normalizes raw
// transcript records into chat messages. Provider integrations supply
// their own implementation; JSONLStore is the default.
type Adapter interface {
	// SessionFilePath resolves the transcript location for a session.
	// The returned path may not exist yet. ok is false when the
	// adapter cannot map the session ID at all.
	SessionFilePath(sessionID string) (path string, ok bool)

	// NormalizeLine converts one raw transcript line into a chat
	// message carrying the given index. ok is false for records that
	// do not surface as messages; such lines consume no index.
	NormalizeLine(line []byte, index int) (msg *model.ChatMessage, ok bool)

	// Messages returns a page of history ending just before the given
	// message index. before <= 0 means "from the newest message".
	Messages(sessionID string, before, limit int) (*model.MessagePage, error)
}
