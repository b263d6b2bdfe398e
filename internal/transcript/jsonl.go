package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agent-relay/backend/internal/model"
)

// maxLineSize bounds a single transcript record. Tool results with
// embedded file contents can run to a few megabytes.
const maxLineSize = 10 * 1024 * 1024

// JSONLStore is the default transcript adapter. Transcripts live at
// <dir>/<sessionID>.jsonl, one JSON record per line.
type JSONLStore struct {
	dir string
}

// NewJSONLStore creates a store rooted at dir.
func NewJSONLStore(dir string) *JSONLStore {
	return &JSONLStore{dir: dir}
}

// jsonlEntry is the on-disk shape of one transcript record.
type jsonlEntry struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

type entryMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SessionFilePath resolves <dir>/<sessionID>.jsonl. IDs containing
// path separators are rejected.
func (s *JSONLStore) SessionFilePath(sessionID string) (string, bool) {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") || sessionID != filepath.Base(sessionID) {
		return "", false
	}
	return filepath.Join(s.dir, sessionID+".jsonl"), true
}

// NormalizeLine parses one JSONL record. Only user and assistant
// entries with textual content become messages; summaries, tool
// results, and malformed lines are skipped without consuming an index.
func (s *JSONLStore) NormalizeLine(line []byte, index int) (*model.ChatMessage, bool) {
	var entry jsonlEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil, false
	}
	if entry.Type != "user" && entry.Type != "assistant" {
		return nil, false
	}

	var msg entryMessage
	if entry.Message != nil {
		if err := json.Unmarshal(entry.Message, &msg); err != nil {
			return nil, false
		}
	}

	role := msg.Role
	if role == "" {
		role = entry.Type
	}

	content, ok := flattenContent(msg.Content)
	if !ok || content == "" {
		return nil, false
	}

	out := &model.ChatMessage{
		Index:   index,
		Role:    role,
		Content: content,
	}
	if entry.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err == nil {
			out.Timestamp = t
		}
	}
	return out, true
}

// flattenContent accepts either a plain string or a block array and
// returns the concatenated text blocks.
func flattenContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, true
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", false
	}

	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" && blk.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(blk.Text)
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// Messages returns up to limit normalized messages whose index is
// below before, oldest-first. before <= 0 reads back from the newest
// message. A missing transcript yields an empty page.
func (s *JSONLStore) Messages(sessionID string, before, limit int) (*model.MessagePage, error) {
	path, ok := s.SessionFilePath(sessionID)
	if !ok {
		return nil, model.ErrSessionNotFound
	}

	all, err := s.readAll(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.MessagePage{Messages: []model.ChatMessage{}}, nil
		}
		return nil, err
	}

	end := len(all)
	if before > 0 && before < end {
		end = before
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}

	return &model.MessagePage{
		Messages: all[start:end],
		Total:    len(all),
		HasMore:  start > 0,
	}, nil
}

// readAll scans every complete line of the transcript and normalizes
// it, numbering messages from zero.
func (s *JSONLStore) readAll(path string) ([]model.ChatMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []model.ChatMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if msg, ok := s.NormalizeLine(line, len(out)); ok {
			out = append(out, *msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
