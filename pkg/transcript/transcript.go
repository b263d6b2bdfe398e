// Package transcript re-exports the transcript adapter contract for
// external provider integrations.
package transcript

import (
	"github.com/agent-relay/backend/internal/transcript"
)

// Re-export types from internal/transcript for external use
type (
	Adapter    = transcript.Adapter
	JSONLStore = transcript.JSONLStore
)

// NewJSONLStore creates the default JSONL-backed adapter rooted at dir.
func NewJSONLStore(dir string) *JSONLStore {
	return transcript.NewJSONLStore(dir)
}
