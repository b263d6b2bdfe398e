package buffer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_Write(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		writes   []string
		want     string
	}{
		{"single write fits", 8, []string{"abc"}, "abc"},
		{"fills exactly", 6, []string{"abc", "def"}, "abcdef"},
		{"overflow drops oldest", 6, []string{"abcdef", "gh"}, "cdefgh"},
		{"write larger than capacity keeps tail", 4, []string{"0123456789"}, "6789"},
		{"overflow across wrap point", 5, []string{"abcd", "efg", "hi"}, "efghi"},
		{"empty writes are no-ops", 4, []string{"", "ab", ""}, "ab"},
		{"repeated overwrite", 3, []string{"a", "b", "c", "d", "e"}, "cde"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.capacity)
			for _, w := range tt.writes {
				n, err := r.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n, "Write must report the full input length")
			}
			assert.Equal(t, tt.want, string(r.Snapshot()))
			assert.Equal(t, len(tt.want), r.Len())
		})
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	for _, capacity := range []int{0, -3} {
		r := New(capacity)
		assert.Equal(t, 1, r.Cap())
		r.Write([]byte("xy"))
		assert.Equal(t, "y", string(r.Snapshot()))
	}
}

func TestRing_SnapshotIsACopy(t *testing.T) {
	r := New(8)
	r.Write([]byte("data"))

	snap := r.Snapshot()
	snap[0] = '!'
	assert.Equal(t, "data", string(r.Snapshot()))
}

func TestRing_SnapshotEmpty(t *testing.T) {
	r := New(8)
	assert.Nil(t, r.Snapshot())
	assert.Equal(t, 0, r.Len())
}

func TestRing_Reset(t *testing.T) {
	r := New(4)
	r.Write([]byte("abcdef")) // wrapped state
	r.Reset()

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Snapshot())

	r.Write([]byte("gh"))
	assert.Equal(t, "gh", string(r.Snapshot()))
}

func TestRing_LargeSequentialWrites(t *testing.T) {
	r := New(16)
	var all strings.Builder
	for i := 0; i < 100; i++ {
		chunk := strings.Repeat(string(rune('a'+i%26)), i%7+1)
		r.Write([]byte(chunk))
		all.WriteString(chunk)
	}
	full := all.String()
	assert.Equal(t, full[len(full)-16:], string(r.Snapshot()))
}
