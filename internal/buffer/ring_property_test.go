package buffer

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// After any sequence of writes, the ring holds exactly the suffix of
// the concatenated input, capped to capacity.
func TestRing_SuffixProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("contents equal capped suffix of all writes", prop.ForAll(
		func(capacity int, chunks [][]byte) bool {
			r := New(capacity)
			var all []byte
			for _, chunk := range chunks {
				r.Write(chunk)
				all = append(all, chunk...)
			}

			want := all
			if len(want) > r.Cap() {
				want = want[len(want)-r.Cap():]
			}
			got := r.Snapshot()
			if len(want) == 0 {
				return len(got) == 0
			}
			return bytes.Equal(got, want)
		},
		gen.IntRange(1, 256),
		gen.SliceOf(gen.SliceOf(gen.UInt8Range(0, 255))),
	))

	properties.Property("length never exceeds capacity", prop.ForAll(
		func(capacity int, chunks [][]byte) bool {
			r := New(capacity)
			for _, chunk := range chunks {
				r.Write(chunk)
				if r.Len() > r.Cap() {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 64),
		gen.SliceOf(gen.SliceOf(gen.UInt8Range(0, 255))),
	))

	properties.TestingRun(t)
}
