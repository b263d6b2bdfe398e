//go:build windows

package pty

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The shell must be attached to the pseudo console: output it produces
// has to arrive on the console's output pipe.
func TestSpawn_ShellOutputReachesConsolePipe(t *testing.T) {
	proc, err := Spawn(SpawnConfig{Shell: "cmd.exe", Rows: 24, Cols: 80})
	require.NoError(t, err)
	defer proc.Close()
	defer proc.Kill()

	_, err = proc.Write([]byte("echo conpty-marker\r\n"))
	require.NoError(t, err)

	out := make(chan string, 1)
	go func() {
		var b strings.Builder
		buf := make([]byte, 4096)
		for !strings.Contains(b.String(), "conpty-marker") {
			n, err := proc.Read(buf)
			if n > 0 {
				b.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
		out <- b.String()
	}()

	select {
	case got := <-out:
		assert.Contains(t, got, "conpty-marker")
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for shell output; child not bound to console")
	}
}

func TestSpawn_ExitCodePropagates(t *testing.T) {
	proc, err := Spawn(SpawnConfig{Shell: "cmd.exe", Args: []string{"/c", "exit", "7"}, Rows: 24, Cols: 80})
	require.NoError(t, err)
	defer proc.Close()

	code, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}
