//go:build !windows

package pty

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-relay/backend/internal/model"
)

const testShell = "/bin/sh"

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry("")
	t.Cleanup(r.Stop)
	return r
}

// waitForOutput drains an attachment until the marker shows up.
func waitForOutput(t *testing.T, att *Attachment, marker string) string {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(att.Replay)
	deadline := time.After(5 * time.Second)
	for {
		if strings.Contains(buf.String(), marker) {
			return buf.String()
		}
		select {
		case data, ok := <-att.Output:
			if !ok {
				t.Fatalf("output closed before %q appeared, got: %q", marker, buf.String())
			}
			buf.Write(data)
		case <-deadline:
			t.Fatalf("timed out waiting for %q, got: %q", marker, buf.String())
		}
	}
}

func TestCreate_RequiresShell(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("", "")
	assert.ErrorIs(t, err, model.ErrShellRequired)
}

func TestAttach_UnknownSession(t *testing.T) {
	r := newTestRegistry(t)
	att, ok := r.Attach("no-such-session")
	assert.False(t, ok)
	assert.Nil(t, att)
}

func TestWriteAndResize_UnknownSession(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.Write("no-such-session", []byte("x")), model.ErrSessionNotFound)
	assert.ErrorIs(t, r.Resize("no-such-session", 24, 80), model.ErrSessionNotFound)
	assert.ErrorIs(t, r.Kill("no-such-session"), model.ErrSessionNotFound)
}

func TestEchoRoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(testShell, "")
	require.NoError(t, err)
	defer r.Kill(sess.ID)

	att, ok := r.Attach(sess.ID)
	require.True(t, ok)
	defer r.Detach(att)

	require.NoError(t, r.Write(sess.ID, []byte("echo round-trip-marker\n")))
	waitForOutput(t, att, "round-trip-marker")
}

func TestReattach_ReplaysBufferedOutput(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(testShell, "")
	require.NoError(t, err)
	defer r.Kill(sess.ID)

	att1, ok := r.Attach(sess.ID)
	require.True(t, ok)
	require.NoError(t, r.Write(sess.ID, []byte("echo survives-detach\n")))
	waitForOutput(t, att1, "survives-detach")
	r.Detach(att1)

	// The session keeps running; a later attachment sees the history.
	att2, ok := r.Attach(sess.ID)
	require.True(t, ok)
	defer r.Detach(att2)
	assert.Contains(t, string(att2.Replay), "survives-detach")
}

func TestMultipleListeners_BothReceive(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(testShell, "")
	require.NoError(t, err)
	defer r.Kill(sess.ID)

	att1, ok := r.Attach(sess.ID)
	require.True(t, ok)
	defer r.Detach(att1)
	att2, ok := r.Attach(sess.ID)
	require.True(t, ok)
	defer r.Detach(att2)

	require.NoError(t, r.Write(sess.ID, []byte("echo fan-out-marker\n")))
	waitForOutput(t, att1, "fan-out-marker")
	waitForOutput(t, att2, "fan-out-marker")
}

func TestExit_NotifiesWaitersAndRemovesSession(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(testShell, "")
	require.NoError(t, err)

	ch1, cancel1, ok := r.NotifyExit(sess.ID)
	require.True(t, ok)
	defer cancel1()
	ch2, cancel2, ok := r.NotifyExit(sess.ID)
	require.True(t, ok)
	defer cancel2()

	require.NoError(t, r.Write(sess.ID, []byte("exit 3\n")))

	for _, ch := range []<-chan ExitStatus{ch1, ch2} {
		select {
		case status, open := <-ch:
			require.True(t, open)
			assert.Equal(t, 3, status.Code)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for exit notification")
		}
	}

	require.Eventually(t, func() bool { return r.Count() == 0 }, 5*time.Second, 10*time.Millisecond)

	// A dead session cannot be attached.
	att, ok := r.Attach(sess.ID)
	assert.False(t, ok)
	assert.Nil(t, att)
}

func TestExit_ClosesListenerChannels(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(testShell, "")
	require.NoError(t, err)

	att, ok := r.Attach(sess.ID)
	require.True(t, ok)

	exitCh, cancel, ok := r.NotifyExit(sess.ID)
	require.True(t, ok)
	defer cancel()

	require.NoError(t, r.Write(sess.ID, []byte("exit 0\n")))

	// Output ends, then the exit status is already available: the
	// notification is dispatched before the stream closes.
	deadline := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-att.Output:
			open = ok
		case <-deadline:
			t.Fatal("output channel never closed")
		}
	}

	status, open := <-exitCh
	require.True(t, open)
	assert.Equal(t, 0, status.Code)
}

func TestNotifyExit_CancelClosesChannel(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Create(testShell, "")
	require.NoError(t, err)
	defer r.Kill(sess.ID)

	ch, cancel, ok := r.NotifyExit(sess.ID)
	require.True(t, ok)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("canceled channel should be closed")
	}

	// Cancel is idempotent.
	cancel()
}

func TestNotifyExit_UnknownSession(t *testing.T) {
	r := newTestRegistry(t)
	_, _, ok := r.NotifyExit("no-such-session")
	assert.False(t, ok)
}

func TestSweepIdle_EvictsOnlyDetachedSessions(t *testing.T) {
	r := newTestRegistry(t)
	r.IdleTimeout = time.Millisecond

	idle, err := r.Create(testShell, "")
	require.NoError(t, err)

	active, err := r.Create(testShell, "")
	require.NoError(t, err)
	att, ok := r.Attach(active.ID)
	require.True(t, ok)
	defer r.Detach(att)
	defer r.Kill(active.ID)

	time.Sleep(10 * time.Millisecond)
	r.sweepIdle()

	require.Eventually(t, func() bool {
		_, gone := r.Attach(idle.ID)
		return !gone
	}, 5*time.Second, 10*time.Millisecond, "idle session should be evicted")

	_, stillUp := r.Attach(active.ID)
	assert.True(t, stillUp, "attached session must survive the sweep")
}

func TestStop_KillsEverything(t *testing.T) {
	r := NewRegistry("")

	_, err := r.Create(testShell, "")
	require.NoError(t, err)
	_, err = r.Create(testShell, "")
	require.NoError(t, err)

	r.Stop()
	require.Eventually(t, func() bool { return r.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}
