package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-relay/backend/internal/model"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New("secret-token")
	require.NoError(t, err)
	return a
}

func TestNew_EmptyTokenRejected(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, model.ErrMissingToken)
}

func TestAuthenticateToken_Basic(t *testing.T) {
	a := newTestAuthenticator(t)

	assert.Equal(t, ResultOK, a.AuthenticateToken("secret-token", "10.0.0.1"))
	assert.Equal(t, ResultInvalidToken, a.AuthenticateToken("wrong", "10.0.0.1"))
	assert.Equal(t, ResultInvalidToken, a.AuthenticateToken("", "10.0.0.1"))
}

func TestAuthenticateToken_RateLimitBlocksValidToken(t *testing.T) {
	a := newTestAuthenticator(t)

	for i := 0; i < DefaultMaxFailures; i++ {
		assert.Equal(t, ResultInvalidToken, a.AuthenticateToken("wrong", "10.0.0.1"))
	}

	// The correct token no longer helps this IP.
	assert.Equal(t, ResultRateLimited, a.AuthenticateToken("secret-token", "10.0.0.1"))
	assert.Equal(t, ResultRateLimited, a.AuthenticateToken("wrong", "10.0.0.1"))

	// Other IPs are unaffected.
	assert.Equal(t, ResultOK, a.AuthenticateToken("secret-token", "10.0.0.2"))
}

func TestAuthenticateToken_WindowExpiry(t *testing.T) {
	a := newTestAuthenticator(t)

	current := time.Now()
	a.now = func() time.Time { return current }

	for i := 0; i < DefaultMaxFailures; i++ {
		a.AuthenticateToken("wrong", "10.0.0.1")
	}
	assert.Equal(t, ResultRateLimited, a.AuthenticateToken("secret-token", "10.0.0.1"))

	// Once the failures age out of the window the IP recovers.
	current = current.Add(DefaultFailureWindow + time.Second)
	assert.Equal(t, ResultOK, a.AuthenticateToken("secret-token", "10.0.0.1"))
}

func TestSweep_EvictsExpiredIPs(t *testing.T) {
	a := newTestAuthenticator(t)

	current := time.Now()
	a.now = func() time.Time { return current }

	a.AuthenticateToken("wrong", "10.0.0.1")
	a.AuthenticateToken("wrong", "10.0.0.2")
	assert.Equal(t, 2, a.TrackedIPs())

	current = current.Add(DefaultFailureWindow + time.Second)
	a.AuthenticateToken("wrong", "10.0.0.2")
	a.sweep()

	// Only the IP with a fresh failure survives.
	assert.Equal(t, 1, a.TrackedIPs())
}

func TestRecordFailure_TrackedIPCap(t *testing.T) {
	a := newTestAuthenticator(t)
	a.maxTrackedIPs = 3

	for i := 0; i < 5; i++ {
		a.AuthenticateToken("wrong", fmt.Sprintf("10.0.0.%d", i))
	}
	assert.Equal(t, 3, a.TrackedIPs())

	// Known offenders keep accumulating failures even when full.
	for i := 0; i < DefaultMaxFailures; i++ {
		a.AuthenticateToken("wrong", "10.0.0.0")
	}
	assert.Equal(t, ResultRateLimited, a.AuthenticateToken("secret-token", "10.0.0.0"))

	// Unseen IPs are not recorded but are still validated.
	assert.Equal(t, ResultOK, a.AuthenticateToken("secret-token", "10.0.0.99"))
	assert.Equal(t, 3, a.TrackedIPs())
}

func TestAuthenticateRequest_HeaderAndQuery(t *testing.T) {
	a := newTestAuthenticator(t)

	r := httptest.NewRequest(http.MethodGet, "/api/terminals", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("Authorization", "Bearer secret-token")
	assert.Equal(t, ResultOK, a.AuthenticateRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws/terminal?token=secret-token", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, ResultOK, a.AuthenticateRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/api/terminals", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, ResultInvalidToken, a.AuthenticateRequest(r))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.5:50000"
	assert.Equal(t, "192.168.1.5", ClientIP(r))

	r.RemoteAddr = "192.168.1.5"
	assert.Equal(t, "192.168.1.5", ClientIP(r))
}
