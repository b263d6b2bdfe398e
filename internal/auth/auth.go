// Package auth validates bearer tokens for HTTP requests and WebSocket
// upgrades, rate-limiting repeated failures per client IP.
package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agent-relay/backend/internal/model"
)

const (
	// DefaultFailureWindow is the trailing window over which failed
	// attempts count against an IP.
	DefaultFailureWindow = 15 * time.Minute

	// DefaultMaxFailures is the number of failures within the window
	// that blocks further attempts from an IP.
	DefaultMaxFailures = 10

	// DefaultSweepInterval is how often fully-expired IPs are evicted.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultMaxTrackedIPs bounds the failure map under flood. Once
	// reached, failures from previously unseen IPs are not recorded.
	DefaultMaxTrackedIPs = 10000
)

// Result is the outcome of a token check. RateLimited is distinct from
// InvalidToken so clients can back off instead of retrying credentials.
type Result int

const (
	ResultOK Result = iota
	ResultInvalidToken
	ResultRateLimited
)

// Authenticator validates a shared bearer token and tracks failed
// attempts per IP.
type Authenticator struct {
	token []byte

	mu       sync.Mutex
	failures map[string][]time.Time

	window        time.Duration
	maxFailures   int
	maxTrackedIPs int
	sweepInterval time.Duration

	// now is replaceable in tests.
	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates an Authenticator for the given shared token. An empty
// token is a misconfiguration and is rejected; callers should treat it
// as fatal at startup.
func New(token string) (*Authenticator, error) {
	if token == "" {
		return nil, model.ErrMissingToken
	}
	return &Authenticator{
		token:         []byte(token),
		failures:      make(map[string][]time.Time),
		window:        DefaultFailureWindow,
		maxFailures:   DefaultMaxFailures,
		maxTrackedIPs: DefaultMaxTrackedIPs,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		stop:          make(chan struct{}),
	}, nil
}

// Start begins the periodic sweep that evicts IPs whose failures have
// all aged out of the window.
func (a *Authenticator) Start() {
	go func() {
		ticker := time.NewTicker(a.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stop:
				return
			case <-ticker.C:
				a.sweep()
			}
		}
	}()
}

// Stop terminates the sweep goroutine.
func (a *Authenticator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// AuthenticateRequest checks the bearer token on an HTTP request.
// The token is taken from the Authorization header or, for browser
// WebSocket clients that cannot set headers, the "token" query param.
func (a *Authenticator) AuthenticateRequest(r *http.Request) Result {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}
	return a.AuthenticateToken(token, ClientIP(r))
}

// AuthenticateToken checks a token for a client IP. An IP at or over
// the failure threshold inside the window is rejected before any token
// comparison.
func (a *Authenticator) AuthenticateToken(token, ip string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.recentFailuresLocked(ip, now) >= a.maxFailures {
		return ResultRateLimited
	}

	if a.compare(token) {
		return ResultOK
	}

	a.recordFailureLocked(ip, now)
	return ResultInvalidToken
}

// compare is constant-time in token content. A length mismatch
// short-circuits; leaking the secret's length is acceptable.
func (a *Authenticator) compare(token string) bool {
	if len(token) != len(a.token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), a.token) == 1
}

func (a *Authenticator) recentFailuresLocked(ip string, now time.Time) int {
	cutoff := now.Add(-a.window)
	count := 0
	for _, t := range a.failures[ip] {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

func (a *Authenticator) recordFailureLocked(ip string, now time.Time) {
	if _, tracked := a.failures[ip]; !tracked && len(a.failures) >= a.maxTrackedIPs {
		// Map is full: stop recording new IPs so memory stays bounded.
		// Existing offenders keep being tracked.
		return
	}
	a.failures[ip] = append(a.failures[ip], now)
}

// sweep evicts IPs whose every recorded failure has left the window.
func (a *Authenticator) sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.window)
	for ip, times := range a.failures {
		live := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				live = append(live, t)
			}
		}
		if len(live) == 0 {
			delete(a.failures, ip)
		} else {
			a.failures[ip] = live
		}
	}
}

// TrackedIPs returns the number of IPs currently holding failure records.
func (a *Authenticator) TrackedIPs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.failures)
}

// ClientIP extracts the client address of a request, without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
