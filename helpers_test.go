package coachauth

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fakeClock is a settable clock for expiry tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func signClaims(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// tokenExpiringAt returns a signed token whose exp is at
func tokenExpiringAt(t *testing.T, at time.Time) string {
	t.Helper()
	return signClaims(t, jwt.MapClaims{"sub": "user-1", "exp": at.Unix(), "iat": at.Add(-time.Hour).Unix()})
}

// pairExpiringIn returns a credential pair whose access token expires d after clock's now
func pairExpiringIn(t *testing.T, clock *fakeClock, d time.Duration) CredentialPair {
	t.Helper()
	return CredentialPair{
		AccessToken:  tokenExpiringAt(t, clock.Now().Add(d)),
		RefreshToken: "refresh-" + d.String(),
	}
}

// quietLogger discards output while still exercising log calls
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// logoutRecorder collects forced logout notifications
type logoutRecorder struct {
	mu     sync.Mutex
	events []ForcedLogout
}

func (r *logoutRecorder) record(ev ForcedLogout) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *logoutRecorder) Events() []ForcedLogout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ForcedLogout(nil), r.events...)
}
