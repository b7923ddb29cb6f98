package coachauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/panyam/coachauth/internal/mockapi"
)

func newTestClient(t *testing.T, b *backend, storage Storage, opts ...ClientOption) *AuthClient {
	t.Helper()
	opts = append([]ClientOption{WithLogger(quietLogger())}, opts...)
	c, err := NewAuthClient(b.srv.URL, storage, opts...)
	if err != nil {
		t.Fatalf("NewAuthClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientLoginAndCall(t *testing.T) {
	b := newBackend(t)
	b.api.AddClient("Alice", b.user.ID)
	storage := NewMemoryStorage()
	c := newTestClient(t, b, storage)

	user, err := c.Login(context.Background(), "coach@example.com", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user == nil || user.ID != b.user.ID || user.Role != RoleCoach {
		t.Errorf("Login() user = %+v", user)
	}
	if !c.Session().IsAuthenticated() {
		t.Fatal("session should be logged in")
	}
	if keys, _ := storage.Keys(); len(keys) != 2 {
		t.Errorf("storage keys = %v, want auth and user", keys)
	}

	var out struct {
		Clients []mockapi.Client `json:"clients"`
	}
	if err := c.GetJSON(context.Background(), "/clients", &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(out.Clients) != 1 || out.Clients[0].Name != "Alice" {
		t.Errorf("clients = %+v", out.Clients)
	}
}

func TestClientLoginFailureKeepsSession(t *testing.T) {
	b := newBackend(t)
	c := newTestClient(t, b, nil)
	if _, err := c.Login(context.Background(), "coach@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	before := c.Session().Credentials()

	_, err := c.Login(context.Background(), "coach@example.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Login() error = %v, want 401 *APIError", err)
	}
	if apiErr.Message != "Invalid email or password" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if after := c.Session().Credentials(); after == nil || *after != *before {
		t.Error("a failed login must leave the existing session alone")
	}
}

func TestClientLogout(t *testing.T) {
	b := newBackend(t)
	storage := NewMemoryStorage()
	c := newTestClient(t, b, storage)
	c.Login(context.Background(), "coach@example.com", "secret")

	if err := c.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if c.Session().IsAuthenticated() {
		t.Error("session should be logged out")
	}
	if keys, _ := storage.Keys(); len(keys) != 0 {
		t.Errorf("storage keys = %v, want none", keys)
	}
}

func TestClientRestoresSessionFromStorage(t *testing.T) {
	b := newBackend(t)
	storage := NewMemoryStorage()
	first := newTestClient(t, b, storage)
	if _, err := first.Login(context.Background(), "coach@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	second := newTestClient(t, b, storage)
	if !second.Session().IsAuthenticated() {
		t.Fatal("second client should restore the stored session")
	}
	if u := second.Session().User(); u == nil || u.ID != b.user.ID {
		t.Errorf("restored user = %+v", u)
	}
	if err := second.GetJSON(context.Background(), "/users/me", &UserProfile{}); err != nil {
		t.Errorf("GetJSON() error = %v", err)
	}
}

func TestClientRefreshesBeforeExpiry(t *testing.T) {
	b := newBackend(t)
	storage := NewMemoryStorage()
	c := newTestClient(t, b, storage, WithRefreshThreshold(2*time.Hour))
	if _, err := c.Login(context.Background(), "coach@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	old := c.Session().Credentials()

	if err := c.GetJSON(context.Background(), "/users/me", &UserProfile{}); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if n := b.api.RefreshCalls(); n != 1 {
		t.Errorf("RefreshCalls() = %d, want 1", n)
	}
	cur := c.Session().Credentials()
	if cur.RefreshToken == old.RefreshToken {
		t.Error("refresh token should have been rotated")
	}
	stored, _ := NewCredentialStore(storage).Credentials()
	if stored == nil || *stored != *cur {
		t.Errorf("stored = %+v, want %+v", stored, cur)
	}
}

func TestClientForcedLogoutCallback(t *testing.T) {
	b := newBackend(t)
	logouts := &logoutRecorder{}
	c := newTestClient(t, b, nil, WithOnForcedLogout(logouts.record), WithSignInPath("/auth/sign-in"))
	c.Login(context.Background(), "coach@example.com", "secret")
	b.api.RevokeAll(b.user.ID)

	err := c.GetJSON(context.Background(), "/clients", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GetJSON() error = %v, want 401", err)
	}
	events := logouts.Events()
	if len(events) != 1 || events[0].Reason != ReasonUnauthorized || events[0].RedirectTo != "/auth/sign-in" {
		t.Errorf("events = %+v", events)
	}
}

func TestClientPasswordReset(t *testing.T) {
	b := newBackend(t)
	c := newTestClient(t, b, nil)

	if err := c.RequestPasswordReset(context.Background(), "coach@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if got := b.api.ResetRequests(); len(got) != 1 || got[0] != "coach@example.com" {
		t.Errorf("ResetRequests() = %v", got)
	}

	var apiErr *APIError
	if err := c.RequestPasswordReset(context.Background(), ""); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("empty email error = %v, want 400", err)
	}
}

func TestNewAuthClientRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "api.example.com", "ftp://api.example.com", "http://", "://bad"} {
		if _, err := NewAuthClient(raw, nil); !errors.Is(err, ErrInvalidBaseURL) {
			t.Errorf("NewAuthClient(%q) error = %v, want ErrInvalidBaseURL", raw, err)
		}
	}
}

func TestParseBaseURL(t *testing.T) {
	u, err := ParseBaseURL("https://api.example.com/coach/?x=1#frag")
	if err != nil {
		t.Fatalf("ParseBaseURL() error = %v", err)
	}
	if got := u.String(); got != "https://api.example.com/coach" {
		t.Errorf("ParseBaseURL() = %q", got)
	}
}

func TestClientURLs(t *testing.T) {
	c, err := NewAuthClient("https://api.example.com/base/", nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewAuthClient() error = %v", err)
	}
	if got := c.URL("/clients"); got != "https://api.example.com/base/api/v1/clients" {
		t.Errorf("URL() = %q", got)
	}

	req, err := c.NewRequest(context.Background(), http.MethodPost, "/clients?page=2", map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if req.URL.String() != "https://api.example.com/base/api/v1/clients?page=2" {
		t.Errorf("request URL = %s", req.URL)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Error("JSON body should set Content-Type")
	}

	classifier := c.Transport().Classifier
	login, _ := http.NewRequest(http.MethodPost, "https://api.example.com/base/api/v1/auth/login", nil)
	if classifier.Classify(login) != RouteLogin {
		t.Error("login endpoint should classify as login")
	}
}

func TestClientCustomPrefix(t *testing.T) {
	api := mockapi.New()
	api.Prefix = "/v2"
	api.Logger = quietLogger()
	api.AddUser("coach@example.com", "secret", "Coach", "COACH")
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	c, err := NewAuthClient(srv.URL, nil, WithAPIPrefix("/v2"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewAuthClient() error = %v", err)
	}
	if _, err := c.Login(context.Background(), "coach@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := c.GetJSON(context.Background(), "/users/me", &UserProfile{}); err != nil {
		t.Errorf("GetJSON() error = %v", err)
	}
}

func TestClientWithTracing(t *testing.T) {
	b := newBackend(t)
	c := newTestClient(t, b, nil, WithTracing())
	if _, err := c.Login(context.Background(), "coach@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := c.GetJSON(context.Background(), "/users/me", &UserProfile{}); err != nil {
		t.Errorf("GetJSON() error = %v", err)
	}
}

func TestSessionTokenSource(t *testing.T) {
	b := newBackend(t)
	c := newTestClient(t, b, nil)
	ts := c.Session().TokenSource(context.Background())

	if _, err := ts.Token(); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("Token() error = %v, want ErrNotLoggedIn", err)
	}

	c.Login(context.Background(), "coach@example.com", "secret")
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != c.Session().Credentials().AccessToken || tok.Type() != "Bearer" {
		t.Errorf("Token() = %+v", tok)
	}
	if time.Until(tok.Expiry) < 50*time.Minute {
		t.Errorf("Expiry = %v, want about an hour out", tok.Expiry)
	}

	client := &http.Client{Transport: &oauth2.Transport{Source: ts}}
	resp, err := client.Get(b.url("/users/me"))
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
