package mockapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func post(t *testing.T, url string, body any, header map[string]string) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return resp
}

func get(t *testing.T, url, bearer string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	return resp
}

type tokenBody struct {
	AuthToken    string `json:"authToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, *User) {
	t.Helper()
	api := New()
	user, err := api.AddUser("coach@example.com", "secret", "Coach", "COACH")
	if err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return api, srv, user
}

func TestLoginAndProtectedCall(t *testing.T) {
	api, srv, user := newTestServer(t)

	resp := post(t, srv.URL+"/api/v1/auth/login", map[string]string{"email": "Coach@example.com", "password": "secret"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var tokens tokenBody
	json.NewDecoder(resp.Body).Decode(&tokens)
	if tokens.AuthToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected a token pair, got %+v", tokens)
	}
	if tokens.User == nil || tokens.User.ID != user.ID {
		t.Errorf("user = %+v, want id %s", tokens.User, user.ID)
	}

	me := get(t, srv.URL+"/api/v1/users/me", tokens.AuthToken)
	me.Body.Close()
	if me.StatusCode != http.StatusOK {
		t.Errorf("/users/me status = %d, want 200", me.StatusCode)
	}
	if api.LoginCalls() != 1 {
		t.Errorf("LoginCalls() = %d, want 1", api.LoginCalls())
	}
}

func TestLoginBadPassword(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/api/v1/auth/login", map[string]string{"email": "coach@example.com", "password": "nope"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] == "" {
		t.Error("expected error message in body")
	}
}

func TestRefreshRotation(t *testing.T) {
	api, srv, user := newTestServer(t)
	refresh := api.IssueRefreshToken(user.ID)

	resp := post(t, srv.URL+"/api/v1/auth/refresh", struct{}{}, map[string]string{"X-Refresh-Token": refresh})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	var tokens tokenBody
	json.NewDecoder(resp.Body).Decode(&tokens)
	if tokens.RefreshToken == "" || tokens.RefreshToken == refresh {
		t.Fatalf("expected rotated refresh token, got %q", tokens.RefreshToken)
	}

	// Reusing the old token revokes the family, including the new token
	reuse := post(t, srv.URL+"/api/v1/auth/refresh", struct{}{}, map[string]string{"X-Refresh-Token": refresh})
	reuse.Body.Close()
	if reuse.StatusCode != http.StatusUnauthorized {
		t.Errorf("reuse status = %d, want 401", reuse.StatusCode)
	}
	next := post(t, srv.URL+"/api/v1/auth/refresh", struct{}{}, map[string]string{"X-Refresh-Token": tokens.RefreshToken})
	next.Body.Close()
	if next.StatusCode != http.StatusUnauthorized {
		t.Errorf("family member status = %d, want 401", next.StatusCode)
	}
	if api.RefreshCalls() != 3 {
		t.Errorf("RefreshCalls() = %d, want 3", api.RefreshCalls())
	}
}

func TestRevokeAllRejectsIssuedTokens(t *testing.T) {
	api, srv, user := newTestServer(t)
	access, err := api.IssueAccessToken(user.ID, time.Hour)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	api.RevokeAll(user.ID)

	resp := get(t, srv.URL+"/api/v1/clients", access)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 after revocation", resp.StatusCode)
	}
	if api.RejectedCalls() != 1 {
		t.Errorf("RejectedCalls() = %d, want 1", api.RejectedCalls())
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	api, srv, user := newTestServer(t)
	access, _ := api.IssueAccessToken(user.ID, -time.Minute)

	resp := get(t, srv.URL+"/api/v1/clients", access)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPasswordResetRequest(t *testing.T) {
	api, srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/api/v1/password-reset/request", map[string]string{"email": "Nobody@example.com"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := api.ResetRequests(); len(got) != 1 || got[0] != "nobody@example.com" {
		t.Errorf("ResetRequests() = %v", got)
	}
}

func TestFailRefresh(t *testing.T) {
	api, srv, user := newTestServer(t)
	api.SetFailRefresh(true)

	resp := post(t, srv.URL+"/api/v1/auth/refresh", struct{}{}, map[string]string{"X-Refresh-Token": api.IssueRefreshToken(user.ID)})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

type recordingMailer struct {
	to, link []string
}

func (m *recordingMailer) SendPasswordResetEmail(to, link string) error {
	m.to = append(m.to, to)
	m.link = append(m.link, link)
	return nil
}

func TestPasswordResetEmailsKnownAccountsOnly(t *testing.T) {
	api := New()
	mailer := &recordingMailer{}
	api.Mailer = mailer
	api.ResetURL = "https://app.example.com/reset"
	api.AddUser("coach@example.com", "secret", "Coach", "COACH")
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	for _, email := range []string{"Coach@example.com", "nobody@example.com"} {
		resp := post(t, srv.URL+"/api/v1/password-reset/request", map[string]string{"email": email}, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status for %s = %d, want 200", email, resp.StatusCode)
		}
	}

	if len(mailer.to) != 1 || mailer.to[0] != "coach@example.com" {
		t.Fatalf("emails sent to %v, want only the known account", mailer.to)
	}
	if !strings.HasPrefix(mailer.link[0], "https://app.example.com/reset?token=") {
		t.Errorf("link = %q", mailer.link[0])
	}
}
