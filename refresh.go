package coachauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RefreshTokenHeader carries the refresh token on refresh calls, and on every
// other call for backward compatibility with older backends.
const RefreshTokenHeader = "X-Refresh-Token"

// Refresher exchanges a refresh token for a new credential pair.
// Implementations do not retry: failures go back to the caller as *RefreshError.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*CredentialPair, error)
}

// RefresherFunc adapts a function to the Refresher interface
type RefresherFunc func(ctx context.Context, refreshToken string) (*CredentialPair, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*CredentialPair, error) {
	return f(ctx, refreshToken)
}

// HTTPRefresher calls the backend refresh endpoint directly over a base transport,
// so refresh calls never pass through the authorization Transport.
type HTTPRefresher struct {
	// URL is the absolute refresh endpoint URL
	URL string

	// Transport is the base transport. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// NewHTTPRefresher creates a refresher posting to refreshURL over base
func NewHTTPRefresher(refreshURL string, base http.RoundTripper) *HTTPRefresher {
	return &HTTPRefresher{URL: refreshURL, Transport: base}
}

// Refresh implements Refresher
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*CredentialPair, error) {
	if refreshToken == "" {
		return nil, &RefreshError{Err: ErrIncompleteCredentials}
	}

	req, err := http.NewRequestWithContext(WithRoute(ctx, RouteRefresh), http.MethodPost, r.URL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, &RefreshError{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RefreshTokenHeader, refreshToken)

	base := r.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{Transport: base}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &RefreshError{Err: fmt.Errorf("failed to connect to server: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiErrorBody
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.text()
		if msg == "" {
			msg = strings.TrimSpace(http.StatusText(resp.StatusCode))
		}
		return nil, &RefreshError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out RefreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response from server: %w", err)}
	}

	pair := &CredentialPair{AccessToken: out.AuthToken, RefreshToken: out.RefreshToken}
	if !pair.Complete() {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Err: ErrIncompleteCredentials}
	}
	return pair, nil
}
