package coachauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Backend endpoint defaults
const (
	DefaultAPIPrefix      = "/api/v1"
	LoginEndpoint         = "/auth/login"
	RefreshEndpoint       = "/auth/refresh"
	PasswordResetEndpoint = "/password-reset/request"
)

const maxResponseBody = 1 << 20

// AuthClient is an HTTP client for the coaching backend with automatic session management.
// Requests made through HTTPClient carry the session's credentials, refresh them before
// they expire and end the session when the backend rejects them.
type AuthClient struct {
	baseURL   *url.URL
	apiPrefix string

	httpClient    *http.Client
	baseTransport http.RoundTripper
	tracing       bool

	storage   Storage
	config    *SessionConfig
	session   *Session
	logger    *slog.Logger
	transport *Transport
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		if transport != nil {
			c.baseTransport = transport
		}
	}
}

// WithAPIPrefix sets the path prefix of every backend endpoint. Defaults to /api/v1.
func WithAPIPrefix(prefix string) ClientOption {
	return func(c *AuthClient) {
		c.apiPrefix = prefix
	}
}

// WithSessionConfig replaces the whole session configuration.
// Options applied after it still modify the given config.
func WithSessionConfig(config *SessionConfig) ClientOption {
	return func(c *AuthClient) {
		if config != nil {
			c.config = config
		}
	}
}

// WithRefreshThreshold sets how long before expiry the access token is refreshed
func WithRefreshThreshold(d time.Duration) ClientOption {
	return func(c *AuthClient) {
		c.config.RefreshThreshold = d
	}
}

// WithWatchdogInterval sets the background check period
func WithWatchdogInterval(d time.Duration) ClientOption {
	return func(c *AuthClient) {
		c.config.WatchdogInterval = d
	}
}

// WithRefreshTimeout bounds each refresh exchange
func WithRefreshTimeout(d time.Duration) ClientOption {
	return func(c *AuthClient) {
		c.config.RefreshTimeout = d
	}
}

// WithSignInPath sets the redirect target reported on forced logout
func WithSignInPath(path string) ClientOption {
	return func(c *AuthClient) {
		c.config.SignInPath = path
	}
}

// WithStaleWhileRefreshing lets requests go out with the current token while a refresh is running
func WithStaleWhileRefreshing(enabled bool) ClientOption {
	return func(c *AuthClient) {
		c.config.StaleWhileRefreshing = enabled
	}
}

// WithOnForcedLogout registers the callback run when the client ends the session itself
func WithOnForcedLogout(fn func(ForcedLogout)) ClientOption {
	return func(c *AuthClient) {
		c.config.OnForcedLogout = fn
	}
}

// WithLogger sets the logger used by the client and its session
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *AuthClient) {
		c.config.Logger = logger
	}
}

// WithMetrics records refresh and logout metrics
func WithMetrics(m *Metrics) ClientOption {
	return func(c *AuthClient) {
		c.config.Metrics = m
	}
}

// WithClock overrides the clock used for token expiry checks
func WithClock(now func() time.Time) ClientOption {
	return func(c *AuthClient) {
		c.config.Now = now
	}
}

// WithTracing wraps the base transport with OpenTelemetry instrumentation
func WithTracing() ClientOption {
	return func(c *AuthClient) {
		c.tracing = true
	}
}

// NewAuthClient creates a client for the backend at baseURL, restoring any session held in storage.
// A nil storage keeps the session in memory only.
func NewAuthClient(baseURL string, storage Storage, opts ...ClientOption) (*AuthClient, error) {
	u, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}

	c := &AuthClient{
		baseURL:       u,
		apiPrefix:     DefaultAPIPrefix,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		storage:       storage,
		config:        &SessionConfig{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.config.EnsureDefaults()
	c.logger = c.config.Logger

	if c.tracing {
		c.baseTransport = otelhttp.NewTransport(c.baseTransport)
	}

	refresher := NewHTTPRefresher(c.endpointURL(RefreshEndpoint), c.baseTransport)
	c.session, err = NewSession(NewCredentialStore(storage), refresher, c.config)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	c.transport = &Transport{
		Base:    c.baseTransport,
		Session: c.session,
		Classifier: &PathClassifier{
			LoginPath:   c.endpointPath(LoginEndpoint),
			RefreshPath: c.endpointPath(RefreshEndpoint),
		},
		Logger: c.logger,
	}
	c.httpClient.Transport = c.transport
	return c, nil
}

// ParseBaseURL validates a backend base URL. Only absolute http and https URLs are accepted.
func ParseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, raw)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// HTTPClient returns the underlying HTTP client with auth handling
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// Transport returns the authorizing round tripper
func (c *AuthClient) Transport() *Transport {
	return c.transport
}

// Session returns the session managed by this client
func (c *AuthClient) Session() *Session {
	return c.session
}

// BaseURL returns the backend base URL
func (c *AuthClient) BaseURL() string {
	return c.baseURL.String()
}

// Start launches the session watchdog
func (c *AuthClient) Start(ctx context.Context) {
	c.session.Start(ctx)
}

// Close stops the session watchdog
func (c *AuthClient) Close() error {
	return c.session.Close()
}

func (c *AuthClient) endpointPath(endpoint string) string {
	return joinPath(c.baseURL.Path+"/"+strings.Trim(c.apiPrefix, "/"), endpoint)
}

func (c *AuthClient) endpointURL(endpoint string) string {
	u := *c.baseURL
	u.Path = c.endpointPath(endpoint)
	return u.String()
}

// URL resolves a path relative to the API prefix into an absolute URL
func (c *AuthClient) URL(path string) string {
	return c.endpointURL(path)
}

// NewRequest builds a request against the API. path is relative to the API prefix and
// may carry a query string. A non nil body is encoded as JSON.
func (c *AuthClient) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	u := *c.baseURL
	u.Path = c.endpointPath(ref.Path)
	u.RawQuery = ref.RawQuery

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req through the authorizing HTTP client
func (c *AuthClient) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// GetJSON fetches path and decodes the JSON response into out.
// A non-2xx response is returned as *APIError.
func (c *AuthClient) GetJSON(ctx context.Context, path string, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

// Login authenticates with email and password and starts a session.
// Bad credentials come back as *APIError and leave the current session untouched.
func (c *AuthClient) Login(ctx context.Context, email, password string) (*UserProfile, error) {
	req, err := c.NewRequest(WithRoute(ctx, RouteLogin), http.MethodPost, LoginEndpoint,
		LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}

	pair := out.Credentials()
	if err := c.session.Login(pair, out.User); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return out.User, nil
}

// Logout ends the session locally. The backend keeps no session state to tear down.
func (c *AuthClient) Logout() error {
	return c.session.Logout()
}

// RequestPasswordReset asks the backend to email a password reset link
func (c *AuthClient) RequestPasswordReset(ctx context.Context, email string) error {
	req, err := c.NewRequest(ctx, http.MethodPost, PasswordResetEndpoint, map[string]string{"email": email})
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

func (c *AuthClient) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiErrorBody
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.text()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
