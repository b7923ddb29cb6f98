package coachauth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Session defaults
const (
	DefaultWatchdogInterval = 30 * time.Second
	DefaultRefreshTimeout   = 15 * time.Second
	DefaultSignInPath       = "/login"
)

// State is the session state
type State int

const (
	StateLoggedOut State = iota
	StateLoggedIn
)

func (s State) String() string {
	if s == StateLoggedIn {
		return "logged_in"
	}
	return "logged_out"
}

// ForcedLogout describes a session the client ended on its own
type ForcedLogout struct {
	Reason     LogoutReason
	RedirectTo string // the sign-in entry point
	Err        error  // underlying cause, if any
}

// SessionConfig configures a Session
type SessionConfig struct {
	// RefreshThreshold is how long before expiry a token is refreshed. Defaults to 5 minutes.
	RefreshThreshold time.Duration

	// WatchdogInterval is the background check period. Defaults to 30 seconds.
	WatchdogInterval time.Duration

	// RefreshTimeout bounds a single refresh exchange. Defaults to 15 seconds.
	RefreshTimeout time.Duration

	// SignInPath is handed to OnForcedLogout as the redirect target. Defaults to "/login".
	SignInPath string

	// StaleWhileRefreshing lets requests that find a refresh already in flight go out with
	// the current token instead of waiting for the refresh to finish.
	StaleWhileRefreshing bool

	// OnForcedLogout is called after the session was ended by the client.
	// It plays the role of the redirect to the sign-in page.
	OnForcedLogout func(ForcedLogout)

	Logger  *slog.Logger
	Metrics *Metrics

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultSessionConfig returns a config with all defaults filled in
func DefaultSessionConfig() *SessionConfig {
	c := &SessionConfig{}
	c.EnsureDefaults()
	return c
}

// EnsureDefaults fills in default values for any unset fields
func (c *SessionConfig) EnsureDefaults() {
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = DefaultRefreshThreshold
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.SignInPath == "" {
		c.SignInPath = DefaultSignInPath
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Session owns the signed in user and credential pair, keeps them in sync
// with a CredentialStore and refreshes the access token before it expires.
type Session struct {
	config    *SessionConfig
	store     *CredentialStore
	inspector *Inspector
	refresher Refresher
	logger    *slog.Logger

	mu    sync.Mutex
	creds *CredentialPair
	user  *UserProfile

	// refreshing is set while a refresh exchange is on the wire
	refreshing   atomic.Bool
	refreshGroup singleflight.Group

	watchdogMu sync.Mutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

const refreshKey = "refresh"

// NewSession restores a session from store. The session starts logged in only if
// the stored access token is still valid; stale credentials are cleared.
func NewSession(store *CredentialStore, refresher Refresher, config *SessionConfig) (*Session, error) {
	if config == nil {
		config = &SessionConfig{}
	}
	config.EnsureDefaults()
	if store == nil {
		store = NewCredentialStore(nil)
	}

	s := &Session{
		config:    config,
		store:     store,
		refresher: refresher,
		logger:    config.Logger,
		inspector: newInspector(config.Now, config.Logger),
	}

	pair, err := store.Credentials()
	if err != nil {
		return nil, err
	}
	if pair != nil && s.inspector.IsValid(pair.AccessToken) {
		profile, err := store.Profile()
		if err != nil {
			return nil, err
		}
		s.creds = pair
		s.user = profile
		s.logger.Debug("restored session", "user", userID(profile))
		return s, nil
	}

	if pair != nil {
		s.logger.Info("discarding stored credentials with an expired access token")
	}
	if err := store.Clear(); err != nil {
		return nil, err
	}
	return s, nil
}

// Inspector returns the token inspector used by the session
func (s *Session) Inspector() *Inspector {
	return s.inspector
}

// Config returns the session configuration
func (s *Session) Config() *SessionConfig {
	return s.config
}

// State returns LoggedIn while credentials are held
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds != nil {
		return StateLoggedIn
	}
	return StateLoggedOut
}

// IsAuthenticated returns true while credentials are held
func (s *Session) IsAuthenticated() bool {
	return s.State() == StateLoggedIn
}

// Credentials returns a copy of the current pair, or nil when logged out
func (s *Session) Credentials() *CredentialPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.clone()
}

// User returns a copy of the current profile, or nil
func (s *Session) User() *UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil
	}
	return s.user.clone()
}

// Refreshing returns true while a refresh exchange is in flight
func (s *Session) Refreshing() bool {
	return s.refreshing.Load()
}

// Login stores pair and profile and moves the session to LoggedIn.
// A nil profile removes any previously stored profile.
func (s *Session) Login(pair CredentialPair, profile *UserProfile) error {
	if !pair.Complete() {
		return ErrIncompleteCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetCredentials(&pair); err != nil {
		return err
	}
	if profile != nil {
		if err := s.store.SetProfile(profile); err != nil {
			return err
		}
	} else if err := s.store.ClearProfile(); err != nil {
		return err
	}

	s.creds = pair.clone()
	s.user = profile.clone()
	s.logger.Info("session started", "user", userID(profile))
	return nil
}

// Logout ends the session and clears the store. Logging out twice is a no-op.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil && s.user == nil {
		return nil
	}
	s.logger.Info("session ended", "reason", ReasonUser, "user", userID(s.user))
	return s.clearLocked()
}

// ForceLogout ends the session on the client's own initiative and notifies
// OnForcedLogout with the sign-in path. The notification fires even when
// there was no session, so an anonymous 401 still leads to sign-in.
func (s *Session) ForceLogout(reason LogoutReason, cause error) error {
	_, _, err := s.forceLogout(reason, cause, nil)
	return err
}

// forceLogout ends the session. When only is set it ends it only if the session
// still holds that pair, and otherwise reports ended false with the pair it holds now.
func (s *Session) forceLogout(reason LogoutReason, cause error, only *CredentialPair) (current *CredentialPair, ended bool, err error) {
	s.mu.Lock()
	if only != nil && (s.creds == nil || s.creds.AccessToken != only.AccessToken) {
		current = s.creds.clone()
		s.mu.Unlock()
		s.logger.Info("keeping session, it changed during the failed refresh", "reason", reason)
		return current, false, nil
	}
	user := userID(s.user)
	err = s.clearLocked()
	s.mu.Unlock()

	s.config.Metrics.forcedLogout(reason)
	if cause != nil {
		s.logger.Warn("session ended by client", "reason", reason, "user", user, "error", cause)
	} else {
		s.logger.Warn("session ended by client", "reason", reason, "user", user)
	}

	if cb := s.config.OnForcedLogout; cb != nil {
		cb(ForcedLogout{Reason: reason, RedirectTo: s.config.SignInPath, Err: cause})
	}
	return nil, true, err
}

func (s *Session) clearLocked() error {
	s.creds = nil
	s.user = nil
	return s.store.Clear()
}

// Authorize runs the outbound gate and returns the pair to attach to a request.
// It returns nil, nil when there are no credentials. An expired token ends the
// session and yields a *PreflightAbortError; an expiring token is refreshed first.
func (s *Session) Authorize(ctx context.Context) (*CredentialPair, error) {
	pair := s.Credentials()
	if pair == nil {
		return nil, nil
	}

	if !s.inspector.IsValid(pair.AccessToken) {
		s.config.Metrics.preflightAbort(ReasonTokenExpired)
		s.ForceLogout(ReasonTokenExpired, nil)
		return nil, &PreflightAbortError{Reason: ReasonTokenExpired}
	}

	if !s.inspector.IsExpiringSoon(pair.AccessToken, s.config.RefreshThreshold) {
		return pair, nil
	}

	if s.config.StaleWhileRefreshing && s.refreshing.Load() {
		return pair, nil
	}

	fresh, err := s.refresh(ctx, pair.AccessToken)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		s.config.Metrics.preflightAbort(ReasonRefreshFailed)
		return nil, &PreflightAbortError{Reason: ReasonRefreshFailed, Err: err}
	}
	return fresh, nil
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers share a
// single exchange. On failure the session is force logged out once, and every
// caller gets the error. The exchange itself is not cancelled by ctx.
func (s *Session) Refresh(ctx context.Context) (*CredentialPair, error) {
	return s.refresh(ctx, "")
}

// refresh runs a shared exchange. stale is the access token the caller found
// expiring; if another exchange has already replaced it, the current pair is
// returned without a network call.
func (s *Session) refresh(ctx context.Context, stale string) (*CredentialPair, error) {
	ch := s.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return s.doRefresh(context.WithoutCancel(ctx), stale)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CredentialPair).clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) doRefresh(ctx context.Context, stale string) (*CredentialPair, error) {
	current := s.Credentials()
	if current == nil {
		return nil, ErrNotLoggedIn
	}
	if stale != "" && current.AccessToken != stale {
		return current, nil
	}

	s.refreshing.Store(true)
	defer s.refreshing.Store(false)
	if s.refresher == nil {
		err := &RefreshError{Err: errors.New("no refresher configured")}
		s.ForceLogout(ReasonRefreshFailed, err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RefreshTimeout)
	defer cancel()

	start := time.Now()
	fresh, err := s.refresher.Refresh(ctx, current.RefreshToken)
	if err == nil && !fresh.Complete() {
		err = &RefreshError{Err: ErrIncompleteCredentials}
	}
	s.config.Metrics.observeRefresh(start, err)
	if err != nil {
		// A logout or a newer login during the refresh owns the session now
		newer, ended, _ := s.forceLogout(ReasonRefreshFailed, err, current)
		if ended {
			return nil, err
		}
		if newer == nil {
			return nil, ErrNotLoggedIn
		}
		return newer, nil
	}

	return s.replaceCredentials(current, fresh)
}

// replaceCredentials swaps in a refreshed pair, keeping the profile. A result that
// arrives after a logout or a new login is dropped.
func (s *Session) replaceCredentials(old, fresh *CredentialPair) (*CredentialPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds == nil {
		s.logger.Info("dropping refreshed credentials, session ended during refresh")
		return nil, ErrNotLoggedIn
	}
	if s.creds.AccessToken != old.AccessToken {
		return s.creds.clone(), nil
	}

	s.creds = fresh.clone()
	if err := s.store.SetCredentials(fresh); err != nil {
		s.logger.Error("failed to persist refreshed credentials", "error", err)
	}
	s.logger.Debug("access token refreshed", "user", userID(s.user))
	return fresh.clone(), nil
}

// Check runs one watchdog tick: log out if the token already expired, refresh it
// if it expires soon and no refresh is already running.
func (s *Session) Check(ctx context.Context) {
	pair := s.Credentials()
	if pair == nil {
		return
	}
	if !s.inspector.IsValid(pair.AccessToken) {
		s.ForceLogout(ReasonTokenExpired, nil)
		return
	}
	if !s.inspector.IsExpiringSoon(pair.AccessToken, s.config.RefreshThreshold) {
		return
	}
	if s.refreshing.Load() {
		s.logger.Debug("refresh already in flight, watchdog skipping")
		return
	}
	if _, err := s.refresh(ctx, pair.AccessToken); err != nil {
		s.logger.Debug("watchdog refresh failed", "error", err)
	}
}

// Start launches the background watchdog. It runs until ctx is done or Close is called.
// Calling Start on a running session does nothing.
func (s *Session) Start(ctx context.Context) {
	s.watchdogMu.Lock()
	defer s.watchdogMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.WatchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()
}

// Close stops the watchdog and waits for it to exit
func (s *Session) Close() error {
	s.watchdogMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.watchdogMu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	return nil
}

// Status is a point in time view of the session
type Status struct {
	State        State
	User         *UserProfile
	ExpiresAt    time.Time
	ExpiringSoon bool
	Refreshing   bool
}

// Status reports the session state and access token expiry
func (s *Session) Status() Status {
	st := Status{State: StateLoggedOut, Refreshing: s.refreshing.Load()}
	pair := s.Credentials()
	if pair == nil {
		return st
	}
	st.State = StateLoggedIn
	st.User = s.User()
	if ms, ok := s.inspector.ExpirationMillis(pair.AccessToken); ok {
		st.ExpiresAt = time.UnixMilli(ms)
	}
	st.ExpiringSoon = s.inspector.IsExpiringSoon(pair.AccessToken, s.config.RefreshThreshold)
	return st
}

func userID(u *UserProfile) string {
	if u == nil {
		return ""
	}
	return u.ID
}
