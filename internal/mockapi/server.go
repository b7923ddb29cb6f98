// Package mockapi is an in-process stand-in for the coaching backend. It issues and
// rotates tokens the way the real backend does, and exposes knobs for tests to
// expire, revoke or break them.
package mockapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// Defaults
const (
	DefaultPrefix             = "/api/v1"
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
	DefaultIssuer             = "coach-backend"
)

// User is a backend account
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	passwordHash []byte
}

// Client is a coaching client record returned by the protected listing
type Client struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	CoachID string `json:"coachId"`
}

type refreshRecord struct {
	userID    string
	family    string
	expiresAt time.Time
	used      bool
}

// Server is the mock backend. The zero value is not usable; call New.
type Server struct {
	Prefix             string
	Secret             []byte
	Issuer             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Logger             *slog.Logger

	// Mailer receives password reset emails. Defaults to a LogMailer on Logger.
	Mailer Mailer

	// ResetURL is the page reset links point to
	ResetURL string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	mu            sync.Mutex
	users         map[string]*User // by email
	generations   map[string]int   // by user id; bumped on revocation
	refreshTokens map[string]*refreshRecord
	resetRequests []string
	clients       []Client

	refreshDelay  atomic.Int64
	failRefresh   atomic.Bool
	loginCalls    atomic.Int64
	refreshCalls  atomic.Int64
	rejectedCalls atomic.Int64

	router *mux.Router
}

// New creates a server with a random signing secret
func New() *Server {
	s := &Server{
		Prefix:             DefaultPrefix,
		Secret:             []byte(uuid.NewString()),
		Issuer:             DefaultIssuer,
		AccessTokenExpiry:  DefaultAccessTokenExpiry,
		RefreshTokenExpiry: DefaultRefreshTokenExpiry,
		Logger:             slog.Default(),
		ResetURL:           "http://localhost:3000/reset-password",
		Now:                time.Now,
		users:              make(map[string]*User),
		generations:        make(map[string]int),
		refreshTokens:      make(map[string]*refreshRecord),
	}
	return s
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.router != nil {
		return s.router
	}

	r := mux.NewRouter()
	api := r.PathPrefix(strings.TrimSuffix(s.Prefix, "/")).Subrouter()
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/password-reset/request", s.handlePasswordReset).Methods(http.MethodPost)

	protected := api.NewRoute().Subrouter()
	protected.Use(s.requireAuth)
	protected.HandleFunc("/users/me", s.handleMe).Methods(http.MethodGet)
	protected.HandleFunc("/clients", s.handleClients).Methods(http.MethodGet)

	s.router = r
	return r
}

// AddUser registers an account with a bcrypt hashed password
func (s *Server) AddUser(email, password, name, role string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(email),
		Name:         name,
		Role:         role,
		passwordHash: hash,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Email]; exists {
		return nil, fmt.Errorf("user already exists: %s", email)
	}
	s.users[u.Email] = u
	return u, nil
}

// AddClient adds a record to the protected client listing
func (s *Server) AddClient(name, coachID string) Client {
	c := Client{ID: uuid.NewString(), Name: name, CoachID: coachID}
	s.mu.Lock()
	s.clients = append(s.clients, c)
	s.mu.Unlock()
	return c
}

// SetRefreshDelay makes the refresh endpoint wait before answering
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.refreshDelay.Store(int64(d))
}

// SetFailRefresh makes the refresh endpoint answer 401 to every call
func (s *Server) SetFailRefresh(fail bool) {
	s.failRefresh.Store(fail)
}

// LoginCalls returns how many login requests were received
func (s *Server) LoginCalls() int64 { return s.loginCalls.Load() }

// RefreshCalls returns how many refresh requests were received
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// RejectedCalls returns how many protected requests were answered with 401
func (s *Server) RejectedCalls() int64 { return s.rejectedCalls.Load() }

// ResetRequests returns the emails password resets were requested for
func (s *Server) ResetRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resetRequests...)
}

// RevokeAll invalidates every access and refresh token issued to userID so far
func (s *Server) RevokeAll(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[userID]++
	for token, rec := range s.refreshTokens {
		if rec.userID == userID {
			delete(s.refreshTokens, token)
		}
	}
}

func (s *Server) mailer() Mailer {
	if s.Mailer != nil {
		return s.Mailer
	}
	return &LogMailer{Logger: s.Logger}
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// IssueAccessToken signs an access token for userID valid for ttl.
// A negative ttl yields an already expired token.
func (s *Server) IssueAccessToken(userID string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	gen := s.generations[userID]
	s.mu.Unlock()

	now := s.now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"type": "access",
		"gen":  gen,
		"iss":  s.Issuer,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken creates a refresh token for userID in a new family
func (s *Server) IssueRefreshToken(userID string) string {
	return s.issueRefreshToken(userID, uuid.NewString())
}

func (s *Server) issueRefreshToken(userID, family string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.refreshTokens[token] = &refreshRecord{
		userID:    userID,
		family:    family,
		expiresAt: s.now().Add(s.RefreshTokenExpiry),
	}
	s.mu.Unlock()
	return token
}

// ValidateAccessToken verifies signature, expiry, type and revocation of an access token
func (s *Server) ValidateAccessToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.Secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if tokenType, _ := claims["type"].(string); tokenType != "access" {
		return "", errors.New("invalid token type")
	}
	userID, _ := claims["sub"].(string)
	if userID == "" {
		return "", errors.New("missing subject")
	}

	gen, _ := claims["gen"].(float64)
	s.mu.Lock()
	current := s.generations[userID]
	s.mu.Unlock()
	if int(gen) != current {
		return "", errors.New("token revoked")
	}
	return userID, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	user := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if user == nil || bcrypt.CompareHashAndPassword(user.passwordHash, []byte(req.Password)) != nil {
		s.errorResponse(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	access, err := s.IssueAccessToken(user.ID, s.AccessTokenExpiry)
	if err != nil {
		s.Logger.Error("failed to create access token", "error", err)
		s.errorResponse(w, "Failed to create token", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"authToken":    access,
		"refreshToken": s.IssueRefreshToken(user.ID),
		"user":         user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	if s.failRefresh.Load() {
		s.errorResponse(w, "Refresh token rejected", http.StatusUnauthorized)
		return
	}

	token := r.Header.Get("X-Refresh-Token")
	if token == "" {
		s.errorResponse(w, "Refresh token required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	rec := s.refreshTokens[token]
	var reused bool
	if rec != nil {
		reused = rec.used
		rec.used = true
	}
	s.mu.Unlock()

	switch {
	case rec == nil:
		s.errorResponse(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	case reused:
		// Reuse of a rotated token: revoke the whole family
		s.revokeFamily(rec.family)
		s.errorResponse(w, "Token reuse detected, all sessions revoked", http.StatusUnauthorized)
		return
	case s.now().After(rec.expiresAt):
		s.errorResponse(w, "Refresh token has expired", http.StatusUnauthorized)
		return
	}

	access, err := s.IssueAccessToken(rec.userID, s.AccessTokenExpiry)
	if err != nil {
		s.Logger.Error("failed to create access token", "error", err)
		s.errorResponse(w, "Failed to create token", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"authToken":    access,
		"refreshToken": s.issueRefreshToken(rec.userID, rec.family),
	})
}

func (s *Server) revokeFamily(family string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, rec := range s.refreshTokens {
		if rec.family == family {
			delete(s.refreshTokens, token)
		}
	}
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		s.errorResponse(w, "Email is required", http.StatusBadRequest)
		return
	}

	email := strings.ToLower(req.Email)
	s.mu.Lock()
	s.resetRequests = append(s.resetRequests, email)
	_, exists := s.users[email]
	s.mu.Unlock()

	if exists {
		link := s.ResetURL + "?token=" + uuid.NewString()
		if err := s.mailer().SendPasswordResetEmail(email, link); err != nil {
			s.Logger.Error("failed to send reset email", "to", email, "error", err)
		}
	}

	// Same answer whether or not the account exists
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"message": "If the account exists, a reset link has been sent",
	})
}

type userIDKey struct{}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || bearer == "" {
			s.rejectedCalls.Add(1)
			s.errorResponse(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		userID, err := s.ValidateAccessToken(bearer)
		if err != nil {
			s.rejectedCalls.Add(1)
			s.Logger.Debug("rejected access token", "error", err)
			s.errorResponse(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUserID(r.Context(), userID)))
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	s.mu.Lock()
	var found *User
	for _, u := range s.users {
		if u.ID == userID {
			found = u
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		s.errorResponse(w, "User not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, found)
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	clients := append([]Client{}, s.clients...)
	s.mu.Unlock()
	s.jsonResponse(w, http.StatusOK, map[string]any{"clients": clients})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// errorResponse writes the backend's error shape
func (s *Server) errorResponse(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
