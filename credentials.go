package coachauth

import (
	"fmt"
	"strings"
)

// CredentialPair is the access/refresh token pair issued by the backend on login or refresh.
// Both fields are present or the pair does not exist.
type CredentialPair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Complete returns true if both tokens are present
func (p *CredentialPair) Complete() bool {
	return p != nil && p.AccessToken != "" && p.RefreshToken != ""
}

// HasRefreshToken returns true if a refresh token is available
func (p *CredentialPair) HasRefreshToken() bool {
	return p != nil && p.RefreshToken != ""
}

func (p *CredentialPair) clone() *CredentialPair {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

// Role is the backend role of a signed in user
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleCoach  Role = "COACH"
	RoleMember Role = "MEMBER"
)

// ParseRole converts a role name into a Role, ignoring case
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleCoach, RoleMember:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// UserProfile is the optional profile returned alongside a login.
// It is only meaningful while credentials are present.
type UserProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// IsStaff returns true for admins and coaches, the roles allowed into the back office
func (u *UserProfile) IsStaff() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleCoach)
}

func (u *UserProfile) clone() *UserProfile {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}

// LoginRequest is the body sent to the login endpoint
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the body returned by the login endpoint
type LoginResponse struct {
	AuthToken    string       `json:"authToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *UserProfile `json:"user,omitempty"`
}

// Credentials returns the token pair carried by the response
func (r *LoginResponse) Credentials() CredentialPair {
	return CredentialPair{AccessToken: r.AuthToken, RefreshToken: r.RefreshToken}
}

// RefreshResponse is the body returned by the refresh endpoint
type RefreshResponse struct {
	AuthToken    string `json:"authToken"`
	RefreshToken string `json:"refreshToken"`
}

// redactToken masks a token for logging, keeping only a short prefix
func redactToken(token string) string {
	if len(token) <= 8 {
		return "[REDACTED]"
	}
	return token[:4] + "…[REDACTED]"
}
