package coachauth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRefreshThreshold is how long before expiry a token counts as expiring soon
const DefaultRefreshThreshold = 5 * time.Minute

// Claims are the decoded claims of an access token.
// They are derived on demand and never persisted.
type Claims struct {
	ExpiresAt time.Time // zero if the token has no exp claim
	IssuedAt  time.Time
	Subject   string
	Extra     map[string]any
}

// HasExpiry returns true if the token carried a usable exp claim
func (c *Claims) HasExpiry() bool {
	return !c.ExpiresAt.IsZero()
}

// Inspector answers validity questions about bearer tokens.
// It never verifies signatures: the client holds no key, the backend does that.
type Inspector struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger receives decode failures. Defaults to slog.Default().
	Logger *slog.Logger

	parser *jwt.Parser
}

// NewInspector creates an Inspector using the wall clock
func NewInspector() *Inspector {
	return newInspector(nil, nil)
}

func newInspector(now func() time.Time, logger *slog.Logger) *Inspector {
	return &Inspector{Now: now, Logger: logger, parser: jwt.NewParser()}
}

func (i *Inspector) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Inspector) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}

// Decode parses the token's claims without verifying its signature
func (i *Inspector) Decode(token string) (*Claims, error) {
	if token == "" {
		return nil, &DecodeError{Err: errors.New("empty token")}
	}
	parser := i.parser
	if parser == nil {
		parser = jwt.NewParser()
	}

	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, mc); err != nil {
		return nil, &DecodeError{Err: err}
	}

	out := &Claims{Extra: make(map[string]any)}
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	// exp of 0 is treated the same as a missing claim
	if exp != nil && exp.Unix() != 0 {
		out.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if sub, err := mc.GetSubject(); err == nil {
		out.Subject = sub
	}
	for k, v := range mc {
		switch k {
		case "exp", "iat", "sub":
		default:
			out.Extra[k] = v
		}
	}
	return out, nil
}

// decode wraps Decode and logs failures so the predicates never surface them
func (i *Inspector) decode(token string) *Claims {
	if token == "" {
		return nil
	}
	claims, err := i.Decode(token)
	if err != nil {
		i.logger().Warn("could not decode access token", "token", redactToken(token), "error", err)
		return nil
	}
	return claims
}

// IsValid returns true iff the token decodes, carries an exp claim and that
// expiry is still in the future. It fails closed.
func (i *Inspector) IsValid(token string) bool {
	claims := i.decode(token)
	if claims == nil {
		return false
	}
	if !claims.HasExpiry() {
		i.logger().Warn("access token has no expiration claim", "token", redactToken(token))
		return false
	}
	return claims.ExpiresAt.Unix() > i.now().Unix()
}

// ExpirationMillis returns the token's expiry in epoch milliseconds
func (i *Inspector) ExpirationMillis(token string) (int64, bool) {
	claims := i.decode(token)
	if claims == nil || !claims.HasExpiry() {
		return 0, false
	}
	return claims.ExpiresAt.UnixMilli(), true
}

// IsExpiringSoon returns true if the token expires within threshold.
// A token that cannot be decoded counts as expiring so callers take the
// refresh-or-logout path instead of trusting it. An expired token is always expiring soon.
func (i *Inspector) IsExpiringSoon(token string, threshold time.Duration) bool {
	expMillis, ok := i.ExpirationMillis(token)
	if !ok {
		return true
	}
	return expMillis-i.now().UnixMilli() <= threshold.Milliseconds()
}
