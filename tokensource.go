package coachauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource backed by the session. Every Token call
// runs the same gate as the Transport, so clients built with oauth2.NewClient share
// refreshes and forced logouts with everything else using the session.
//
// oauth2.NewClient caches tokens until they expire. Use an oauth2.Transport with
// this source directly to keep the early refresh.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, session: s}
}

type sessionTokenSource struct {
	ctx     context.Context
	session *Session
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	pair, err := ts.session.Authorize(ts.ctx)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, ErrNotLoggedIn
	}

	tok := &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
	}
	if ms, ok := ts.session.inspector.ExpirationMillis(pair.AccessToken); ok {
		tok.Expiry = time.UnixMilli(ms)
	}
	return tok, nil
}
