package session

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the session to oauth2.TokenSource so standard HTTP
// clients (oauth2.NewClient, oauth2.Transport) attach the managed access
// token without knowing about the refresh machinery behind it.
func (s *AuthSession) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, session: s}
}

type tokenSource struct {
	ctx     context.Context
	session *AuthSession
}

// Token implements oauth2.TokenSource. Expiry is omitted on purpose: the
// session already refreshes proactively, so the oauth2 layer must never
// trigger its own refresh.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.session.Token(ts.ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrUnauthenticated
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}
