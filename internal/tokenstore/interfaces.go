package tokenstore

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenStore reads and writes exported tokens.
type TokenStore interface {
	// Read returns the last exported token. Returns error if none was stored.
	Read(ctx context.Context) (*oauth2.Token, error)

	// Write persists the token, replacing any previous one.
	Write(ctx context.Context, token *oauth2.Token) error
}
