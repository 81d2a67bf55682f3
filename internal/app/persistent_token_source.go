package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/florianilch/agprobe/internal/tokenstore"
)

// PersistentTokenSource wraps an oauth2.TokenSource and exports every new
// access token it hands out to a TokenStore.
type PersistentTokenSource struct {
	source     oauth2.TokenSource
	tokenStore tokenstore.TokenStore

	lastAccessToken atomic.Pointer[string]
	writeMu         sync.Mutex
}

// Compile-time check to ensure PersistentTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*PersistentTokenSource)(nil)

// NewPersistentTokenSource creates a PersistentTokenSource.
// No I/O is performed until the first Token call.
func NewPersistentTokenSource(source oauth2.TokenSource, tokenStore tokenstore.TokenStore) (*PersistentTokenSource, error) {
	if source == nil {
		return nil, fmt.Errorf("missing token source")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("missing token store")
	}

	return &PersistentTokenSource{
		source:     source,
		tokenStore: tokenStore,
	}, nil
}

// Token returns the current token, exporting it when it differs from the last export.
func (p *PersistentTokenSource) Token() (*oauth2.Token, error) {
	freshToken, err := p.source.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token from token source: %w", err)
	}

	// Hot path: lock-free atomic read for minimal contention
	lastPtr := p.lastAccessToken.Load()
	if lastPtr != nil && *lastPtr == freshToken.AccessToken {
		return freshToken, nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	// Another caller may have exported the same token while we waited.
	if lastPtr = p.lastAccessToken.Load(); lastPtr != nil && *lastPtr == freshToken.AccessToken {
		return freshToken, nil
	}

	// oauth2.TokenSource has no context parameter
	ctx := context.Background()
	if err := p.tokenStore.Write(ctx, freshToken); err != nil {
		// The token itself is still usable; the next call retries the export.
		slog.ErrorContext(ctx, "failed to export token", "error", err)
		return freshToken, nil
	}

	accessToken := freshToken.AccessToken
	p.lastAccessToken.Store(&accessToken)
	slog.DebugContext(ctx, "token exported")

	return freshToken, nil
}
