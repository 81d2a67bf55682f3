package tokensource

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single extraction.
const DefaultTimeout = 10 * time.Second

// ErrNoCredentials is returned by Token when no credential could be extracted.
var ErrNoCredentials = errors.New("no credentials available")

// Extractor reads the current credential from local storage.
type Extractor interface {
	Credentials(ctx context.Context) (*oauth2.Token, bool)
}

// TokenSourceOption configures a TokenSource.
type TokenSourceOption func(*tokenSourceConfig)

// tokenSourceConfig holds configuration for NewTokenSource.
type tokenSourceConfig struct {
	timeout time.Duration
}

// WithTimeout bounds each extraction.
// If not provided, DefaultTimeout is used.
func WithTimeout(d time.Duration) TokenSourceOption {
	return func(c *tokenSourceConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// TokenSource serves extracted credentials and re-extracts once they expire.
type TokenSource struct {
	tokenSource oauth2.TokenSource
}

// Compile-time check to ensure TokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*TokenSource)(nil)

// NewTokenSource creates a TokenSource backed by extractor.
// No I/O is performed until the first Token call.
func NewTokenSource(extractor Extractor, opts ...TokenSourceOption) *TokenSource {
	cfg := &tokenSourceConfig{
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &TokenSource{
		// ReuseTokenSource serializes Token calls and caches until expiry.
		tokenSource: oauth2.ReuseTokenSource(nil, &extractingSource{
			extractor: extractor,
			timeout:   cfg.timeout,
		}),
	}
}

// Token returns a valid access token, re-extracting if the cached one expired.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	return ts.tokenSource.Token()
}

// extractingSource performs one extraction per Token call.
type extractingSource struct {
	extractor Extractor
	timeout   time.Duration
}

func (s *extractingSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	token, ok := s.extractor.Credentials(ctx)
	if !ok {
		return nil, ErrNoCredentials
	}
	return token, nil
}
