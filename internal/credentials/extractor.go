package credentials

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/florianilch/agprobe/internal/pbwire"
)

// Keys of the ItemTable rows holding credentials.
const (
	StateSyncKey  = "jetskiStateSync.agentManagerInitState"
	AuthStatusKey = "antigravityAuthStatus"
)

// Field path from the state-sync record to the OAuth access token.
const (
	oauthMessageField protowire.Number = 6
	accessTokenField  protowire.Number = 1
)

// DefaultLifetime is the synthetic validity assigned to extracted tokens.
// The stored records carry no usable expiry.
const DefaultLifetime = time.Hour

// Option configures an Extractor.
type Option func(*Extractor)

// WithTempDir sets the directory for temporary database copies.
func WithTempDir(dir string) Option {
	return func(e *Extractor) {
		e.tempDir = dir
	}
}

// WithLifetime sets the synthetic token lifetime.
func WithLifetime(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.lifetime = d
		}
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// Extractor recovers the OAuth access token from the application's state database.
type Extractor struct {
	dbPath   string
	tempDir  string
	lifetime time.Duration
	now      func() time.Time
}

// decoder turns a stored value into an access token.
type decoder func(value string) (string, error)

// NewExtractor creates an Extractor reading the database at dbPath.
// An empty dbPath resolves to the OS default location.
func NewExtractor(dbPath string, opts ...Option) (*Extractor, error) {
	if dbPath == "" {
		path, err := DefaultDatabasePath()
		if err != nil {
			return nil, fmt.Errorf("resolving state database: %w", err)
		}
		dbPath = path
	}

	e := &Extractor{
		dbPath:   dbPath,
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DatabasePath returns the database file the extractor reads.
func (e *Extractor) DatabasePath() string {
	return e.dbPath
}

// Credentials returns the stored access token. It tries the state-sync
// record first and the legacy auth-status record second.
// ok is false when the database is missing or neither record yields a token.
func (e *Extractor) Credentials(ctx context.Context) (*oauth2.Token, bool) {
	if _, err := os.Stat(e.dbPath); err != nil {
		slog.DebugContext(ctx, "state database unavailable", "path", e.dbPath, "error", err)
		return nil, false
	}

	paths := []struct {
		key    string
		decode decoder
	}{
		{key: StateSyncKey, decode: decodeStateSync},
		{key: AuthStatusKey, decode: decodeAuthStatus},
	}

	for _, p := range paths {
		token, err := e.extract(ctx, p.key, p.decode)
		if err != nil {
			slog.DebugContext(ctx, "credential extraction failed", "key", p.key, "error", err)
			continue
		}
		return e.wrap(token), true
	}
	return nil, false
}

// extract reads key from a private copy of the database and decodes it.
func (e *Extractor) extract(ctx context.Context, key string, decode decoder) (string, error) {
	var token string
	err := withSnapshot(ctx, e.dbPath, e.tempDir, func(db *sql.DB) error {
		value, err := lookupItem(ctx, db, key)
		if err != nil {
			return err
		}
		token, err = decode(value)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (e *Extractor) wrap(accessToken string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		RefreshToken: "",
		Expiry:       e.now().Add(e.lifetime),
	}
}

// decodeStateSync decodes the base64 state-sync record and walks it to the
// access token nested in field 6, subfield 1.
func decodeStateSync(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}

	token, ok := pbwire.NestedString(raw, oauthMessageField, accessTokenField)
	if !ok {
		return "", errors.New("access token field not found")
	}
	if token == "" || !utf8.ValidString(token) {
		return "", errors.New("access token field is not text")
	}
	return token, nil
}

// authStatus is the legacy JSON record.
type authStatus struct {
	APIKey string `json:"apiKey"`
}

// decodeAuthStatus reads the apiKey property of the legacy JSON record.
func decodeAuthStatus(value string) (string, error) {
	var status authStatus
	if err := json.Unmarshal([]byte(value), &status); err != nil {
		return "", fmt.Errorf("decoding auth status: %w", err)
	}
	if status.APIKey == "" {
		return "", errors.New("auth status has no apiKey")
	}
	return status.APIKey, nil
}
