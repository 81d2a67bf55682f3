package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/agprobe/internal/credentials"
	"github.com/florianilch/agprobe/internal/locator"
	"github.com/florianilch/agprobe/internal/observability"
	"github.com/florianilch/agprobe/internal/platform"
	"github.com/florianilch/agprobe/internal/tokensource"
	"github.com/florianilch/agprobe/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = observability.FormatText
	LogFormatJSON LogFormat = observability.FormatJSON
	LogFormatOTel LogFormat = observability.FormatOTel
)

// ExportStorageType represents where exported tokens are written.
type ExportStorageType string

const (
	ExportStorageNone    ExportStorageType = "none"
	ExportStorageFile    ExportStorageType = "file"
	ExportStorageKeyring ExportStorageType = "keyring"
)

// keyringService names the keyring entry holding exported tokens.
const keyringService = "agprobe-token"

// Default configuration values
const (
	DefaultConfigLogFormat             = LogFormatText
	DefaultConfigOTelExporter          = observability.ExporterStdout
	DefaultConfigScanMaxAttempts       = 3
	DefaultConfigScanBackoff           = locator.DefaultBackoff
	DefaultConfigScanProcessTimeout    = platform.DefaultProcessTimeout
	DefaultConfigScanPortTimeout       = platform.DefaultPortTimeout
	DefaultConfigScanProbeTimeout      = locator.DefaultProbeTimeout
	DefaultConfigScanHost              = locator.DefaultProbeHost
	DefaultConfigCredentialsLifetime   = credentials.DefaultLifetime
	DefaultConfigCredentialsTimeout    = tokensource.DefaultTimeout
	DefaultConfigServerHost            = "127.0.0.1"
	DefaultConfigServerPort            = 4100
	DefaultConfigServerMaxScanAttempts = 20
	DefaultConfigServerScanRate        = 1.0
	DefaultConfigServerScanBurst       = 3
	DefaultConfigShutdownTimeout       = 5 * time.Second
	DefaultConfigExportStorage         = ExportStorageNone
)

// ScanConfig controls language server discovery.
type ScanConfig struct {
	MaxAttempts int `json:"max_attempts" validate:"min=1,max=100"`
	// Backoff is nil when unset; an explicit zero retries without pausing.
	Backoff        *time.Duration `json:"backoff" validate:"omitempty,min=0"`
	ProcessTimeout time.Duration  `json:"process_timeout" validate:"gt=0"`
	PortTimeout    time.Duration  `json:"port_timeout" validate:"gt=0"`
	ProbeTimeout   time.Duration  `json:"probe_timeout" validate:"gt=0"`
	// Host probed for verification; the language server binds loopback.
	Host string `json:"host" validate:"ip|hostname_rfc1123"`
}

// PauseBetweenRounds returns the configured backoff, or the default when unset.
func (s ScanConfig) PauseBetweenRounds() time.Duration {
	if s.Backoff == nil {
		return DefaultConfigScanBackoff
	}
	return *s.Backoff
}

// CredentialsConfig controls token extraction from the state database.
type CredentialsConfig struct {
	// Database overrides the OS default state.vscdb location.
	Database string `json:"database" validate:"required"`
	// TempDir receives short-lived database copies.
	TempDir  string        `json:"temp_dir" validate:"required"`
	Lifetime time.Duration `json:"lifetime" validate:"gt=0"`
	Timeout  time.Duration `json:"timeout" validate:"gt=0"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host            string `json:"host" validate:"hostname_rfc1123|ip"`
	Port            uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
	MaxScanAttempts int    `json:"max_scan_attempts" validate:"min=1"`
	// ScanRate limits scan requests per second; ScanBurst allows short bursts above it.
	ScanRate  float64 `json:"scan_rate" validate:"gt=0"`
	ScanBurst int     `json:"scan_burst" validate:"min=1"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// ExportConfig describes where extracted tokens are exported to.
type ExportConfig struct {
	Storage ExportStorageType `json:"storage" validate:"required,oneof=none file keyring"`

	File        string `json:"file,omitempty"`         // For file storage: path to token file
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// NewTokenStore creates the export TokenStore, or nil when export is disabled.
func (e *ExportConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch e.Storage {
	case ExportStorageNone:
		return nil, nil
	case ExportStorageFile:
		return tokenstore.NewFileStore(e.File)
	case ExportStorageKeyring:
		return tokenstore.NewKeyringStore(keyringService, e.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", e.Storage)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel     slog.Level        `json:"log_level"`
	LogFormat    LogFormat         `json:"log_format" validate:"oneof=text json otel"`
	OTelExporter string            `json:"otel_exporter" validate:"oneof=stdout otlp-http otlp-grpc"`
	Scan         ScanConfig        `json:"scan"`
	Credentials  CredentialsConfig `json:"credentials"`
	Server       ServerConfig      `json:"server"`
	Shutdown     ShutdownConfig    `json:"shutdown"`
	Export       ExportConfig      `json:"export"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.OTelExporter == "" {
		c.OTelExporter = DefaultConfigOTelExporter
	}

	if c.Scan.MaxAttempts == 0 {
		c.Scan.MaxAttempts = DefaultConfigScanMaxAttempts
	}
	if c.Scan.Backoff == nil {
		backoff := DefaultConfigScanBackoff
		c.Scan.Backoff = &backoff
	}
	if c.Scan.ProcessTimeout == 0 {
		c.Scan.ProcessTimeout = DefaultConfigScanProcessTimeout
	}
	if c.Scan.PortTimeout == 0 {
		c.Scan.PortTimeout = DefaultConfigScanPortTimeout
	}
	if c.Scan.ProbeTimeout == 0 {
		c.Scan.ProbeTimeout = DefaultConfigScanProbeTimeout
	}
	if c.Scan.Host == "" {
		c.Scan.Host = DefaultConfigScanHost
	}

	if c.Credentials.Database == "" {
		path, err := credentials.DefaultDatabasePath()
		if err != nil {
			return fmt.Errorf("credentials.database required (auto-detect failed: %w)", err)
		}
		c.Credentials.Database = path
	}
	if c.Credentials.TempDir == "" {
		c.Credentials.TempDir = os.TempDir()
	}
	if c.Credentials.Lifetime == 0 {
		c.Credentials.Lifetime = DefaultConfigCredentialsLifetime
	}
	if c.Credentials.Timeout == 0 {
		c.Credentials.Timeout = DefaultConfigCredentialsTimeout
	}

	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Server.MaxScanAttempts == 0 {
		c.Server.MaxScanAttempts = DefaultConfigServerMaxScanAttempts
	}
	if c.Server.ScanRate == 0 {
		c.Server.ScanRate = DefaultConfigServerScanRate
	}
	if c.Server.ScanBurst == 0 {
		c.Server.ScanBurst = DefaultConfigServerScanBurst
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	if c.Export.Storage == "" {
		c.Export.Storage = DefaultConfigExportStorage
	}

	// Dynamic defaults based on storage type
	switch c.Export.Storage {
	case ExportStorageFile:
		if c.Export.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("export.file required (auto-detect failed: %w)", err)
			}
			c.Export.File = filepath.Join(configDir, "agprobe", "token.json")
		}
	case ExportStorageKeyring:
		if c.Export.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("export.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Export.KeyringUser = currentUser.Username
		}
	case ExportStorageNone:
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Server.MaxScanAttempts < c.Scan.MaxAttempts {
		return errors.New("server.max_scan_attempts must not be below scan.max_attempts")
	}

	switch c.Export.Storage {
	case ExportStorageFile:
		if c.Export.File == "" {
			return errors.New("file path required for file storage")
		}
	case ExportStorageKeyring:
		if c.Export.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	case ExportStorageNone:
	}

	return nil
}
