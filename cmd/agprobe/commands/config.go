package commands

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/agprobe/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., AGPROBE_SCAN__MAX_ATTEMPTS → scan.max_attempts)
const envPrefix = "AGPROBE_"

// commandOnlyFlags steer a single command and never reach the configuration.
var commandOnlyFlags = map[string]bool{
	"config":   true,
	"attempts": true,
	"reveal":   true,
	"save":     true,
}

// configSource is one layer of configuration; later layers win.
type configSource struct {
	name     string
	provider koanf.Provider
	parser   koanf.Parser
}

// loadConfig loads application configuration from various sources with precedence:
// config file → environment variables → CLI flags → defaults
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	for _, src := range configSources(configPath, cmd, environFunc) {
		if err := k.Load(src.provider, src.parser); err != nil {
			return nil, fmt.Errorf("loading %s: %w", src.name, err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func configSources(configPath string, cmd *cli.Command, environFunc func() []string) []configSource {
	var sources []configSource

	if configPath != "" {
		sources = append(sources, configSource{
			name:     "config file " + configPath,
			provider: file.Provider(configPath),
			parser:   toml.Parser(),
		})
	}

	sources = append(sources, configSource{
		name: "environment variables",
		provider: env.Provider(".", env.Opt{
			Prefix:        envPrefix,
			TransformFunc: envKey,
			EnvironFunc:   environFunc,
		}),
	})

	if cmd != nil {
		sources = append(sources, configSource{
			name:     "CLI flags",
			provider: confmap.Provider(flagValues(cmd), "."),
		})
	}

	return sources
}

// envKey maps AGPROBE_SCAN__PROBE_TIMEOUT to scan.probe_timeout.
func envKey(key, value string) (string, any) {
	stripped := strings.TrimPrefix(key, envPrefix)
	return strings.ToLower(strings.ReplaceAll(stripped, "__", ".")), value
}

// flagKey maps --scan--probe-timeout to scan.probe_timeout and --log-level to log_level.
func flagKey(name string) string {
	key := strings.ReplaceAll(name, "--", ".")
	return strings.ReplaceAll(key, "-", "_")
}

// flagValues collects explicitly set flags, including those of parent commands.
func flagValues(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		// Unset flags would shadow file and environment values with their defaults
		if commandOnlyFlags[name] || !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			values[flagKey(name)] = value
		}
	}

	return values
}
