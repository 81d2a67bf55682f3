package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/agprobe/internal/app"
	"github.com/florianilch/agprobe/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Stdout).Run(ctx, args)
}

func newRootCommand(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:   "agprobe",
		Usage:  "Antigravity language server discovery and credential extraction",
		Writer: w,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "otel-exporter",
				Usage: "log exporter for --log-format otel (stdout|otlp-http|otlp-grpc)",
				Value: app.DefaultConfigOTelExporter,
			},
		},
		Commands: []*cli.Command{
			scanCommand(),
			credentialsCommand(),
			discoverCommand(),
			serveCommand(),
		},
	}
}

func revealFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "reveal",
		Usage: "print the full access token",
	}
}

func scanFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:  "scan--backoff",
			Usage: "pause between scan rounds",
			Value: app.DefaultConfigScanBackoff,
		},
		&cli.DurationFlag{
			Name:  "scan--probe-timeout",
			Usage: "timeout of a single verification request",
			Value: app.DefaultConfigScanProbeTimeout,
		},
		&cli.StringFlag{
			Name:  "scan--host",
			Usage: "host used for verification requests",
			Value: app.DefaultConfigScanHost,
		},
	}
}

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "credentials--database",
			Usage: "path to state.vscdb (default: OS-specific location)",
		},
		&cli.StringFlag{
			Name:  "credentials--temp-dir",
			Usage: "directory for temporary database copies",
		},
	}
}

func exportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "export--storage",
			Usage: "token export storage (none|file|keyring)",
			Value: string(app.DefaultConfigExportStorage),
		},
		&cli.StringFlag{
			Name:  "export--file",
			Usage: "token file for file storage",
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "locate the language server and print its connection parameters",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:  "attempts",
				Usage: "scan rounds before giving up (default: scan.max_attempts)",
			},
		}, scanFlags()...),
		Action: withApp(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			res, err := application.Scan(ctx, int(cmd.Int("attempts")))
			if err != nil {
				return err
			}
			return writeJSON(cmd.Root().Writer, res)
		}),
	}
}

func credentialsCommand() *cli.Command {
	return &cli.Command{
		Name:  "credentials",
		Usage: "extract the access token from the local state database",
		Flags: append(append([]cli.Flag{
			revealFlag(),
			&cli.BoolFlag{
				Name:  "save",
				Usage: "export the token to the configured storage",
			},
		}, credentialFlags()...), exportFlags()...),
		Action: withApp(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			extract := application.Credentials
			if cmd.Bool("save") {
				extract = application.Export
			}
			tok, err := extract(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.Root().Writer, newCredentialView(tok, cmd.Bool("reveal")))
		}),
		Commands: []*cli.Command{
			{
				Name:  "stored",
				Usage: "print the last exported token",
				Flags: append([]cli.Flag{revealFlag()}, exportFlags()...),
				Action: withApp(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
					tok, err := application.StoredToken(ctx)
					if err != nil {
						return fmt.Errorf("reading exported token: %w", err)
					}
					return writeJSON(cmd.Root().Writer, newCredentialView(tok, cmd.Bool("reveal")))
				}),
			},
		},
	}
}

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "scan and extract concurrently and print a combined report",
		Flags: append(append([]cli.Flag{revealFlag()}, scanFlags()...), credentialFlags()...),
		Action: withApp(func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			report, err := application.Discover(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.Root().Writer, newReportView(report, cmd.Bool("reveal")))
		}),
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve scan results, credentials and metrics over loopback HTTP",
		Flags: append(append(append([]cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.FloatFlag{
				Name:  "server--scan-rate",
				Usage: "scan requests allowed per second",
				Value: app.DefaultConfigServerScanRate,
			},
			&cli.IntFlag{
				Name:  "server--scan-burst",
				Usage: "scan requests allowed in a burst",
				Value: app.DefaultConfigServerScanBurst,
			},
		}, scanFlags()...), credentialFlags()...), exportFlags()...),
		Action: withApp(func(ctx context.Context, _ *cli.Command, application *app.App) error {
			slog.InfoContext(ctx, "starting")

			if err := application.Start(ctx); err != nil {
				return fmt.Errorf("app failed to start: %w", err)
			}

			slog.InfoContext(ctx, "stopped gracefully")
			return nil
		}),
	}
}

type appAction func(ctx context.Context, cmd *cli.Command, application *app.App) error

// withApp loads configuration, sets up logging and builds the App before running action.
func withApp(action appAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Set up observability before creating app
		shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), cfg.OTelExporter)
		if err != nil {
			return fmt.Errorf("failed to set up observability layer: %w", err)
		}
		defer func() {
			// ctx may already be cancelled by a signal; flushing must still happen.
			if shutdownErr := shutdown(context.WithoutCancel(ctx)); shutdownErr != nil && err == nil {
				err = fmt.Errorf("failed to shut down observability layer: %w", shutdownErr)
			}
		}()

		application, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}

		return action(ctx, cmd, application)
	}
}
