// cmd/reposync/main.go
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"repo-metadata-sync/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(stdout)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// cli carries state shared by every subcommand once the root pre-run has loaded it.
type cli struct {
	cfg      *config.Config
	logger   *slog.Logger
	logLevel *slog.LevelVar
	envDir   string
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	c := &cli{logLevel: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "reposync",
		Short:         "Record GitHub repositories and their changed files in a table store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c.envDir)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = newLogger(stdout, cfg.LogFormat, cfg.LogLevel, c.logLevel)
			slog.SetDefault(c.logger)
			c.logger.Debug("Configuration loaded successfully")
			return nil
		},
	}
	root.SetOut(stdout)
	root.PersistentFlags().StringVar(&c.envDir, "env-dir", ".", "directory searched for an optional .env file")

	root.AddCommand(newSeedCmd(c), newScanCmd(c), newServeCmd(c))
	return root
}

// newLogger builds the process logger. LOG_FORMAT=text selects the text
// handler, anything else JSON.
func newLogger(w io.Writer, format, level string, v *slog.LevelVar) *slog.Logger {
	setLogLevel(level, v)
	opts := &slog.HandlerOptions{Level: v}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch strings.ToLower(level) {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
