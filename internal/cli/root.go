package cli

import (
	stdcontext "context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/devsup/internal/config"
	"github.com/Paintersrp/devsup/internal/logging"
	"github.com/Paintersrp/devsup/internal/runtime"
	"github.com/Paintersrp/devsup/internal/runtime/process"
)

const defaultSessionFile = "devsup.yaml"

const (
	envSessionFile = "DEVSUP_FILE"
	envLogLevel    = "DEVSUP_LOG_LEVEL"
	envLogFormat   = "DEVSUP_LOG_FORMAT"
	envMetricsAddr = "DEVSUP_METRICS_ADDR"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{
		sessionFile: envOrDefault(envSessionFile, defaultSessionFile),
		logLevel:    envOrDefault(envLogLevel, "info"),
		logFormat:   envOrDefault(envLogFormat, logging.FormatAuto),
		newSpawner:  process.New,
	}

	root := &cobra.Command{
		Use:   "devsup",
		Short: "Run a set of local development services as one session",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !logging.ValidFormat(ctx.logFormat) {
				return fmt.Errorf("invalid --log-format %q: must be auto, text or json", ctx.logFormat)
			}
			return nil
		},
	}

	root.PersistentFlags().
		StringVarP(&ctx.sessionFile, "file", "f", ctx.sessionFile, "Path to session definition (.yaml or .toml)")
	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", ctx.logLevel, "Supervisor log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&ctx.logFormat, "log-format", ctx.logFormat, "Supervisor log format (auto, text, json)")

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newPlanCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	// The context stays registered for SIGINT until exit, so a second Ctrl-C
	// during shutdown is absorbed instead of killing the supervisor.
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

type context struct {
	sessionFile string
	logLevel    string
	logFormat   string

	newSpawner func(process.Options) runtime.Spawner
}

func (c *context) loadSession() (*config.Session, error) {
	return config.Load(c.sessionFile)
}

func (c *context) logger(cmd *cobra.Command) *slog.Logger {
	return logging.New(c.logLevel, c.logFormat, cmd.ErrOrStderr())
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
