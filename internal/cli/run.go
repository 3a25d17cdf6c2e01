package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/devsup/internal/config"
	"github.com/Paintersrp/devsup/internal/engine"
	"github.com/Paintersrp/devsup/internal/instance"
	"github.com/Paintersrp/devsup/internal/launch"
	"github.com/Paintersrp/devsup/internal/logging"
	"github.com/Paintersrp/devsup/internal/metrics"
	"github.com/Paintersrp/devsup/internal/runtime/process"
)

const (
	eventBuffer            = 256
	metricsShutdownTimeout = 5 * time.Second
)

type runOptions struct {
	gracePeriod  time.Duration
	hardTimeout  time.Duration
	pollInterval time.Duration
	graceTick    time.Duration
	extraArgs    []string
	metricsAddr  string
	watch        bool
}

func newRunCmd(ctx *context) *cobra.Command {
	opts := runOptions{metricsAddr: envOrDefault(envMetricsAddr, "")}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start every service and supervise them until interrupted or one fails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadSession()
			if err != nil {
				return err
			}

			overrides := launch.TimingOverrides{}
			if cmd.Flags().Changed("grace-period") {
				overrides.GracePeriod = &opts.gracePeriod
			}
			if cmd.Flags().Changed("hard-timeout") {
				overrides.HardTimeout = &opts.hardTimeout
			}
			if cmd.Flags().Changed("poll-interval") {
				overrides.PollInterval = &opts.pollInterval
			}
			if cmd.Flags().Changed("grace-tick") {
				overrides.GraceTick = &opts.graceTick
			}
			if err := validateOverrides(overrides); err != nil {
				return err
			}

			return ctx.runSession(cmd.Context(), doc, sessionRun{
				timing:      launch.Timing(doc.Session.Timing, overrides),
				extraArgs:   opts.extraArgs,
				metricsAddr: opts.metricsAddr,
				watch:       opts.watch,
				logger:      ctx.logger(cmd),
				stdout:      cmd.OutOrStdout(),
				stderr:      cmd.ErrOrStderr(),
			})
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.gracePeriod, "grace-period", engine.DefaultGracePeriod, "Time services get to stop on their own after Ctrl-C")
	flags.DurationVar(&opts.hardTimeout, "hard-timeout", engine.DefaultHardTimeout, "Time to wait after an interrupt before killing a service")
	flags.DurationVar(&opts.pollInterval, "poll-interval", engine.DefaultPollInterval, "How often running services are checked for unexpected exits")
	flags.DurationVar(&opts.graceTick, "grace-tick", engine.DefaultGraceTick, "How often a stopping service is re-checked during the grace period")
	flags.StringArrayVar(&opts.extraArgs, "arg", nil, "Extra argument appended to every service command (repeatable)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", opts.metricsAddr, "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	flags.BoolVar(&opts.watch, "watch", false, "Warn when the session file changes while services are running")
	return cmd
}

func validateOverrides(o launch.TimingOverrides) error {
	positive := []struct {
		flag  string
		value *time.Duration
	}{
		{"hard-timeout", o.HardTimeout},
		{"poll-interval", o.PollInterval},
		{"grace-tick", o.GraceTick},
	}
	for _, p := range positive {
		if p.value != nil && *p.value <= 0 {
			return fmt.Errorf("--%s must be greater than zero", p.flag)
		}
	}
	if o.GracePeriod != nil && *o.GracePeriod < 0 {
		return errors.New("--grace-period must not be negative")
	}
	return nil
}

type sessionRun struct {
	timing      engine.Timing
	extraArgs   []string
	metricsAddr string
	watch       bool
	logger      *slog.Logger
	stdout      io.Writer
	stderr      io.Writer
}

func (c *context) runSession(ctx stdcontext.Context, doc *config.Session, run sessionRun) error {
	logger := run.logger.With("session", doc.Session.Name)

	if run.metricsAddr != "" {
		srv, err := metrics.Listen(run.metricsAddr, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	if run.watch {
		stopWatch, err := watchSessionFile(ctx, doc.Source, logger)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	spawner := c.newSpawner(process.Options{
		Isolate: doc.Session.Isolate,
		Capture: doc.Session.Output == config.OutputPrefix,
		Stdout:  run.stdout,
		Stderr:  run.stderr,
	})

	prepare := func(stdcontext.Context) ([]engine.ServiceDescriptor, func() error, error) {
		inst, err := instance.Open(instance.Options{
			Home:   doc.Session.Home,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		descs, err := launch.Build(doc, inst.Ref(), launch.Options{Extra: run.extraArgs})
		if err != nil {
			_ = inst.Close()
			return nil, nil, err
		}
		for _, desc := range descs {
			logger.Debug("launch plan", "service", desc.Name, "command", launch.Describe(desc), "dir", desc.Command.Dir)
		}
		logger.Info("launching services", "services", doc.ServiceNames(), "home", inst.Ref().Home)
		return descs, inst.Close, nil
	}

	events := make(chan engine.Event, eventBuffer)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		logging.Consume(stdcontext.Background(), logger, events, metrics.Observe)
	}()

	session := engine.NewSession(engine.Config{
		Prepare: prepare,
		Spawner: spawner,
		Timing:  run.timing,
		Events:  events,
	})
	err := session.Run(ctx)
	close(events)
	<-consumed

	report := session.Report()
	logger.Debug("session finished", "cause", report.Cause.String(), "shutdown", report.ShutdownDuration)
	for _, svc := range report.Services {
		logger.Debug("service final state", "service", svc.Name, "state", svc.State.String(), "status", svc.Status.String())
	}
	return describeOutcome(err)
}

// describeOutcome turns a session result into the command's error. Operator
// cancellation is success.
func describeOutcome(err error) error {
	if err == nil {
		return nil
	}
	var failure *engine.ServiceFailure
	if errors.As(err, &failure) {
		return fmt.Errorf("service %s shut down unexpectedly with %s", failure.Service, failure.Status)
	}
	var spawnErr *engine.ServiceSetSpawnError
	if errors.As(err, &spawnErr) {
		return fmt.Errorf("failed to start service %s: %w", spawnErr.Service, errors.Unwrap(spawnErr))
	}
	return err
}

func watchSessionFile(ctx stdcontext.Context, path string, logger *slog.Logger) (func(), error) {
	watcher, err := config.NewWatcher(path, config.DefaultWatchDebounce)
	if err != nil {
		return nil, err
	}
	watchCtx, cancel := stdcontext.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Run(watchCtx,
			func(p string) {
				logger.Warn("session file changed; restart devsup to apply it", "file", p)
			},
			func(err error) {
				logger.Warn("session file watch error", "error", err)
			})
	}()
	return func() {
		cancel()
		<-done
	}, nil
}
