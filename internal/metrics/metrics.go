package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/devsup/internal/engine"
)

const (
	ActionInterrupt = "interrupt"
	ActionKill      = "kill"
)

var (
	registry = prometheus.NewRegistry()

	serviceUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "devsup",
		Name:      "service_up",
		Help:      "Whether the supervised service process is running (1=running, 0=stopped).",
	}, []string{"service"})

	serviceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devsup",
		Name:      "service_failures_total",
		Help:      "Total number of spawn failures and unexpected exits per service.",
	}, []string{"service"})

	shutdownEscalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devsup",
		Name:      "shutdown_escalations_total",
		Help:      "Interrupts and kills sent to services during shutdown.",
	}, []string{"service", "action"})

	shutdownDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devsup",
		Name:      "shutdown_duration_seconds",
		Help:      "Wall time of shutdown sequences in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"cause"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "devsup",
		Name:      "build_info",
		Help:      "Build metadata for the running devsup binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(serviceUp, serviceFailures, shutdownEscalations, shutdownDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all devsup metrics.
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetServiceUp records whether a service process is running.
func SetServiceUp(service string, up bool) {
	if service == "" {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	serviceUp.WithLabelValues(service).Set(value)
}

// IncrementServiceFailure counts a spawn failure or unexpected exit.
func IncrementServiceFailure(service string) {
	if service == "" {
		return
	}
	serviceFailures.WithLabelValues(service).Inc()
}

// IncrementEscalation counts an interrupt or kill sent during shutdown.
func IncrementEscalation(service, action string) {
	if service == "" || action == "" {
		return
	}
	shutdownEscalations.WithLabelValues(service, action).Inc()
}

// ObserveShutdown records how long a shutdown sequence took.
func ObserveShutdown(cause engine.ShutdownCause, d time.Duration) {
	shutdownDuration.WithLabelValues(cause.String()).Observe(d.Seconds())
}

// Observe updates metrics from a single engine event.
func Observe(evt engine.Event) {
	switch evt.Type {
	case engine.EventTypeRunning:
		SetServiceUp(evt.Service, true)
	case engine.EventTypeFailed:
		IncrementServiceFailure(evt.Service)
		SetServiceUp(evt.Service, false)
	case engine.EventTypeInterrupting:
		IncrementEscalation(evt.Service, ActionInterrupt)
	case engine.EventTypeKilled:
		IncrementEscalation(evt.Service, ActionKill)
		SetServiceUp(evt.Service, false)
	case engine.EventTypeExited:
		SetServiceUp(evt.Service, false)
	case engine.EventTypeStopped:
		ObserveShutdown(evt.Cause, evt.Elapsed)
	}
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetService clears every series recorded for a service.
func ResetService(service string) {
	if service == "" {
		return
	}
	serviceUp.DeleteLabelValues(service)
	serviceFailures.DeleteLabelValues(service)
	shutdownEscalations.DeletePartialMatch(prometheus.Labels{"service": service})
}

// Server exposes /metrics over HTTP for the lifetime of a session.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   *slog.Logger
	done     chan struct{}
}

// Listen binds addr and starts serving in the background.
func Listen(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	s := &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server and waits for it to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
