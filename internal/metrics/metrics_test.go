package metrics_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/devsup/internal/engine"
	"github.com/Paintersrp/devsup/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRegistryExposesMetrics(t *testing.T) {
	service := "metrics_test_service"
	t.Cleanup(func() { metrics.ResetService(service) })

	metrics.EmitBuildInfo()
	metrics.SetServiceUp(service, true)
	metrics.IncrementServiceFailure(service)
	metrics.IncrementServiceFailure(service)

	body := scrape(t)
	upLine := fmt.Sprintf("devsup_service_up{service=\"%s\"} 1", service)
	if !strings.Contains(body, upLine) {
		t.Fatalf("expected up metric line %q in body:\n%s", upLine, body)
	}
	failuresLine := fmt.Sprintf("devsup_service_failures_total{service=\"%s\"} 2", service)
	if !strings.Contains(body, failuresLine) {
		t.Fatalf("expected failure metric line %q in body:\n%s", failuresLine, body)
	}
	if !strings.Contains(body, "devsup_build_info{") {
		t.Fatalf("expected build info metric in body:\n%s", body)
	}
	if !strings.Contains(body, "go_version=") {
		t.Fatalf("expected go_version label on build info metric:\n%s", body)
	}
}

func TestObserveMapsEvents(t *testing.T) {
	service := "observe_test_service"
	t.Cleanup(func() { metrics.ResetService(service) })

	metrics.Observe(engine.Event{Service: service, Type: engine.EventTypeRunning})
	if body := scrape(t); !strings.Contains(body, fmt.Sprintf("devsup_service_up{service=\"%s\"} 1", service)) {
		t.Fatalf("expected service up after running event:\n%s", body)
	}

	metrics.Observe(engine.Event{Service: service, Type: engine.EventTypeInterrupting})
	metrics.Observe(engine.Event{Service: service, Type: engine.EventTypeKilled})
	metrics.Observe(engine.Event{Type: engine.EventTypeStopped, Cause: engine.CauseServiceFailure, Elapsed: 3 * time.Second})

	body := scrape(t)
	for _, line := range []string{
		fmt.Sprintf("devsup_service_up{service=\"%s\"} 0", service),
		fmt.Sprintf("devsup_shutdown_escalations_total{action=\"interrupt\",service=\"%s\"} 1", service),
		fmt.Sprintf("devsup_shutdown_escalations_total{action=\"kill\",service=\"%s\"} 1", service),
		"devsup_shutdown_duration_seconds_count{cause=\"service_failure\"}",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in body:\n%s", line, body)
		}
	}
}

func TestServerServesMetrics(t *testing.T) {
	metrics.EmitBuildInfo()
	srv, err := metrics.Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "devsup_") {
		t.Fatalf("unexpected response %d:\n%s", resp.StatusCode, body)
	}
}

func TestRegistryGathersServiceFamilies(t *testing.T) {
	service := "gather_test_service"
	t.Cleanup(func() { metrics.ResetService(service) })

	metrics.SetServiceUp(service, true)
	metrics.IncrementEscalation(service, "kill")

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "service" && label.GetValue() == service {
					found[mf.GetName()] = true
				}
			}
		}
	}
	for _, name := range []string{"devsup_service_up", "devsup_shutdown_escalations_total"} {
		if !found[name] {
			t.Fatalf("expected %s to carry service=%q, gathered %v", name, service, found)
		}
	}
}
