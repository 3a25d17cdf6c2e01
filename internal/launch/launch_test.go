package launch

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/devsup/internal/config"
	"github.com/Paintersrp/devsup/internal/engine"
	"github.com/Paintersrp/devsup/internal/instance"
	"github.com/Paintersrp/devsup/internal/runtime"
)

func testSession() *config.Session {
	return &config.Session{
		Version: "1",
		Session: config.SessionMeta{Name: "dev"},
		Shared: config.SharedSpec{
			Args:            []string{"--log-level", "info"},
			InstanceRefFlag: "--instance-ref",
			Env:             map[string]string{"SHARED": "1", "OVERRIDE": "shared"},
		},
		Services: []*config.ServiceSpec{
			{Name: "webserver", Command: []string{"webserver", "--port", "3000"}, ResolvedWorkdir: "/srv/app", Env: map[string]string{"OVERRIDE": "service"}},
			{Name: "daemon", Command: []string{"daemon", "run"}},
		},
	}
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestBuildAssemblesCommandLines(t *testing.T) {
	ref := instance.Ref{Home: "/tmp/home", SessionID: "abc"}
	encoded, err := ref.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	descs, err := Build(testSession(), ref, Options{
		Extra:   []string{"--workspace", "ws.yaml"},
		Environ: []string{"PATH=/usr/bin", "OVERRIDE=base"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(descs) != 2 || descs[0].Name != "webserver" || descs[1].Name != "daemon" {
		t.Fatalf("expected declaration order, got %+v", descs)
	}

	want := []string{"webserver", "--port", "3000", "--log-level", "info", "--instance-ref", encoded, "--workspace", "ws.yaml"}
	if got := descs[0].Command.Argv(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected argv\n got %q\nwant %q", got, want)
	}
	if descs[0].Command.Dir != "/srv/app" {
		t.Fatalf("unexpected dir %q", descs[0].Command.Dir)
	}

	env := descs[0].Command.Env
	checks := map[string]string{
		"PATH":           "/usr/bin",
		"SHARED":         "1",
		"OVERRIDE":       "service",
		EnvSessionID:     "abc",
		EnvService:       "webserver",
		instance.HomeEnv: "/tmp/home",
	}
	for key, want := range checks {
		if got, ok := envValue(env, key); !ok || got != want {
			t.Fatalf("env %s: got %q (present=%v) want %q", key, got, ok, want)
		}
	}
	if got, _ := envValue(descs[1].Command.Env, "OVERRIDE"); got != "shared" {
		t.Fatalf("expected shared env to override base for daemon, got %q", got)
	}
	if got, _ := envValue(descs[1].Command.Env, EnvService); got != "daemon" {
		t.Fatalf("expected per-service name, got %q", got)
	}
}

func TestBuildWithoutInstanceRefFlag(t *testing.T) {
	doc := testSession()
	doc.Shared.InstanceRefFlag = ""
	descs, err := Build(doc, instance.Ref{Home: "/tmp/home"}, Options{Environ: []string{}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, arg := range descs[1].Command.Args {
		if arg == "--instance-ref" {
			t.Fatalf("unexpected instance ref flag in %q", descs[1].Command.Args)
		}
	}
}

func TestBuildRejectsMissingCommand(t *testing.T) {
	doc := testSession()
	doc.Services[1].Command = nil
	if _, err := Build(doc, instance.Ref{}, Options{}); err == nil || !strings.Contains(err.Error(), "daemon") {
		t.Fatalf("expected error naming daemon, got %v", err)
	}
}

func TestTimingPrecedence(t *testing.T) {
	spec := config.TimingSpec{
		GracePeriod: config.NewDuration(10 * time.Second),
		HardTimeout: config.NewDuration(20 * time.Second),
	}
	zero := time.Duration(0)
	poll := 2 * time.Second
	timing := Timing(spec, TimingOverrides{GracePeriod: &zero, PollInterval: &poll})

	want := engine.Timing{
		PollInterval: 2 * time.Second,
		GracePeriod:  0,
		GraceTick:    engine.DefaultGraceTick,
		HardTimeout:  20 * time.Second,
	}
	if timing != want {
		t.Fatalf("unexpected timing %+v, want %+v", timing, want)
	}
	if got := Timing(config.TimingSpec{}, TimingOverrides{}); got != engine.DefaultTiming() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestDescribeQuotesAndRedacts(t *testing.T) {
	desc := engine.ServiceDescriptor{
		Name: "web",
		Command: runtime.Command{
			Path: "web",
			Args: []string{"--name", "my app", "DB_PASSWORD=hunter2", ""},
			Env:  []string{"PATH=/usr/bin", "API_TOKEN=xyz", "PORT=3000"},
		},
	}
	got := Describe(desc)
	want := `web --name "my app" DB_PASSWORD=[redacted] ""`
	if got != want {
		t.Fatalf("Describe() = %q, want %q", got, want)
	}

	env := DescribeEnv(desc, []string{"PATH=/usr/bin"})
	wantEnv := []string{"API_TOKEN=[redacted]", "PORT=3000"}
	if !reflect.DeepEqual(env, wantEnv) {
		t.Fatalf("DescribeEnv() = %q, want %q", env, wantEnv)
	}
}
