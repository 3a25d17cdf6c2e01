package cli

import (
	"bytes"
	stdcontext "context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Paintersrp/devsup/internal/engine"
	rt "github.com/Paintersrp/devsup/internal/runtime"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests rely on POSIX shell utilities")
	}
}

// syncBuffer serializes writes from child output copiers and the supervisor
// logger, which share one writer in these tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func executeRun(t *testing.T, ctx stdcontext.Context, manifest string, extra ...string) (stdout, stderr string, err error) {
	t.Helper()
	path := writeSession(t, manifest)
	t.Setenv("DEVSUP_HOME", t.TempDir())

	cmd := NewRootCmd()
	outBuf := &syncBuffer{}
	errBuf := &syncBuffer{}
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	args := append([]string{"run", "--file", path, "--log-format", "json", "--hard-timeout", "2s"}, extra...)
	cmd.SetArgs(args)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()
	select {
	case err = <-done:
	case <-time.After(20 * time.Second):
		t.Fatalf("run did not finish")
	}
	return outBuf.String(), errBuf.String(), err
}

func TestRunReportsUnexpectedExit(t *testing.T) {
	skipOnWindows(t)
	manifest := sessionManifest(
		`version: "1"`,
		"session:",
		"  name: dev",
		"services:",
		"  - name: sleeper",
		"    command: [sleep, \"30\"]",
		"  - name: crasher",
		"    command: [sh, -c, \"sleep 0.2; exit 3\"]",
	)

	_, stderr, err := executeRun(t, stdcontext.Background(), manifest, "--poll-interval", "100ms")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "service crasher shut down unexpectedly with exit code 3") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, `"event":"stopped"`) || !strings.Contains(stderr, `"cause":"service_failure"`) {
		t.Fatalf("expected stopped event in logs:\n%s", stderr)
	}
}

func TestRunCancellationIsSuccess(t *testing.T) {
	skipOnWindows(t)
	manifest := sessionManifest(
		`version: "1"`,
		"session:",
		"  name: dev",
		"services:",
		"  - name: sleeper",
		"    command: [sleep, \"30\"]",
	)

	ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 300*time.Millisecond)
	defer cancel()
	_, stderr, err := executeRun(t, ctx, manifest, "--grace-period", "100ms", "--grace-tick", "50ms")
	if err != nil {
		t.Fatalf("expected cancellation to succeed, got %v\n%s", err, stderr)
	}
	if !strings.Contains(stderr, `"cause":"user_cancellation"`) {
		t.Fatalf("expected user cancellation in logs:\n%s", stderr)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	skipOnWindows(t)
	manifest := sessionManifest(
		`version: "1"`,
		"session:",
		"  name: dev",
		"services:",
		"  - name: sleeper",
		"    command: [sleep, \"30\"]",
		"  - name: ghost",
		"    command: [devsup-test-missing-binary]",
	)

	_, _, err := executeRun(t, stdcontext.Background(), manifest, "--grace-tick", "50ms")
	if err == nil || !strings.Contains(err.Error(), "failed to start service ghost") {
		t.Fatalf("expected spawn failure for ghost, got %v", err)
	}
}

func TestRunPrefixModeStreamsOutput(t *testing.T) {
	skipOnWindows(t)
	manifest := sessionManifest(
		`version: "1"`,
		"session:",
		"  name: dev",
		"  output: prefix",
		"services:",
		"  - name: talker",
		"    command: [sh, -c, \"echo hello-from-talker; exec sleep 30\"]",
	)

	ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 500*time.Millisecond)
	defer cancel()
	_, stderr, err := executeRun(t, ctx, manifest, "--grace-period", "0s")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !strings.Contains(stderr, `"msg":"hello-from-talker"`) || !strings.Contains(stderr, `"service":"talker"`) {
		t.Fatalf("expected captured output in logs:\n%s", stderr)
	}
}

func TestRunPassthroughSharesStderrWithLogger(t *testing.T) {
	skipOnWindows(t)
	manifest := sessionManifest(
		`version: "1"`,
		"session:",
		"  name: dev",
		"services:",
		"  - name: chatty",
		"    command: [sh, -c, \"for i in 1 2 3 4 5; do echo chatty-line >&2; sleep 0.05; done; exit 4\"]",
	)

	_, stderr, err := executeRun(t, stdcontext.Background(), manifest, "--poll-interval", "20ms", "--log-level", "debug")
	if err == nil || !strings.Contains(err.Error(), "service chatty shut down unexpectedly with exit code 4") {
		t.Fatalf("expected chatty failure, got %v", err)
	}
	if !strings.Contains(stderr, "chatty-line") {
		t.Fatalf("expected child stderr in output:\n%s", stderr)
	}
	if !strings.Contains(stderr, `"service":"chatty"`) {
		t.Fatalf("expected supervisor log lines in output:\n%s", stderr)
	}
}

func TestRunRejectsInvalidOverrides(t *testing.T) {
	manifest := sessionManifest(
		`version: "1"`,
		"session:",
		"  name: dev",
		"services:",
		"  - name: sleeper",
		"    command: [sleep, \"30\"]",
	)
	_, _, err := executeRun(t, stdcontext.Background(), manifest, "--poll-interval", "0s")
	if err == nil || !strings.Contains(err.Error(), "--poll-interval") {
		t.Fatalf("expected poll interval error, got %v", err)
	}
}

func TestDescribeOutcome(t *testing.T) {
	if err := describeOutcome(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	failure := &engine.ServiceFailure{Service: "web", Status: rt.ExitStatus{Code: 2}}
	if err := describeOutcome(failure); err == nil || err.Error() != "service web shut down unexpectedly with exit code 2" {
		t.Fatalf("unexpected failure message %v", err)
	}
	cause := errors.New("no such file")
	spawn := &engine.ServiceSetSpawnError{Service: "web", Err: cause}
	if err := describeOutcome(spawn); err == nil || !errors.Is(err, cause) || !strings.Contains(err.Error(), "failed to start service web") {
		t.Fatalf("unexpected spawn message %v", err)
	}
}
