package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/devsup/internal/runtime"
)

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// fakeClock advances only when something sleeps or waits on it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.advance(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) advanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// call records one operation made against a fake handle.
type call struct {
	service string
	op      string
	at      time.Time
}

type callLog struct {
	mu    sync.Mutex
	calls []call
}

func (l *callLog) record(service, op string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call{service: service, op: op, at: at})
}

func (l *callLog) snapshot() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]call(nil), l.calls...)
}

func (l *callLog) ops(service, op string) []call {
	var out []call
	for _, c := range l.snapshot() {
		if c.service == service && c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// behaviour scripts how a fake process reacts.
type behaviour struct {
	// exitAfter is the offset from the fake epoch at which the process exits
	// on its own. Zero means never.
	exitAfter time.Duration
	// exitOnInterrupt makes the process exit this long after an interrupt.
	// Negative means the interrupt is ignored.
	exitOnInterrupt time.Duration
	status          runtime.ExitStatus
}

func never() behaviour {
	return behaviour{exitOnInterrupt: -1}
}

func cooperative(delay time.Duration) behaviour {
	return behaviour{exitOnInterrupt: delay}
}

type fakeHandle struct {
	name  string
	clock *fakeClock
	log   *callLog
	b     behaviour

	mu     sync.Mutex
	exitAt time.Time
	status runtime.ExitStatus
}

func newFakeHandle(name string, clock *fakeClock, log *callLog, b behaviour) *fakeHandle {
	h := &fakeHandle{name: name, clock: clock, log: log, b: b, status: b.status}
	if b.exitAfter > 0 {
		h.exitAt = epoch.Add(b.exitAfter)
	}
	return h
}

func (h *fakeHandle) Name() string { return h.name }

func (h *fakeHandle) PID() int { return 4242 }

func (h *fakeHandle) Logs() <-chan runtime.LogEntry { return nil }

func (h *fakeHandle) exitedBy(t time.Time) bool {
	return !h.exitAt.IsZero() && !t.Before(h.exitAt)
}

func (h *fakeHandle) Poll() (runtime.ExitStatus, bool) {
	now := h.clock.Now()
	h.log.record(h.name, "poll", now)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exitedBy(now) {
		return h.status, true
	}
	return runtime.ExitStatus{}, false
}

func (h *fakeHandle) Interrupt() error {
	now := h.clock.Now()
	h.log.record(h.name, "interrupt", now)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.b.exitOnInterrupt < 0 || h.exitedBy(now) {
		return nil
	}
	at := now.Add(h.b.exitOnInterrupt)
	if h.exitAt.IsZero() || at.Before(h.exitAt) {
		h.exitAt = at
		h.status = runtime.ExitStatus{Code: 130}
	}
	return nil
}

func (h *fakeHandle) Wait(timeout time.Duration) (runtime.ExitStatus, error) {
	now := h.clock.Now()
	h.log.record(h.name, "wait", now)
	h.mu.Lock()
	exitAt, status := h.exitAt, h.status
	h.mu.Unlock()
	limit := now.Add(timeout)
	if !exitAt.IsZero() && !exitAt.After(limit) {
		h.clock.advanceTo(exitAt)
		return status, nil
	}
	h.clock.advanceTo(limit)
	return runtime.ExitStatus{}, runtime.ErrWaitTimeout
}

func (h *fakeHandle) Kill() error {
	now := h.clock.Now()
	h.log.record(h.name, "kill", now)
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exitedBy(now) {
		h.exitAt = now
		h.status = runtime.ExitStatus{Code: -1, Signal: "SIGKILL"}
	}
	return nil
}

// fakeSpawner hands out scripted handles by service name.
type fakeSpawner struct {
	clock      *fakeClock
	log        *callLog
	behaviours map[string]behaviour
	fail       map[string]error

	handles map[string]*fakeHandle
	order   []string
}

func newFakeSpawner(clock *fakeClock, behaviours map[string]behaviour) *fakeSpawner {
	return &fakeSpawner{
		clock:      clock,
		log:        &callLog{},
		behaviours: behaviours,
		fail:       map[string]error{},
		handles:    map[string]*fakeHandle{},
	}
}

func (s *fakeSpawner) Spawn(cmd runtime.Command) (runtime.Handle, error) {
	s.log.record(cmd.Name, "spawn", s.clock.Now())
	if err, ok := s.fail[cmd.Name]; ok {
		return nil, &runtime.SpawnError{Service: cmd.Name, Argv: cmd.Argv(), Err: err}
	}
	b, ok := s.behaviours[cmd.Name]
	if !ok {
		return nil, fmt.Errorf("no behaviour scripted for %s", cmd.Name)
	}
	h := newFakeHandle(cmd.Name, s.clock, s.log, b)
	s.handles[cmd.Name] = h
	s.order = append(s.order, cmd.Name)
	return h, nil
}

func descriptors(names ...string) []ServiceDescriptor {
	out := make([]ServiceDescriptor, 0, len(names))
	for _, name := range names {
		out = append(out, ServiceDescriptor{
			Name:    name,
			Command: runtime.Command{Name: name, Path: "/usr/bin/" + name},
		})
	}
	return out
}

// spawnedSet builds a set and spawns it against the fake spawner.
func spawnedSet(sp *fakeSpawner, names ...string) (*ServiceSet, error) {
	set, err := NewServiceSet(descriptors(names...))
	if err != nil {
		return nil, err
	}
	set.clock = sp.clock
	if err := set.SpawnAll(sp, nil); err != nil {
		return set, err
	}
	return set, nil
}

// drain collects events until the channel is closed.
func drain(events <-chan Event) <-chan []Event {
	out := make(chan []Event, 1)
	go func() {
		var collected []Event
		for evt := range events {
			collected = append(collected, evt)
		}
		out <- collected
	}()
	return out
}

var errNoSuchFile = errors.New("no such file or directory")
