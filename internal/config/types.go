package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration for YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// NewDuration returns an explicitly set duration.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d, explicit: true}
}

const (
	// OutputInherit passes child output straight through to the terminal.
	OutputInherit = "inherit"
	// OutputPrefix captures child output and re-emits it line by line tagged
	// with the service name.
	OutputPrefix = "prefix"
)

// Session mirrors the session file document structure.
type Session struct {
	Version  string         `yaml:"version" toml:"version"`
	Session  SessionMeta    `yaml:"session" toml:"session"`
	Shared   SharedSpec     `yaml:"shared" toml:"shared"`
	Services []*ServiceSpec `yaml:"services" toml:"services"`

	// Source is the absolute path the session was loaded from.
	Source string `yaml:"-" toml:"-"`
}

// SessionMeta carries session-wide settings.
type SessionMeta struct {
	Name    string     `yaml:"name" toml:"name"`
	Home    string     `yaml:"home" toml:"home"`
	Workdir string     `yaml:"workdir" toml:"workdir"`
	Isolate bool       `yaml:"isolate" toml:"isolate"`
	Output  string     `yaml:"output" toml:"output"`
	Timing  TimingSpec `yaml:"timing" toml:"timing"`
}

// TimingSpec overrides the supervisor's cadences and timeouts. Unset values
// keep the built-in defaults.
type TimingSpec struct {
	PollInterval Duration `yaml:"pollInterval" toml:"pollInterval"`
	GracePeriod  Duration `yaml:"gracePeriod" toml:"gracePeriod"`
	GraceTick    Duration `yaml:"graceTick" toml:"graceTick"`
	HardTimeout  Duration `yaml:"hardTimeout" toml:"hardTimeout"`
}

// SharedSpec holds launch settings appended to every service.
type SharedSpec struct {
	Args []string `yaml:"args" toml:"args"`
	// InstanceRefFlag, when set, is followed on every command line by the
	// serialized reference to the session's instance directory.
	InstanceRefFlag string            `yaml:"instanceRefFlag" toml:"instanceRefFlag"`
	Env             map[string]string `yaml:"env" toml:"env"`
}

// ServiceSpec describes an individual supervised service.
type ServiceSpec struct {
	Name        string            `yaml:"name" toml:"name"`
	Command     []string          `yaml:"command" toml:"command"`
	Env         map[string]string `yaml:"env" toml:"env"`
	EnvFromFile string            `yaml:"envFromFile" toml:"envFromFile"`
	Ports       []string          `yaml:"ports" toml:"ports"`
	Workdir     string            `yaml:"workdir" toml:"workdir"`

	ResolvedWorkdir string `yaml:"-" toml:"-"`
}

// Clone creates a deep copy of the service specification.
func (s *ServiceSpec) Clone() *ServiceSpec {
	if s == nil {
		return nil
	}
	cp := *s
	if len(s.Command) > 0 {
		cp.Command = append([]string(nil), s.Command...)
	}
	if len(s.Ports) > 0 {
		cp.Ports = append([]string(nil), s.Ports...)
	}
	if len(s.Env) > 0 {
		cp.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			cp.Env[k] = v
		}
	}
	return &cp
}

// ApplyDefaults fills in optional settings.
func (s *Session) ApplyDefaults() {
	s.Session.Output = strings.ToLower(strings.TrimSpace(s.Session.Output))
	if s.Session.Output == "" {
		s.Session.Output = OutputInherit
	}
	for _, svc := range s.Services {
		if svc == nil {
			continue
		}
		svc.Name = strings.TrimSpace(svc.Name)
	}
}

// ServiceNames returns the service names in supervision order.
func (s *Session) ServiceNames() []string {
	out := make([]string, 0, len(s.Services))
	for _, svc := range s.Services {
		if svc == nil {
			continue
		}
		out = append(out, svc.Name)
	}
	return out
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}

func serviceField(index int, parts ...string) string {
	pathParts := append([]string{fmt.Sprintf("services[%d]", index)}, parts...)
	return fieldPath(pathParts...)
}
