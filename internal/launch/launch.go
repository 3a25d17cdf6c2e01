// Package launch turns a loaded session file into the ordered service
// descriptors the supervisor spawns.
package launch

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Paintersrp/devsup/internal/config"
	"github.com/Paintersrp/devsup/internal/engine"
	"github.com/Paintersrp/devsup/internal/instance"
	"github.com/Paintersrp/devsup/internal/logging"
	"github.com/Paintersrp/devsup/internal/runtime"
)

const (
	EnvSessionID = "DEVSUP_SESSION_ID"
	EnvService   = "DEVSUP_SERVICE"
)

// Options carries the inputs that do not come from the session file.
type Options struct {
	// Extra arguments appended to every service command line.
	Extra []string
	// Environ is the base environment. Defaults to os.Environ.
	Environ []string
}

// Build assembles one descriptor per service, in declaration order. Each
// command line is the service command, then the shared arguments, then the
// instance reference flag and value, then the extra arguments.
func Build(doc *config.Session, ref instance.Ref, opts Options) ([]engine.ServiceDescriptor, error) {
	if doc == nil {
		return nil, fmt.Errorf("build launch plan: session is nil")
	}

	var refArgs []string
	if flag := doc.Shared.InstanceRefFlag; flag != "" {
		encoded, err := ref.Encode()
		if err != nil {
			return nil, err
		}
		refArgs = []string{flag, encoded}
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	base := envMap(environ)

	descs := make([]engine.ServiceDescriptor, 0, len(doc.Services))
	for _, svc := range doc.Services {
		if svc == nil || len(svc.Command) == 0 {
			return nil, fmt.Errorf("build launch plan: service %q has no command", serviceName(svc))
		}

		args := make([]string, 0, len(svc.Command)-1+len(doc.Shared.Args)+len(refArgs)+len(opts.Extra))
		args = append(args, svc.Command[1:]...)
		args = append(args, doc.Shared.Args...)
		args = append(args, refArgs...)
		args = append(args, opts.Extra...)

		env := make(map[string]string, len(base)+len(doc.Shared.Env)+len(svc.Env)+3)
		for _, layer := range []map[string]string{base, doc.Shared.Env, svc.Env} {
			for k, v := range layer {
				env[k] = v
			}
		}
		env[EnvSessionID] = ref.SessionID
		env[EnvService] = svc.Name
		if ref.Home != "" {
			env[instance.HomeEnv] = ref.Home
		}

		descs = append(descs, engine.ServiceDescriptor{
			Name: svc.Name,
			Command: runtime.Command{
				Name: svc.Name,
				Path: svc.Command[0],
				Args: args,
				Env:  envList(env),
				Dir:  svc.ResolvedWorkdir,
			},
		})
	}
	return descs, nil
}

func serviceName(svc *config.ServiceSpec) string {
	if svc == nil {
		return ""
	}
	return svc.Name
}

func envMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// TimingOverrides are command-line values that take precedence over the
// session file. Nil fields are not overridden.
type TimingOverrides struct {
	PollInterval *time.Duration
	GracePeriod  *time.Duration
	GraceTick    *time.Duration
	HardTimeout  *time.Duration
}

// Timing resolves the supervisor timings: defaults, then the session file,
// then overrides.
func Timing(spec config.TimingSpec, overrides TimingOverrides) engine.Timing {
	timing := engine.DefaultTiming()
	apply := func(dst *time.Duration, fromFile config.Duration, override *time.Duration) {
		if fromFile.IsSet() {
			*dst = fromFile.Duration
		}
		if override != nil {
			*dst = *override
		}
	}
	apply(&timing.PollInterval, spec.PollInterval, overrides.PollInterval)
	apply(&timing.GracePeriod, spec.GracePeriod, overrides.GracePeriod)
	apply(&timing.GraceTick, spec.GraceTick, overrides.GraceTick)
	apply(&timing.HardTimeout, spec.HardTimeout, overrides.HardTimeout)
	return timing
}

// Describe renders a descriptor's command line for display, quoting
// arguments that need it and masking secrets.
func Describe(desc engine.ServiceDescriptor) string {
	argv := desc.Command.Argv()
	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = quoteArg(arg)
	}
	return logging.RedactSecrets(strings.Join(parts, " "))
}

// DescribeEnv lists the environment entries the session adds on top of the
// base environment, with secret values masked.
func DescribeEnv(desc engine.ServiceDescriptor, environ []string) []string {
	base := envMap(environ)
	var out []string
	for _, kv := range desc.Command.Env {
		key, value, _ := strings.Cut(kv, "=")
		if prev, ok := base[key]; ok && prev == value {
			continue
		}
		out = append(out, key+"="+logging.RedactEnvValue(key, value))
	}
	return out
}

func quoteArg(arg string) string {
	if arg == "" {
		return `""`
	}
	if strings.ContainsAny(arg, " \t\n\"'\\$`{}") {
		return strconv.Quote(arg)
	}
	return arg
}
