package config

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"
)

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate enforces schema invariants that JSON schema cannot express.
func (s *Session) Validate() error {
	if s.Version == "" {
		return fmt.Errorf("%s: is required", fieldPath("version"))
	}
	if strings.TrimSpace(s.Session.Name) == "" {
		return fmt.Errorf("%s: is required", fieldPath("session", "name"))
	}
	switch s.Session.Output {
	case OutputInherit, OutputPrefix:
	default:
		return fmt.Errorf("%s: must be %q or %q", fieldPath("session", "output"), OutputInherit, OutputPrefix)
	}
	if err := s.Session.Timing.validate(); err != nil {
		return err
	}
	if flag := s.Shared.InstanceRefFlag; flag != "" && !strings.HasPrefix(flag, "-") {
		return fmt.Errorf("%s: must be a flag beginning with '-'", fieldPath("shared", "instanceRefFlag"))
	}
	if len(s.Services) == 0 {
		return fmt.Errorf("%s: must define at least one service", fieldPath("services"))
	}

	seen := make(map[string]int, len(s.Services))
	for i, svc := range s.Services {
		if svc == nil {
			return fmt.Errorf("%s: service entry is null", serviceField(i))
		}
		if svc.Name == "" {
			return fmt.Errorf("%s: is required", serviceField(i, "name"))
		}
		if !serviceNamePattern.MatchString(svc.Name) {
			return fmt.Errorf("%s: %q must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", serviceField(i, "name"), svc.Name)
		}
		if prev, dup := seen[svc.Name]; dup {
			return fmt.Errorf("%s: duplicate service name %q (also %s)", serviceField(i, "name"), svc.Name, serviceField(prev))
		}
		seen[svc.Name] = i
		if len(svc.Command) == 0 || strings.TrimSpace(svc.Command[0]) == "" {
			return fmt.Errorf("%s: must name an executable", serviceField(i, "command"))
		}
		for j, spec := range svc.Ports {
			if _, err := parsePortClaim(spec); err != nil {
				return fmt.Errorf("%s: %w", serviceField(i, fmt.Sprintf("ports[%d]", j)), err)
			}
		}
	}
	return validatePortCollisions(s)
}

func (t TimingSpec) validate() error {
	positive := map[string]Duration{
		"pollInterval": t.PollInterval,
		"graceTick":    t.GraceTick,
		"hardTimeout":  t.HardTimeout,
	}
	for _, name := range []string{"pollInterval", "graceTick", "hardTimeout"} {
		d := positive[name]
		if d.IsSet() && d.Duration <= 0 {
			return fmt.Errorf("%s: must be greater than zero", fieldPath("session", "timing", name))
		}
	}
	if t.GracePeriod.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("session", "timing", "gracePeriod"))
	}
	return nil
}

// portClaim is a host port range a service declares it will listen on.
type portClaim struct {
	hostIP string
	proto  string
	start  int
	end    int
}

// parsePortClaim accepts "[ip:]port[-port][/proto]".
func parsePortClaim(spec string) (portClaim, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return portClaim{}, fmt.Errorf("invalid port %q: must not be empty", spec)
	}
	proto, rest := nat.SplitProtoPort(raw)
	proto = strings.ToLower(proto)
	switch proto {
	case "tcp", "udp", "sctp":
	default:
		return portClaim{}, fmt.Errorf("invalid port %q: Invalid proto: %s", spec, proto)
	}

	hostIP := ""
	portPart := rest
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		host, port, err := net.SplitHostPort(rest)
		if err != nil {
			return portClaim{}, fmt.Errorf("invalid port %q: %w", spec, err)
		}
		if host != "" && net.ParseIP(host) == nil {
			return portClaim{}, fmt.Errorf("invalid port %q: Invalid ip address: %s", spec, host)
		}
		hostIP, portPart = host, port
	}

	if _, err := nat.NewPort(proto, portPart); err != nil {
		return portClaim{}, fmt.Errorf("invalid port %q: %w", spec, err)
	}
	start, end, err := nat.ParsePortRange(portPart)
	if err != nil {
		return portClaim{}, fmt.Errorf("invalid port %q: %w", spec, err)
	}
	if start == 0 || end == 0 {
		return portClaim{}, fmt.Errorf("invalid port %q: port must be in range 1-65535", spec)
	}
	return portClaim{hostIP: normalizeHostIP(hostIP), proto: proto, start: int(start), end: int(end)}, nil
}

func normalizeHostIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == "::" {
		return "0.0.0.0"
	}
	return ip
}

func hostPortKey(ip, proto string, port int) string {
	return fmt.Sprintf("%s|%s|%d", ip, proto, port)
}

// validatePortCollisions rejects sessions where two services claim the same
// host port, treating the wildcard address as overlapping every interface.
func validatePortCollisions(s *Session) error {
	claimed := map[string]map[string]struct{}{}
	wildcard := map[string]map[string]struct{}{}
	for i, svc := range s.Services {
		for j, spec := range svc.Ports {
			claim, err := parsePortClaim(spec)
			if err != nil {
				return fmt.Errorf("%s: %w", serviceField(i, fmt.Sprintf("ports[%d]", j)), err)
			}
			for port := claim.start; port <= claim.end; port++ {
				key := hostPortKey(claim.hostIP, claim.proto, port)
				wkey := hostPortKey("*", claim.proto, port)
				owners := map[string]struct{}{}
				for existing := range claimed[key] {
					owners[existing] = struct{}{}
				}
				if claim.hostIP == "0.0.0.0" {
					for existing := range wildcard[wkey] {
						owners[existing] = struct{}{}
					}
				} else {
					for existing := range claimed[hostPortKey("0.0.0.0", claim.proto, port)] {
						owners[existing] = struct{}{}
					}
				}
				delete(owners, svc.Name)
				if len(owners) > 0 {
					names := make([]string, 0, len(owners)+1)
					for name := range owners {
						names = append(names, name)
					}
					names = append(names, svc.Name)
					sort.Strings(names)
					return fmt.Errorf("%s: host port %d/%s on IP %q is claimed by service(s) %s", serviceField(i, fmt.Sprintf("ports[%d]", j)), port, claim.proto, claim.hostIP, strings.Join(names, ", "))
				}
				if claimed[key] == nil {
					claimed[key] = map[string]struct{}{}
				}
				claimed[key][svc.Name] = struct{}{}
				if wildcard[wkey] == nil {
					wildcard[wkey] = map[string]struct{}{}
				}
				wildcard[wkey][svc.Name] = struct{}{}
			}
		}
	}
	return nil
}
