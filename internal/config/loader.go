package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies the syntax of a session file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the decoder for a session file by extension. Anything
// that is not .toml is treated as YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads a session file from the provided path.
func Load(path string) (*Session, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}

	doc, err := Parse(data, FormatForPath(absPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	doc.Source = absPath

	if err := doc.resolve(filepath.Dir(absPath)); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	doc.ApplyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return doc, nil
}

// Parse decodes a session document and checks it against the embedded
// schema. Paths and env files are not resolved.
func Parse(data []byte, format Format) (*Session, error) {
	var raw map[string]any
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("decode: session file is empty")
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	var doc Session
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("decode: unknown field(s) %s", strings.Join(keys, ", "))
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}
	return &doc, nil
}

// resolve expands environment references, anchors relative paths at the
// session file's directory and merges envFromFile values beneath inline env.
func (s *Session) resolve(baseDir string) error {
	resolvedWorkdir := resolveWorkdir(baseDir, os.ExpandEnv(s.Session.Workdir))
	s.Session.Workdir = resolvedWorkdir
	if s.Session.Home != "" {
		s.Session.Home = resolveWorkdir(baseDir, os.ExpandEnv(s.Session.Home))
	}

	if len(s.Shared.Env) > 0 {
		expanded := make(map[string]string, len(s.Shared.Env))
		for k, v := range s.Shared.Env {
			expanded[k] = os.ExpandEnv(v)
		}
		s.Shared.Env = expanded
	}
	for i, arg := range s.Shared.Args {
		s.Shared.Args[i] = os.ExpandEnv(arg)
	}

	for i, svc := range s.Services {
		if svc == nil {
			continue
		}
		svc.ResolvedWorkdir = resolvedWorkdir
		if svc.Workdir != "" {
			svc.ResolvedWorkdir = resolveWorkdir(resolvedWorkdir, os.ExpandEnv(svc.Workdir))
		}
		for j, arg := range svc.Command {
			svc.Command[j] = os.ExpandEnv(arg)
		}

		var inlineEnv map[string]string
		if len(svc.Env) > 0 {
			inlineEnv = make(map[string]string, len(svc.Env))
			for k, v := range svc.Env {
				inlineEnv[k] = os.ExpandEnv(v)
			}
		}

		var fileEnv map[string]string
		if svc.EnvFromFile != "" {
			expanded := os.ExpandEnv(svc.EnvFromFile)
			if !filepath.IsAbs(expanded) {
				expanded = filepath.Clean(filepath.Join(svc.ResolvedWorkdir, expanded))
			}
			svc.EnvFromFile = expanded

			var err error
			fileEnv, err = loadEnvFile(expanded)
			if err != nil {
				return fmt.Errorf("%s: %w", serviceField(i, "envFromFile"), err)
			}
		}

		svc.Env = mergeEnv(fileEnv, inlineEnv)
	}
	return nil
}

func mergeEnv(layers ...map[string]string) map[string]string {
	var merged map[string]string
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if merged == nil {
			merged = make(map[string]string, len(layer))
		}
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
		sep := strings.IndexRune(raw, '=')
		if sep <= 0 {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		key := strings.TrimSpace(raw[:sep])
		if key == "" {
			return nil, fmt.Errorf("load env file %q: invalid key on line %d", path, lineNo)
		}
		value, err := parseEnvValue(strings.TrimSpace(raw[sep+1:]))
		if err != nil {
			return nil, fmt.Errorf("load env file %q: %s on line %d: %w", path, key, lineNo, err)
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}

func parseEnvValue(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, `"`):
		if len(value) < 2 || value[len(value)-1] != '"' {
			return "", fmt.Errorf("unmatched quote")
		}
		return strconv.Unquote(value)
	case strings.HasPrefix(value, "'"):
		if len(value) < 2 || value[len(value)-1] != '\'' {
			return "", fmt.Errorf("unmatched quote")
		}
		return value[1 : len(value)-1], nil
	}
	if comment := strings.IndexRune(value, '#'); comment >= 0 {
		value = strings.TrimSpace(value[:comment])
	}
	return value, nil
}
