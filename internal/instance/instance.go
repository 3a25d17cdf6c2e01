// Package instance owns the per-session home directory handed to every
// supervised service.
package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// HomeEnv names the environment variable consulted when the session file does
// not configure a home directory.
const HomeEnv = "DEVSUP_HOME"

// ConfigFileName is the instance configuration file services read from the
// home directory.
const ConfigFileName = "instance.yaml"

// Ref is the serialized reference passed to services on their command line.
type Ref struct {
	Home      string `json:"home"`
	Ephemeral bool   `json:"ephemeral"`
	SessionID string `json:"sessionId"`
}

// Encode renders the reference as compact JSON.
func (r Ref) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode instance ref: %w", err)
	}
	return string(data), nil
}

// DecodeRef parses a reference produced by Encode.
func DecodeRef(raw string) (Ref, error) {
	var ref Ref
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return Ref{}, fmt.Errorf("decode instance ref: %w", err)
	}
	if ref.Home == "" {
		return Ref{}, errors.New("decode instance ref: home is empty")
	}
	return ref, nil
}

// Options controls how Open resolves the home directory.
type Options struct {
	// Home is the home directory configured by the session file.
	Home string
	// Workdir is the directory checked for a stray instance config file.
	// Defaults to the process working directory.
	Workdir string
	// TempDir is the parent for ephemeral homes. Defaults to os.TempDir.
	TempDir string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	Logger *slog.Logger
}

// Instance is an acquired launch resource. It must be closed exactly once
// after every service has stopped.
type Instance struct {
	ref    Ref
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open resolves, and if needed creates, the session's home directory.
func Open(opts Options) (*Instance, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	home := opts.Home
	source := "session"
	if home == "" {
		home = getenv(HomeEnv)
		source = HomeEnv
	}

	ref := Ref{SessionID: uuid.NewString()}
	if home != "" {
		abs, err := filepath.Abs(home)
		if err != nil {
			return nil, fmt.Errorf("resolve home %q: %w", home, err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create home %q: %w", abs, err)
		}
		ref.Home = abs
		warnStrayConfig(logger, opts.Workdir, abs)
		logger.Debug("using instance home", "home", abs, "source", source)
	} else {
		dir, err := os.MkdirTemp(opts.TempDir, "devsup-")
		if err != nil {
			return nil, fmt.Errorf("create ephemeral home: %w", err)
		}
		ref.Home = dir
		ref.Ephemeral = true
		logger.Info("using ephemeral instance home, state will be discarded on exit", "home", dir)
	}

	return &Instance{ref: ref, logger: logger}, nil
}

// warnStrayConfig flags an instance config file in the working directory
// that services will not read because home points elsewhere.
func warnStrayConfig(logger *slog.Logger, workdir, home string) {
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return
		}
		workdir = wd
	}
	absWorkdir, err := filepath.Abs(workdir)
	if err != nil || sameDir(absWorkdir, home) {
		return
	}
	local := filepath.Join(absWorkdir, ConfigFileName)
	if _, err := os.Stat(local); err != nil {
		return
	}
	logger.Warn("found an instance config file in the current folder that will not be used; place it in the home directory instead",
		"file", local, "home", home)
}

func sameDir(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(ai, bi)
}

// Ref returns the reference for this instance.
func (i *Instance) Ref() Ref {
	return i.ref
}

// Close releases the instance, removing ephemeral homes. Repeated calls
// return the first result.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		if !i.ref.Ephemeral {
			return
		}
		if err := os.RemoveAll(i.ref.Home); err != nil {
			i.closeErr = fmt.Errorf("remove ephemeral home %q: %w", i.ref.Home, err)
			return
		}
		i.logger.Debug("removed ephemeral instance home", "home", i.ref.Home)
	})
	return i.closeErr
}
