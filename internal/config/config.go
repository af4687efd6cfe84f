// Package config loads anvil runtime settings from an optional dotenv file
// and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvWorkingDir     = "ANVIL_WORKING_DIR"
	EnvLockDir        = "ANVIL_LOCK_DIR"
	EnvLibvirtSocket  = "ANVIL_LIBVIRT_SOCKET"
	EnvConnectTimeout = "ANVIL_CONNECT_TIMEOUT"
	EnvListenAddr     = "ANVIL_LISTEN_ADDR"
	EnvLogLevel       = "ANVIL_LOG_LEVEL"
	EnvLogFormat      = "ANVIL_LOG_FORMAT"
	EnvMetricsFile    = "ANVIL_METRICS_FILE"
)

// Defaults applied when a variable is unset or empty.
const (
	DefaultWorkingDir     = "/var/lib/anvil"
	DefaultLibvirtSocket  = "/var/run/libvirt/libvirt-sock"
	DefaultConnectTimeout = 5 * time.Second
	DefaultListenAddr     = ":8080"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
)

// DefaultEnvFile is read by Load when no files are named.
const DefaultEnvFile = ".env"

// Settings holds everything the CLI and API server need to reach a host.
type Settings struct {
	// WorkingDir is the root under which machine settings, seed ISOs and
	// the default lock directory live.
	WorkingDir string

	// LockDir holds the per-machine lock files.
	LockDir string

	LibvirtSocket  string
	ConnectTimeout time.Duration

	// ListenAddr is the bind address of `anvil serve`.
	ListenAddr string

	LogLevel  string
	LogFormat string

	// MetricsFile, when set, receives a node_exporter textfile after each
	// CLI run.
	MetricsFile string
}

// Load reads settings from the process environment, falling back to values
// found in the given dotenv files and then to the defaults. Variables set in
// the environment always win over file values. Missing files are skipped.
func Load(files ...string) (*Settings, error) {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}

	fileEnv := make(map[string]string)
	for _, file := range files {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		for k, v := range values {
			if _, ok := fileEnv[k]; !ok {
				fileEnv[k] = v
			}
		}
	}

	return FromLookup(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileEnv[key]
	})
}

// FromLookup builds Settings from a key lookup function and validates them.
func FromLookup(lookup func(string) string) (*Settings, error) {
	get := func(key, def string) string {
		if v := lookup(key); v != "" {
			return v
		}
		return def
	}

	s := &Settings{
		WorkingDir:     get(EnvWorkingDir, DefaultWorkingDir),
		LibvirtSocket:  get(EnvLibvirtSocket, DefaultLibvirtSocket),
		ConnectTimeout: DefaultConnectTimeout,
		ListenAddr:     get(EnvListenAddr, DefaultListenAddr),
		LogLevel:       get(EnvLogLevel, DefaultLogLevel),
		LogFormat:      get(EnvLogFormat, DefaultLogFormat),
		MetricsFile:    lookup(EnvMetricsFile),
	}
	s.LockDir = get(EnvLockDir, filepath.Join(s.WorkingDir, ".locks"))

	if raw := lookup(EnvConnectTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvConnectTimeout, raw, err)
		}
		s.ConnectTimeout = d
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if !filepath.IsAbs(s.WorkingDir) {
		return fmt.Errorf("working directory must be absolute: %s", s.WorkingDir)
	}
	if !filepath.IsAbs(s.LockDir) {
		return fmt.Errorf("lock directory must be absolute: %s", s.LockDir)
	}
	if s.LibvirtSocket == "" {
		return fmt.Errorf("libvirt socket path is required")
	}
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", s.ConnectTimeout)
	}
	switch s.LogLevel {
	case "debug", "info", "error":
	default:
		return fmt.Errorf("invalid log level: %s (valid levels: debug, info, error)", s.LogLevel)
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s (valid formats: console, json)", s.LogFormat)
	}
	return nil
}
