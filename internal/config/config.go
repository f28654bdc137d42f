package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/pkg/errors"
)

const (
	DefaultTimeout    = 300 * time.Second
	DefaultMaxWorkers = 5
)

// Keys lists every environment variable Load reads.
var Keys = []string{
	"AGENTORCH_BACKEND",
	"AGENTORCH_TIMEOUT",
	"AGENTORCH_MAX_WORKERS",
	"AGENTORCH_WORKDIR",
	"AGENTORCH_ALLOWED_DIRS",
	"AGENTORCH_OUTPUT_FORMAT",
	"AGENTORCH_MODE",
	"AGENTORCH_LOG_LEVEL",
	"AGENTORCH_DASHBOARD_ADDR",
	"AGENTORCH_OTLP_ENDPOINT",
	"AGENTORCH_TRACE_CONSOLE",
}

type Config struct {
	Backend      string
	Timeout      time.Duration
	MaxWorkers   int
	WorkDir      string
	AllowedDirs  []string
	OutputFormat core.OutputFormat
	Mode         string
	LogLevel     slog.Level

	DashboardAddr string
	OTLPEndpoint  string
	TraceConsole  bool
}

// Load reads config from env map. For production use LoadFromEnv.
func Load(env map[string]string) (*Config, error) {
	cfg := &Config{
		Backend:       strings.TrimSpace(env["AGENTORCH_BACKEND"]),
		Timeout:       DefaultTimeout,
		MaxWorkers:    DefaultMaxWorkers,
		WorkDir:       env["AGENTORCH_WORKDIR"],
		Mode:          env["AGENTORCH_MODE"],
		LogLevel:      slog.LevelInfo,
		DashboardAddr: env["AGENTORCH_DASHBOARD_ADDR"],
		OTLPEndpoint:  env["AGENTORCH_OTLP_ENDPOINT"],
	}
	if cfg.Backend == "" {
		cfg.Backend = core.BackendAuto
	}

	if s := env["AGENTORCH_ALLOWED_DIRS"]; s != "" {
		cfg.AllowedDirs = splitAndTrim(s)
		if cfg.WorkDir == "" && len(cfg.AllowedDirs) > 0 {
			cfg.WorkDir = cfg.AllowedDirs[0]
		}
	}

	if s := env["AGENTORCH_TIMEOUT"]; s != "" {
		d, err := core.ParseTimeout(s)
		if err != nil {
			return nil, errors.Wrap(err, "AGENTORCH_TIMEOUT")
		}
		cfg.Timeout = d
	}

	if s := env["AGENTORCH_MAX_WORKERS"]; s != "" {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, errors.Errorf("invalid AGENTORCH_MAX_WORKERS %q: must be an integer", s)
		}
		cfg.MaxWorkers = n
	}

	format, err := core.ParseOutputFormat(env["AGENTORCH_OUTPUT_FORMAT"])
	if err != nil {
		return nil, errors.Wrap(err, "AGENTORCH_OUTPUT_FORMAT")
	}
	cfg.OutputFormat = format

	if s := env["AGENTORCH_LOG_LEVEL"]; s != "" {
		level, err := ParseLogLevel(s)
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}

	if s := env["AGENTORCH_TRACE_CONSOLE"]; s != "" {
		on, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errors.Errorf("invalid AGENTORCH_TRACE_CONSOLE %q: must be a boolean", s)
		}
		cfg.TraceConsole = on
	}

	return cfg, nil
}

// LoadFromEnv loads config from os environment variables.
func LoadFromEnv() (*Config, error) {
	env := make(map[string]string, len(Keys))
	for _, k := range Keys {
		env[k] = os.Getenv(k)
	}
	return Load(env)
}

// BaseRequest returns the request template every invocation starts from.
// Timeout is left unset; the invoker's default carries it.
func (c *Config) BaseRequest() core.Request {
	return core.Request{
		Backend:      c.Backend,
		OutputFormat: c.OutputFormat,
		Mode:         c.Mode,
		WorkDir:      c.WorkDir,
	}
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, errors.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func splitAndTrim(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
