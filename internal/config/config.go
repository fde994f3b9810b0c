// Package config loads the coordinator's TOML configuration. Keys absent
// from the file keep their DefaultConfig values.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/simctl/internal/logging"
)

var ErrInvalidConfig = errors.New("config: invalid config")

type AgentConfig struct {
	PublicAddress  string
	PrivateAddress string
	Workers        int
}

// Config drives one coordinator run.
type Config struct {
	PingInterval      time.Duration
	PhasePollInterval time.Duration
	SuitePath         string
	Duration          time.Duration
	FailFast          bool
	MetricsAddr       string
	LogLevel          string
	Agents            []AgentConfig
}

func DefaultConfig() Config {
	return Config{
		PingInterval:      10 * time.Second,
		PhasePollInterval: 100 * time.Millisecond,
		SuitePath:         "suite.yaml",
		Duration:          10 * time.Second,
		Agents:            []AgentConfig{{PublicAddress: "127.0.0.1", PrivateAddress: "127.0.0.1", Workers: 1}},
	}
}

// simctl config.toml key mapping.
type fileConfig struct {
	PingIntervalMS    int               `toml:"ping_interval_ms"`
	PhasePollInterval string            `toml:"phase_poll_interval"`
	SuitePath         string            `toml:"suite_path"`
	Duration          string            `toml:"duration"`
	FailFast          bool              `toml:"fail_fast"`
	MetricsAddr       string            `toml:"metrics_addr"`
	LogLevel          string            `toml:"log_level"`
	Agents            []fileAgentConfig `toml:"agents"`
}

type fileAgentConfig struct {
	PublicAddress  string `toml:"public_address"`
	PrivateAddress string `toml:"private_address"`
	Workers        int    `toml:"workers"`
}

// Load decodes path over DefaultConfig. A relative suite_path resolves
// against the config file's directory.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load simctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("ping_interval_ms") {
		cfg.PingInterval = time.Duration(raw.PingIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("phase_poll_interval") {
		d, err := parseDuration("phase_poll_interval", raw.PhasePollInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.PhasePollInterval = d
	}
	if meta.IsDefined("suite_path") {
		cfg.SuitePath = strings.TrimSpace(raw.SuitePath)
	}
	if meta.IsDefined("duration") {
		d, err := parseDuration("duration", raw.Duration)
		if err != nil {
			return Config{}, err
		}
		cfg.Duration = d
	}
	if meta.IsDefined("fail_fast") {
		cfg.FailFast = raw.FailFast
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("agents") {
		cfg.Agents = make([]AgentConfig, 0, len(raw.Agents))
		for _, a := range raw.Agents {
			cfg.Agents = append(cfg.Agents, AgentConfig{
				PublicAddress:  strings.TrimSpace(a.PublicAddress),
				PrivateAddress: strings.TrimSpace(a.PrivateAddress),
				Workers:        a.Workers,
			})
		}
	}

	if cfg.SuitePath != "" && !filepath.IsAbs(cfg.SuitePath) {
		cfg.SuitePath = filepath.Join(filepath.Dir(path), cfg.SuitePath)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.PhasePollInterval <= 0 {
		return fmt.Errorf("%w: phase_poll_interval must be positive", ErrInvalidConfig)
	}
	if cfg.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.SuitePath) == "" {
		return fmt.Errorf("%w: suite_path is required", ErrInvalidConfig)
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, cfg.LogLevel)
		}
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("%w: at least one [[agents]] entry is required", ErrInvalidConfig)
	}
	for i, a := range cfg.Agents {
		if a.PublicAddress == "" {
			return fmt.Errorf("%w: agents[%d] missing public_address", ErrInvalidConfig, i)
		}
		if a.Workers < 0 {
			return fmt.Errorf("%w: agents[%d] negative workers", ErrInvalidConfig, i)
		}
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}
