package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/simctl/internal/suite"
	"github.com/danmuck/simctl/internal/testutil/testlog"
	"github.com/danmuck/simctl/internal/worker"
	"github.com/danmuck/simctl/internal/workload/builtin"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
ping_interval_ms = -1
duration = "250ms"
fail_fast = true

[[agents]]
public_address = "10.0.0.1"
private_address = "192.168.0.1"
workers = 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PingInterval != -time.Millisecond {
		t.Fatalf("expected ping interval -1ms, got %s", cfg.PingInterval)
	}
	if cfg.Duration != 250*time.Millisecond || !cfg.FailFast {
		t.Fatalf("unexpected run settings: %+v", cfg)
	}
	if cfg.PhasePollInterval != DefaultConfig().PhasePollInterval {
		t.Fatalf("expected default phase poll interval, got %s", cfg.PhasePollInterval)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Workers != 3 {
		t.Fatalf("unexpected agents: %+v", cfg.Agents)
	}
	if want := filepath.Join(filepath.Dir(path), "suite.yaml"); cfg.SuitePath != want {
		t.Fatalf("expected suite path %q, got %q", want, cfg.SuitePath)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":     "bogus = 1\n",
		"bad duration":    "duration = \"soon\"\n",
		"zero poll":       "phase_poll_interval = \"0s\"\n",
		"no agents":       "agents = []\n",
		"bad log level":   "log_level = \"loud\"\n",
		"missing address": "[[agents]]\nworkers = 1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "simctl.toml")
	suitePath := filepath.Join(dir, "suite.yaml")
	if err := WriteTemplate(cfgPath, "config", false); err != nil {
		t.Fatalf("write config template: %v", err)
	}
	if err := WriteTemplate(suitePath, "suite", false); err != nil {
		t.Fatalf("write suite template: %v", err)
	}
	if err := WriteTemplate(cfgPath, "config", false); err == nil {
		t.Fatalf("expected overwrite guard")
	}
	if err := WriteTemplate(cfgPath, "config", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := Template("nope"); err == nil {
		t.Fatalf("expected unknown kind error")
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(cfg.Agents))
	}
	s, err := suite.Load(cfg.SuitePath)
	if err != nil {
		t.Fatalf("load suite template: %v", err)
	}
	if len(s.Tests) != 2 {
		t.Fatalf("expected 2 tests, got %d", len(s.Tests))
	}
}

func TestClusterSpec(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Agents = append(cfg.Agents, AgentConfig{PublicAddress: "10.0.0.9", Workers: 2})
	reporter := worker.NewExceptionLog()

	spec := cfg.ClusterSpec(builtin.NewRegistry(), reporter)
	if len(spec.Agents) != 2 || spec.Agents[1].Workers != 2 {
		t.Fatalf("unexpected agents: %+v", spec.Agents)
	}
	if spec.PollInterval != cfg.PhasePollInterval || spec.Reporter != reporter {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}
