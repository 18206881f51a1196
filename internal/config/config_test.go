package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":50051" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Workflow.ConfidenceThreshold != 0.8 || cfg.Workflow.MaxRetries != 3 {
		t.Fatalf("unexpected workflow defaults %+v", cfg.Workflow)
	}
	if cfg.Store.Driver != "memory" || cfg.Cache.Backend != "memory" {
		t.Fatalf("unexpected backends %q/%q", cfg.Store.Driver, cfg.Cache.Backend)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":6000"
workflow:
  confidenceThreshold: 0.7
  maxParallel: 2
  onFieldConflict: log
store:
  driver: sqlite
  path: /var/lib/incident/incidents.db
cache:
  dedupWindow: 30s
`)
	t.Setenv("INCIDENT_MAX_STEPS", "40")
	t.Setenv("INCIDENT_LOG_FORMAT", "json")
	t.Setenv("INCIDENT_SMTP_TO", "oncall@example.com, sre@example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":6000" {
		t.Fatalf("file value not applied: %q", cfg.Server.Address)
	}
	if cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("defaults should survive partial files, got %q", cfg.Server.MetricsAddress)
	}
	if cfg.Workflow.ConfidenceThreshold != 0.7 || cfg.Workflow.MaxSteps != 40 || cfg.Workflow.OnFieldConflict != "log" {
		t.Fatalf("unexpected workflow %+v", cfg.Workflow)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
	if cfg.Cache.DedupWindow != 30*time.Second {
		t.Fatalf("unexpected dedup window %v", cfg.Cache.DedupWindow)
	}
	if got := cfg.Notifications.SMTP.To; len(got) != 2 || got[1] != "sre@example.com" {
		t.Fatalf("unexpected recipients %v", got)
	}
}

func TestLoadUsesEnvPath(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":7000\"\n")
	t.Setenv(EnvConfigPath, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7000" {
		t.Fatalf("expected env path to be used, got %q", cfg.Server.Address)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"threshold above one": "workflow:\n  confidenceThreshold: 1.5\n",
		"unknown conflict":    "workflow:\n  onFieldConflict: ignore\n",
		"sqlite without path": "store:\n  driver: sqlite\n",
		"valkey without addr": "cache:\n  backend: valkey\n",
		"bad recipient":       "notifications:\n  smtp:\n    to: [\"not-an-address\"]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
