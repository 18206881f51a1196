package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/models"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("INCIDENT_NOTIFICATIONS_ENABLED", "false")
	t.Setenv("INCIDENT_LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute %v: %v", args, err)
	}
	return out.String()
}

func TestRunCommandPrintsFinalReport(t *testing.T) {
	out := execute(t, "run", "Payment API experiencing database connection timeouts and high error rates")

	var report models.FinalReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.Status != models.StatusResolved {
		t.Fatalf("expected RESOLVED, got %s", report.Status)
	}
}

func TestRunCommandPersistsToSQLite(t *testing.T) {
	t.Setenv("INCIDENT_STORE_DRIVER", "sqlite")
	t.Setenv("INCIDENT_STORE_PATH", filepath.Join(t.TempDir(), "incidents.db"))

	out := execute(t, "run", "--full", "Auth Service showing memory leak patterns")
	var rec models.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if !rec.Decision.Valid() {
		t.Fatalf("expected a decision, got %q", rec.Decision)
	}
}

func TestDemoCommandRunsEveryScenario(t *testing.T) {
	out := execute(t, "demo")
	for _, sc := range demoScenarios {
		if !strings.Contains(out, sc.Name) {
			t.Fatalf("demo output missing %q:\n%s", sc.Name, out)
		}
	}
	if !strings.Contains(out, string(models.DecisionAutoMitigation)) || !strings.Contains(out, string(models.DecisionEscalation)) {
		t.Fatalf("expected both decisions in demo output:\n%s", out)
	}
}
