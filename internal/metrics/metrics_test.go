package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopMetrics(t *testing.T) {
	var m Noop
	m.ObserveOperation("apply", "ok", 1.5)
	m.IncEvent("pre_apply", "ok")
	m.SetPhase("applied")
}

func TestPromMetrics(t *testing.T) {
	m := NewProm("stagehand")
	m.ObserveOperation("apply", "ok", 2)
	m.ObserveOperation("apply", "ok", 3)
	m.ObserveOperation("require", "external_operation", 10)
	m.IncEvent("pre_apply", "error")
	m.SetPhase("required")
	m.SetPhase("applied")

	if got := testutil.ToFloat64(m.operations.WithLabelValues("apply", "ok")); got != 2 {
		t.Errorf("apply ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("require", "external_operation")); got != 1 {
		t.Errorf("require failure count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("pre_apply", "error")); got != 1 {
		t.Errorf("event count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.phase.WithLabelValues("applied")); got != 1 {
		t.Errorf("applied phase gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.phase.WithLabelValues("required")); got != 0 {
		t.Errorf("required phase gauge = %v, want 0", got)
	}
}

func TestPromWriteTextfile(t *testing.T) {
	m := NewProm("stagehand")
	m.ObserveOperation("create", "ok", 0.2)

	path := filepath.Join(t.TempDir(), "textfile", "stagehand.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `stagehand_operations_total{operation="create",outcome="ok"} 1`) {
		t.Errorf("textfile missing operation counter:\n%s", data)
	}
}
