package board

import (
	"strings"
	"testing"

	"github.com/tinyrange/eic/internal/config"
)

func TestSimulateBuiltInBackend(t *testing.T) {
	m, err := Simulate(config.Default(""))
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	defer m.Close()

	if m.Name() != Name {
		t.Fatalf("Name = %q, want %q", m.Name(), Name)
	}
	if _, ok := Native(m); !ok {
		t.Fatalf("Native returned false for a %s machine", Name)
	}
}

func TestSimulateRejectsOtherBackend(t *testing.T) {
	other := config.BackendPIC32MX
	if Name == config.BackendPIC32MX {
		other = config.BackendI8259
	}
	_, err := Simulate(config.Default(other))
	if err == nil {
		t.Fatalf("Simulate(%q) succeeded on a %s build", other, Name)
	}
	if !strings.Contains(err.Error(), "not built in") {
		t.Fatalf("Simulate error = %v", err)
	}
}
