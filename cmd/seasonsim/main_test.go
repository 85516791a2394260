package main

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ndrandal/harvest-exchange/internal/config"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func defaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Simulation.TicksPerDay = 12
	return cfg
}

func TestRunDeterministic(t *testing.T) {
	o := options{seed: 42, days: 3, startDay: 1, commodity: "parsnip"}
	var a, b bytes.Buffer
	if err := run(&a, defaults(t), o, quiet()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := run(&b, defaults(t), o, quiet()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if a.String() != b.String() {
		t.Fatal("same seed produced different reports")
	}
	out := a.String()
	if !strings.Contains(out, "PARSNIP-SPR-28") {
		t.Fatalf("missing parsnip contract:\n%s", out)
	}
	if strings.Contains(out, "MELON-") {
		t.Fatal("commodity filter not applied")
	}
}

func TestRunRejectsNoDays(t *testing.T) {
	if err := run(io.Discard, defaults(t), options{seed: 1}, quiet()); err == nil {
		t.Fatal("expected error for zero days")
	}
}
