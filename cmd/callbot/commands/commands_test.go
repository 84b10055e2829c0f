package commands

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/chadiek/hospital-callbot/internal/config"
	"github.com/chadiek/hospital-callbot/internal/scenario"
)

func TestPick(t *testing.T) {
	catalog, err := scenario.NewCatalog(scenario.Builtin())
	if err != nil {
		t.Fatal(err)
	}
	all := catalog.All()

	got, err := pick(catalog, nil)
	if err != nil || len(got) != len(all) {
		t.Fatalf("no args: %d scenarios, %v", len(got), err)
	}
	got, err = pick(catalog, []string{all[1].ID, "1"})
	if err != nil || len(got) != 2 || got[0].ID != all[1].ID || got[1].ID != all[0].ID {
		t.Fatalf("by id and index: %+v, %v", got, err)
	}
	if _, err := pick(catalog, []string{"no-such-scenario"}); err == nil {
		t.Fatal("expected unknown scenario error")
	}
	if _, err := pick(catalog, []string{"0"}); err == nil {
		t.Fatal("index 0 is out of range")
	}
}

func TestNewLogger(t *testing.T) {
	l := newLogger(config.Config{LogLevel: "debug", LogFormat: "json"})
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level not applied")
	}
	if _, ok := l.Handler().(*slog.JSONHandler); !ok {
		t.Fatalf("handler = %T, want JSON", l.Handler())
	}
	l = newLogger(config.Config{LogLevel: "loud"})
	if l.Enabled(context.Background(), slog.LevelDebug) || !l.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("bad level must fall back to info")
	}
}

func TestScenariosCommand(t *testing.T) {
	t.Setenv("SCENARIOS_FILE", "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"scenarios"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != len(scenario.Builtin())+1 || !strings.HasPrefix(lines[0], "#") {
		t.Fatalf("output:\n%s", out.String())
	}
}
