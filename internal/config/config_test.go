package config

import (
	"errors"
	"testing"
	"time"

	"github.com/chadiek/hospital-callbot/internal/callerr"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("INACTIVITY_TIMEOUT", "5s")
	t.Setenv("HISTORY_WINDOW", "6")
	t.Setenv("BARGE_MIN_MS", "80")
	t.Setenv("MAX_IDLE_TURNS", "not-a-number")
	cfg := Load()
	if cfg.HTTPAddress != ":9090" {
		t.Fatalf("expected address from PORT, got %q", cfg.HTTPAddress)
	}
	if cfg.LLM.Model == "" {
		t.Fatalf("expected default llm model")
	}
	if cfg.Session.InactivityTimeout != 5*time.Second {
		t.Fatalf("inactivity = %v", cfg.Session.InactivityTimeout)
	}
	if cfg.LLM.HistoryWindow != 6 {
		t.Fatalf("history window = %d", cfg.LLM.HistoryWindow)
	}
	if cfg.Session.BargeMin != 80*time.Millisecond {
		t.Fatalf("barge min = %v", cfg.Session.BargeMin)
	}
	if cfg.Session.MaxIdleTurns != 3 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.Session.MaxIdleTurns)
	}
}

func TestValidateForCalls_ListsMissing(t *testing.T) {
	cfg := Config{TTS: TTS{Provider: "elevenlabs"}}
	err := cfg.ValidateForCalls()
	if !errors.Is(err, callerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	var ce *callerr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError")
	}
	want := map[string]bool{"ASSEMBLYAI_API_KEY": true, "LLM_API_KEY": true, "ELEVENLABS_API_KEY": true, "ELEVENLABS_VOICE_ID": true}
	if len(ce.Missing) != len(want) {
		t.Fatalf("missing = %v", ce.Missing)
	}
	for _, m := range ce.Missing {
		if !want[m] {
			t.Fatalf("unexpected missing key %s", m)
		}
	}

	cfg = Config{
		STT: STT{AssemblyAIKey: "a"},
		LLM: LLM{APIKey: "b"},
		TTS: TTS{Provider: "deepgram", DeepgramKey: "c"},
	}
	if err := cfg.ValidateForCalls(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if err := cfg.ValidateForDialing(); err == nil {
		t.Fatalf("dialing needs twilio settings")
	}
}
