package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/config"
	"github.com/chadiek/hospital-callbot/internal/infra/kv"
	"github.com/chadiek/hospital-callbot/internal/infra/storage"
)

func nopLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSessionConfig_MapsSettings(t *testing.T) {
	cfg := config.Config{Session: config.Session{
		GreetingPolicy:    "greet",
		InactivityTimeout: 4 * time.Second,
		MaxIdleTurns:      2,
		MaxCallDuration:   time.Minute,
		RetryAttempts:     5,
		BargeRMS:          900,
	}}
	sc := SessionConfig(cfg)
	if sc.GreetingPolicy != agent.GreetFirst || sc.InactivityTimeout != 4*time.Second || sc.MaxIdleTurns != 2 {
		t.Fatalf("session config = %+v", sc)
	}
	if sc.Retry.Attempts != 5 || sc.Barge.VoiceRMS != 900 || sc.Barge.MinSpeech == 0 {
		t.Fatalf("retry/barge = %+v / %+v", sc.Retry, sc.Barge)
	}
}

func TestNewAdapters_ReviewerNeedsModelAndKey(t *testing.T) {
	cfg := config.Config{LLM: config.LLM{APIKey: "k", BaseURL: "http://127.0.0.1:1", Model: "m"}}
	ad := NewAdapters(cfg, nopLogger())
	if ad.Reviewer != nil {
		t.Fatal("reviewer must stay off without REVIEW_MODEL")
	}
	if ad.Recognizer == nil || ad.Recognizer("c", nopLogger()) == nil || ad.Synthesizer == nil || ad.Generator == nil {
		t.Fatal("adapters incomplete")
	}
	cfg.LLM.ReviewModel = "judge"
	if NewAdapters(cfg, nopLogger()).Reviewer == nil {
		t.Fatal("reviewer expected with model and key")
	}
}

func TestNewStore(t *testing.T) {
	st, err := NewStore(config.Storage{Backend: "local", ArtifactDir: t.TempDir()}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*storage.Local); !ok {
		t.Fatalf("store = %T", st)
	}
	if err := st.Put(context.Background(), "c/x.txt", "text/plain", []byte("x")); err != nil {
		t.Fatal(err)
	}

	st, err = NewStore(config.Storage{Backend: "s3", S3Bucket: "b", S3Region: "us-east-1"}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*storage.S3Store); !ok {
		t.Fatalf("store = %T", st)
	}

	if _, err := NewStore(config.Storage{Backend: "ftp"}, nopLogger()); err == nil {
		t.Fatal("unknown backend must fail")
	}
	if _, err := NewStore(config.Storage{Backend: "local", ArtifactDir: t.TempDir(), SupabaseURL: "https://x.supabase.co"}, nopLogger()); err == nil {
		t.Fatal("supabase mirror without a key must fail")
	}
}

func TestOpenIndex(t *testing.T) {
	idx, err := OpenIndex(config.Storage{}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.(*kv.Memory); !ok {
		t.Fatalf("index = %T, want memory", idx)
	}
	idx, err = OpenIndex(config.Storage{IndexDir: t.TempDir()}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if err := idx.Set(context.Background(), kv.Key{"calls", "a", "summary"}, []byte("x")); err != nil {
		t.Fatal(err)
	}
}
