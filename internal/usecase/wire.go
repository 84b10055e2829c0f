package usecase

import (
	"fmt"
	"log/slog"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/analyzer"
	"github.com/chadiek/hospital-callbot/internal/barge"
	"github.com/chadiek/hospital-callbot/internal/callerr"
	"github.com/chadiek/hospital-callbot/internal/config"
	"github.com/chadiek/hospital-callbot/internal/infra/kv"
	"github.com/chadiek/hospital-callbot/internal/infra/storage"
	"github.com/chadiek/hospital-callbot/internal/llm"
	"github.com/chadiek/hospital-callbot/internal/stt"
	"github.com/chadiek/hospital-callbot/internal/tts"
)

func retryPolicy(cfg config.Config) callerr.Policy {
	p := callerr.DefaultPolicy
	if cfg.Session.RetryAttempts > 0 {
		p.Attempts = cfg.Session.RetryAttempts
	}
	if cfg.Session.RetryBase > 0 {
		p.Base = cfg.Session.RetryBase
	}
	return p
}

// NewAdapters builds the live STT, TTS and LLM clients from cfg.
func NewAdapters(cfg config.Config, logger *slog.Logger) Adapters {
	policy := retryPolicy(cfg)
	seg := stt.DefaultSegmenterConfig()
	if cfg.STT.Silence > 0 {
		seg.Silence = cfg.STT.Silence
	}

	var syn tts.Synthesizer
	switch cfg.TTS.Provider {
	case "elevenlabs":
		el := tts.NewElevenLabsClient(cfg.TTS.ElevenLabsKey, cfg.TTS.ElevenLabsVoiceID)
		el.Logger = logger.With("component", "tts", "provider", "elevenlabs")
		syn = el
	default:
		syn = tts.NewDeepgramClient(cfg.TTS.DeepgramKey, cfg.TTS.DeepgramModel, logger)
	}

	chat := llm.NewChatClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	ad := Adapters{
		Recognizer: func(callID string, l *slog.Logger) stt.Recognizer {
			return stt.NewAssemblyAI(cfg.STT.AssemblyAIKey,
				stt.WithCallID(callID),
				stt.WithSegmenter(seg),
				stt.WithRetry(policy),
				stt.WithLogger(l))
		},
		Synthesizer: syn,
		Generator: llm.NewGenerator(chat, llm.GeneratorConfig{
			Timeout:       cfg.LLM.Timeout,
			HistoryWindow: cfg.LLM.HistoryWindow,
			Retry:         policy,
			Logger:        logger,
		}),
	}
	if cfg.LLM.ReviewModel != "" && cfg.LLM.APIKey != "" {
		ad.Reviewer = analyzer.NewReviewer(llm.NewChatClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.ReviewModel), logger)
	}
	return ad
}

// SessionConfig maps cfg onto the session template.
func SessionConfig(cfg config.Config) agent.Config {
	b := barge.DefaultConfig()
	if cfg.Session.BargeRMS > 0 {
		b.VoiceRMS = cfg.Session.BargeRMS
	}
	if cfg.Session.BargeMin > 0 {
		b.MinSpeech = cfg.Session.BargeMin
	}
	return agent.Config{
		GreetingPolicy:    agent.GreetingPolicy(cfg.Session.GreetingPolicy),
		InactivityTimeout: cfg.Session.InactivityTimeout,
		MaxIdleTurns:      cfg.Session.MaxIdleTurns,
		MaxCallDuration:   cfg.Session.MaxCallDuration,
		Retry:             retryPolicy(cfg),
		Barge:             b,
	}
}

func Thresholds(cfg config.Config) analyzer.Thresholds {
	return analyzer.Thresholds{
		Latency:      cfg.Analyzer.LatencyThreshold,
		SilenceStall: cfg.Analyzer.SilenceStall,
		Overlap:      cfg.Analyzer.OverlapThreshold,
	}
}

// NewStore opens the artifact store named by ARTIFACT_BACKEND, mirrored to
// Supabase when it is configured.
func NewStore(cfg config.Storage, logger *slog.Logger) (storage.Store, error) {
	var primary storage.Store
	switch cfg.Backend {
	case "s3":
		client := storage.NewS3Client(storage.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.AWSKeyID,
			SecretKey: cfg.AWSSecret,
		})
		primary = storage.NewS3(client, cfg.S3Bucket, cfg.S3Prefix)
	case "local", "":
		l, err := storage.NewLocal(cfg.ArtifactDir)
		if err != nil {
			return nil, err
		}
		primary = l
	default:
		return nil, fmt.Errorf("unknown ARTIFACT_BACKEND %q", cfg.Backend)
	}
	if cfg.SupabaseURL == "" {
		return primary, nil
	}
	mirror, err := storage.NewSupabaseMirror(storage.SupabaseConfig{
		URL:            cfg.SupabaseURL,
		ServiceRoleKey: cfg.SupabaseKey,
		Bucket:         cfg.SupabaseBkt,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewMirrored(primary, logger, mirror), nil
}

// OpenIndex opens the call index. Without INDEX_DIR it lives in memory and
// is lost on exit.
func OpenIndex(cfg config.Storage, logger *slog.Logger) (kv.Store, error) {
	if cfg.IndexDir == "" {
		logger.Warn("INDEX_DIR not set, call index is in memory only")
		return kv.NewMemory(), nil
	}
	return kv.OpenBadger(cfg.IndexDir, logger)
}
