package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/chadiek/hospital-callbot/internal/callerr"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	BaseURL     string
	LogLevel    string
	LogFormat   string

	Twilio   Twilio
	STT      STT
	TTS      TTS
	LLM      LLM
	Session  Session
	Analyzer Analyzer
	Storage  Storage

	ScenariosFile string
}

type Twilio struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	TargetNumber string
}

type STT struct {
	AssemblyAIKey string
	Silence       time.Duration
}

type TTS struct {
	Provider          string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
}

type LLM struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	HistoryWindow int
	ReviewModel   string
}

type Session struct {
	GreetingPolicy    string
	InactivityTimeout time.Duration
	MaxIdleTurns      int
	MaxCallDuration   time.Duration
	RetryAttempts     int
	RetryBase         time.Duration
	BargeRMS          float64
	BargeMin          time.Duration
}

type Analyzer struct {
	LatencyThreshold time.Duration
	SilenceStall     time.Duration
	OverlapThreshold time.Duration
}

type Storage struct {
	RecordingDir string
	Backend      string
	ArtifactDir  string
	IndexDir     string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	AWSKeyID    string
	AWSSecret   string
	SupabaseURL string
	SupabaseKey string
	SupabaseBkt string
}

// Load reads environment variables (after an optional .env file) and
// returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config: error loading .env file", "err", err)
	}

	cfg := Config{
		HTTPAddress: getEnv("HTTP_ADDRESS", ":"+getEnv("PORT", "8080")),
		BaseURL:     strings.TrimRight(os.Getenv("BASE_URL"), "/"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		Twilio: Twilio{
			AccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
			FromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
			TargetNumber: os.Getenv("TARGET_PHONE_NUMBER"),
		},
		STT: STT{
			AssemblyAIKey: os.Getenv("ASSEMBLYAI_API_KEY"),
			Silence:       getMillis("STT_SILENCE_MS", 700*time.Millisecond),
		},
		TTS: TTS{
			Provider:          strings.ToLower(getEnv("TTS_PROVIDER", "deepgram")),
			DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
			DeepgramModel:     getEnv("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),
			ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
			ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		},
		LLM: LLM{
			APIKey:        getEnv("LLM_API_KEY", os.Getenv("CEREBRAS_API_KEY")),
			BaseURL:       getEnv("LLM_BASE_URL", "https://api.cerebras.ai/v1"),
			Model:         getEnv("LLM_MODEL", "gpt-oss-120b"),
			Timeout:       getDuration("LLM_TIMEOUT", 8*time.Second),
			HistoryWindow: getInt("HISTORY_WINDOW", 0),
			ReviewModel:   os.Getenv("REVIEW_MODEL"),
		},
		Session: Session{
			GreetingPolicy:    strings.ToLower(getEnv("GREETING_POLICY", "listen")),
			InactivityTimeout: getDuration("INACTIVITY_TIMEOUT", 8*time.Second),
			MaxIdleTurns:      getInt("MAX_IDLE_TURNS", 3),
			MaxCallDuration:   getDuration("MAX_CALL_DURATION", 10*time.Minute),
			RetryAttempts:     getInt("RETRY_ATTEMPTS", 3),
			RetryBase:         getMillis("RETRY_BASE_MS", 200*time.Millisecond),
			BargeRMS:          getFloat("BARGE_RMS", 400),
			BargeMin:          getMillis("BARGE_MIN_MS", 120*time.Millisecond),
		},
		Analyzer: Analyzer{
			LatencyThreshold: getDuration("LATENCY_THRESHOLD", 3*time.Second),
			SilenceStall:     getDuration("SILENCE_STALL", 10*time.Second),
			OverlapThreshold: getDuration("OVERLAP_THRESHOLD", 600*time.Millisecond),
		},
		Storage: Storage{
			RecordingDir: getEnv("RECORDING_DIR", "recordings"),
			Backend:      strings.ToLower(getEnv("ARTIFACT_BACKEND", "local")),
			ArtifactDir:  getEnv("ARTIFACT_DIR", "transcripts"),
			IndexDir:     os.Getenv("INDEX_DIR"),
			S3Bucket:     os.Getenv("S3_BUCKET"),
			S3Region:     getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:   os.Getenv("S3_ENDPOINT"),
			S3Prefix:     os.Getenv("S3_PREFIX"),
			AWSKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			AWSSecret:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SupabaseURL:  os.Getenv("SUPABASE_URL"),
			SupabaseKey:  os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
			SupabaseBkt:  getEnv("SUPABASE_BUCKET", "call-artifacts"),
		},
		ScenariosFile: os.Getenv("SCENARIOS_FILE"),
	}

	if cfg.STT.AssemblyAIKey == "" {
		slog.Warn("config: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}
	if cfg.LLM.APIKey == "" {
		slog.Warn("config: LLM_API_KEY not set - patient replies will fall back to the scripted line")
	}
	if cfg.ttsKey() == "" {
		slog.Warn("config: no TTS key set for provider", "provider", cfg.TTS.Provider)
	}
	slog.Info("config loaded", "http_address", cfg.HTTPAddress, "tts", cfg.TTS.Provider, "artifacts", cfg.Storage.Backend)
	return cfg
}

func (c Config) ttsKey() string {
	if c.TTS.Provider == "elevenlabs" {
		return c.TTS.ElevenLabsKey
	}
	return c.TTS.DeepgramKey
}

// ValidateForCalls reports every credential a live call needs that is
// missing. It is checked before any call resources are allocated.
func (c Config) ValidateForCalls() error {
	var missing []string
	if c.STT.AssemblyAIKey == "" {
		missing = append(missing, "ASSEMBLYAI_API_KEY")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	switch c.TTS.Provider {
	case "elevenlabs":
		if c.TTS.ElevenLabsKey == "" {
			missing = append(missing, "ELEVENLABS_API_KEY")
		}
		if c.TTS.ElevenLabsVoiceID == "" {
			missing = append(missing, "ELEVENLABS_VOICE_ID")
		}
	default:
		if c.TTS.DeepgramKey == "" {
			missing = append(missing, "DEEPGRAM_API_KEY")
		}
	}
	if c.Storage.Backend == "s3" && c.Storage.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if len(missing) > 0 {
		return &callerr.ConfigError{Missing: missing}
	}
	return nil
}

// ValidateForDialing adds the Twilio settings needed to place outbound calls.
func (c Config) ValidateForDialing() error {
	var missing []string
	if err := c.ValidateForCalls(); err != nil {
		var ce *callerr.ConfigError
		if errors.As(err, &ce) {
			missing = append(missing, ce.Missing...)
		}
	}
	for _, kv := range [][2]string{
		{"TWILIO_ACCOUNT_SID", c.Twilio.AccountSID},
		{"TWILIO_AUTH_TOKEN", c.Twilio.AuthToken},
		{"TWILIO_FROM_NUMBER", c.Twilio.FromNumber},
		{"TARGET_PHONE_NUMBER", c.Twilio.TargetNumber},
		{"BASE_URL", c.BaseURL},
	} {
		if kv[1] == "" {
			missing = append(missing, kv[0])
		}
	}
	if len(missing) > 0 {
		return &callerr.ConfigError{Missing: missing}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config: invalid number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config: invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getMillis(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: invalid milliseconds, using default", "key", key, "value", v, "default", def)
		return def
	}
	return time.Duration(n) * time.Millisecond
}
