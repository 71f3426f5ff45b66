package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/voicememo/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env                        string   `env:"ENV" envDefault:"production"`
	ListenAddr                 string   `env:"LISTEN_ADDR" envDefault:":3000"`
	DefaultTranscribeLanguage  string   `env:"DEFAULT_TRANSCRIBE_LANGUAGE" envDefault:"ko-KR"`
	SupportedLanguages         []string `env:"SUPPORTED_LANGUAGES" envDefault:"ko-KR,en-US,ja-JP,zh-CN" envSeparator:","`
	SampleRateHz               int      `env:"SAMPLE_RATE_HZ" envDefault:"16000"`
	MaxTranscribeDurationMin   int      `env:"MAX_TRANSCRIBE_DURATION_MIN" envDefault:"120"`
	Recognizer                 string   `env:"RECOGNIZER" envDefault:"demo"`
	DemoSeed                   uint64   `env:"DEMO_SEED" envDefault:"0"`
	GoogleCloudProjectID       string   `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string   `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string   `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"asia-northeast1"`
	GoogleCloudSpeechModel     string   `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	OpenAIAPIKey               string   `env:"OPENAI_API_KEY"`
	OpenAIBaseURL              string   `env:"OPENAI_BASE_URL"`
	OpenAITranscribeModel      string   `env:"OPENAI_TRANSCRIBE_MODEL" envDefault:"whisper-1"`
	OpenAIWindowSec            int      `env:"OPENAI_WINDOW_SEC" envDefault:"5"`
	DeepgramAPIKey             string   `env:"DEEPGRAM_API_KEY"`
	DeepgramModel              string   `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`
	TranscriptWebhookURL       string   `env:"TRANSCRIPT_WEBHOOK_URL"`
	AllowedOrigins             []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads an optional .env file and then the process environment.
func Load(dotenvFiles ...string) (*internalconfig.Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		slog.Debug("no .env file found; using process environment only")
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		ListenAddr:                 raw.ListenAddr,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		SupportedLanguages:         raw.SupportedLanguages,
		SampleRateHz:               raw.SampleRateHz,
		MaxTranscribeDurationMin:   raw.MaxTranscribeDurationMin,
		Recognizer:                 raw.Recognizer,
		DemoSeed:                   raw.DemoSeed,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		OpenAIAPIKey:               raw.OpenAIAPIKey,
		OpenAIBaseURL:              raw.OpenAIBaseURL,
		OpenAITranscribeModel:      raw.OpenAITranscribeModel,
		OpenAIWindowSec:            raw.OpenAIWindowSec,
		DeepgramAPIKey:             raw.DeepgramAPIKey,
		DeepgramModel:              raw.DeepgramModel,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		AllowedOrigins:             raw.AllowedOrigins,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
