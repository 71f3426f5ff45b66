package config

import (
	"fmt"
	"slices"
	"strings"
)

const (
	RecognizerDemo     = "demo"
	RecognizerGoogle   = "google"
	RecognizerOpenAI   = "openai"
	RecognizerDeepgram = "deepgram"

	minSampleRateHz = 8000
	maxSampleRateHz = 48000
)

type Config struct {
	Env                        string
	ListenAddr                 string
	DefaultTranscribeLanguage  string
	SupportedLanguages         []string
	SampleRateHz               int
	MaxTranscribeDurationMin   int
	Recognizer                 string
	DemoSeed                   uint64
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	OpenAIAPIKey               string
	OpenAIBaseURL              string
	OpenAITranscribeModel      string
	OpenAIWindowSec            int
	DeepgramAPIKey             string
	DeepgramModel              string
	TranscriptWebhookURL       string
	AllowedOrigins             []string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if len(c.SupportedLanguages) == 0 {
		return fmt.Errorf("SUPPORTED_LANGUAGES must not be empty")
	}
	if !c.IsSupportedLanguage(c.DefaultTranscribeLanguage) {
		return fmt.Errorf("DEFAULT_TRANSCRIBE_LANGUAGE %q is not in SUPPORTED_LANGUAGES", c.DefaultTranscribeLanguage)
	}
	if c.SampleRateHz < minSampleRateHz || c.SampleRateHz > maxSampleRateHz {
		return fmt.Errorf("SAMPLE_RATE_HZ must be between %d and %d, got %d", minSampleRateHz, maxSampleRateHz, c.SampleRateHz)
	}
	if c.MaxTranscribeDurationMin <= 0 {
		return fmt.Errorf("MAX_TRANSCRIBE_DURATION_MIN must be positive, got %d", c.MaxTranscribeDurationMin)
	}
	switch c.Recognizer {
	case RecognizerDemo:
	case RecognizerGoogle:
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when RECOGNIZER=google")
		}
	case RecognizerOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when RECOGNIZER=openai")
		}
		if c.OpenAIWindowSec <= 0 {
			return fmt.Errorf("OPENAI_WINDOW_SEC must be positive, got %d", c.OpenAIWindowSec)
		}
	case RecognizerDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when RECOGNIZER=deepgram")
		}
	default:
		return fmt.Errorf("RECOGNIZER must be one of demo, google, openai, deepgram, got %q", c.Recognizer)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "LISTEN_ADDR", value: c.ListenAddr},
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultTranscribeLanguage},
		{name: "RECOGNIZER", value: c.Recognizer},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsSupportedLanguage reports whether lang is one of the configured recognition languages.
func (c *Config) IsSupportedLanguage(lang string) bool {
	return slices.Contains(c.SupportedLanguages, lang)
}

// ResolveLanguage returns the default language for an empty request and
// rejects anything outside the supported set.
func (c *Config) ResolveLanguage(requested string) (string, error) {
	lang := strings.TrimSpace(requested)
	if lang == "" {
		return c.DefaultTranscribeLanguage, nil
	}
	if !c.IsSupportedLanguage(lang) {
		return "", fmt.Errorf("unsupported language %q", lang)
	}
	return lang, nil
}

func (c *Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
