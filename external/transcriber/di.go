package transcriber

import (
	"fmt"
	"time"

	"github.com/foxseedlab/voicememo/internal/config"
	"github.com/foxseedlab/voicememo/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Transcriber, error) {
		c := do.MustInvoke[*config.Config](i)
		return New(c)
	})
}

// New builds the recognition backend selected by RECOGNIZER.
func New(c *config.Config) (transcriber.Transcriber, error) {
	switch c.Recognizer {
	case config.RecognizerDemo:
		return NewDemoTranscriber(c.DemoSeed), nil
	case config.RecognizerGoogle:
		return NewCloudSpeechTranscriber(CloudSpeechConfig{
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Location:        c.GoogleCloudSpeechLocation,
			Model:           c.GoogleCloudSpeechModel,
		}), nil
	case config.RecognizerOpenAI:
		return NewWhisperTranscriber(WhisperConfig{
			APIKey:  c.OpenAIAPIKey,
			BaseURL: c.OpenAIBaseURL,
			Model:   c.OpenAITranscribeModel,
			Window:  time.Duration(c.OpenAIWindowSec) * time.Second,
		}), nil
	case config.RecognizerDeepgram:
		return NewDeepgramTranscriber(DeepgramConfig{
			APIKey: c.DeepgramAPIKey,
			Model:  c.DeepgramModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q", c.Recognizer)
	}
}
