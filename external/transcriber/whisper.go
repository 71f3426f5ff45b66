package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/foxseedlab/voicememo/internal/transcriber"
	openai "github.com/sashabaranov/go-openai"
)

type WhisperConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Window  time.Duration
}

type audioTranscriptionClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperTranscriber has no streaming mode: it buffers audio into fixed
// windows and reports each window's transcription as a final result.
type WhisperTranscriber struct {
	client audioTranscriptionClient
	model  string
	window time.Duration
}

func NewWhisperTranscriber(cfg WhisperConfig) *WhisperTranscriber {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		window: cfg.Window,
	}
}

func (t *WhisperTranscriber) StartStreaming(ctx context.Context, opts transcriber.StreamOptions, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	windowSamples := int(t.window.Seconds() * float64(opts.SampleRate))
	if windowSamples <= 0 {
		return nil, fmt.Errorf("invalid transcription window %s at %d Hz", t.window, opts.SampleRate)
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &whisperStream{
		parent:        t,
		opts:          opts,
		receiver:      receiver,
		windowSamples: windowSamples,
		windows:       make(chan []int16, 4),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
	go s.run()
	slog.Info("starting whisper windowed transcription", "session_id", opts.SessionID, "language", opts.Language, "window", t.window)
	return s, nil
}

type whisperStream struct {
	parent        *WhisperTranscriber
	opts          transcriber.StreamOptions
	receiver      transcriber.ResultReceiver
	windowSamples int

	mu      sync.Mutex
	closed  bool
	pending []int16

	windows chan []int16
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *whisperStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.pending = append(s.pending, audio.BytesToInt16(pcm)...)
	for len(s.pending) >= s.windowSamples {
		window := s.pending[:s.windowSamples:s.windowSamples]
		s.pending = append([]int16(nil), s.pending[s.windowSamples:]...)
		s.windows <- window
	}
	return nil
}

// Close transcribes whatever audio remains and waits for every window.
func (s *whisperStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	if len(s.pending) > 0 {
		s.windows <- s.pending
		s.pending = nil
	}
	close(s.windows)
	s.mu.Unlock()

	<-s.done
	s.cancel()
	return nil
}

func (s *whisperStream) run() {
	defer close(s.done)
	failed := false
	for window := range s.windows {
		if failed {
			continue
		}
		text, err := s.transcribe(window)
		if err != nil {
			failed = true
			s.receiver.OnError(err)
			continue
		}
		if text != "" {
			s.receiver.OnResult(text, true, 1)
		}
	}
}

func (s *whisperStream) transcribe(samples []int16) (string, error) {
	wav, err := audio.EncodeWAV(samples, s.opts.SampleRate)
	if err != nil {
		return "", err
	}
	resp, err := s.parent.client.CreateTranscription(s.ctx, openai.AudioRequest{
		Model:    s.parent.model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(wav),
		Language: baseLanguage(s.opts.Language),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
