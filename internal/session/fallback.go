package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/foxseedlab/voicememo/internal/transcriber"
	"github.com/google/uuid"
)

// fallbackWriteSeconds is how much audio each backend write carries when a
// whole recording arrives at once.
const fallbackWriteSeconds = 1

var (
	ErrInvalidLanguage = errors.New("invalid language")
	ErrInvalidAudio    = errors.New("invalid audio")
)

// Transcribe runs one recording through the backend and reports each result
// to emit in delivery order. data is a WAV file or raw 16-bit PCM at the
// configured sample rate.
func (m *Manager) Transcribe(ctx context.Context, language string, data []byte, emit func(protocol.RecognitionResult) error) error {
	lang, err := m.cfg.ResolveLanguage(language)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLanguage, err)
	}

	sampleRate := m.cfg.SampleRateHz
	pcm := data[:len(data)&^1]
	if audio.IsWAV(data) {
		samples, rate, err := audio.DecodeWAV(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAudio, err)
		}
		pcm, sampleRate = audio.Int16ToBytes(samples), rate
	}
	if sampleRate < minSampleRate || sampleRate > maxSampleRate {
		return fmt.Errorf("%w: unsupported sample rate %d", ErrInvalidAudio, sampleRate)
	}

	id := uuid.NewString()
	receiver := &collectingReceiver{emit: emit}
	writer, err := m.transcriber.StartStreaming(ctx, transcriber.StreamOptions{
		SessionID:  id,
		Language:   lang,
		SampleRate: sampleRate,
	}, receiver)
	if err != nil {
		return fmt.Errorf("start transcriber streaming: %w", err)
	}
	slog.Info("transcribing uploaded audio", "session_id", id, "language", lang, "pcm_bytes", len(pcm))

	step := sampleRate * 2 * fallbackWriteSeconds
	for off := 0; off < len(pcm); off += step {
		if err := ctx.Err(); err != nil {
			_ = writer.Close()
			return err
		}
		end := min(off+step, len(pcm))
		if err := writer.Write(pcm[off:end]); err != nil {
			_ = writer.Close()
			return fmt.Errorf("write pcm to transcriber stream: %w", err)
		}
	}
	m.metrics.AudioBytesReceived.Add(float64(len(pcm)))
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close transcriber stream: %w", err)
	}
	return receiver.err()
}

type collectingReceiver struct {
	emit func(protocol.RecognitionResult) error

	mu       sync.Mutex
	firstErr error
}

func (r *collectingReceiver) OnResult(text string, isFinal bool, stability float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstErr != nil {
		return
	}
	r.firstErr = r.emit(protocol.RecognitionResult{Transcript: text, IsFinal: isFinal, Stability: stability})
}

func (r *collectingReceiver) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstErr == nil {
		r.firstErr = err
	}
}

func (r *collectingReceiver) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}
