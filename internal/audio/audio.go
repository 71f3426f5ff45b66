package audio

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrDeviceUnavailable   = errors.New("audio input device unavailable")
	ErrUnsupportedEncoding = errors.New("unsupported audio encoding")
)

const (
	EncodingLinear16 = "linear16"
	EncodingWAV      = "wav"
	EncodingOpus     = "opus"
)

// Frame is one fixed-length block of mono signed 16-bit PCM.
type Frame []int16

// Chunk is a run of whole frames collected over one flush interval.
type Chunk struct {
	Samples    []int16
	SampleRate int
	Frames     int
}

func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// PCMBytes returns the samples as little-endian bytes.
func (c Chunk) PCMBytes() []byte {
	return Int16ToBytes(c.Samples)
}

// Source delivers frames from an acquired input until it is closed or the
// input ends. A closed Source cannot be restarted.
type Source interface {
	Frames() <-chan Frame
	SampleRate() int
	// Err reports why the frame channel closed, nil for a normal end or Close.
	Err() error
	Close() error
}

// Capturer acquires exclusive access to an audio input.
type Capturer interface {
	Acquire(ctx context.Context) (Source, error)
}

// Decoder turns one compressed packet into PCM.
type Decoder interface {
	Decode(packet []byte) ([]int16, error)
	Close()
}

type DecoderFactory func(encoding string, sampleRate int) (Decoder, error)
