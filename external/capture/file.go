package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/foxseedlab/voicememo/internal/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	FormatS16LE = "s16le"
	FormatF32LE = "f32le"
	FormatWAV   = "wav"

	// Stdin selects standard input as the capture path.
	Stdin = "-"

	DefaultFrameDuration = 100 * time.Millisecond
)

type Options struct {
	// Path is a file path or Stdin.
	Path   string
	Format string
	// SampleRate applies to raw formats; WAV input carries its own.
	SampleRate int
	// FrameDuration is the length of each delivered frame.
	FrameDuration time.Duration
	// Realtime paces frames at wall-clock speed, like a live microphone.
	Realtime bool
}

// FileCapturer treats an audio file or a raw PCM pipe as the input device.
type FileCapturer struct {
	opts Options
	open func(path string) (io.ReadCloser, error)
}

func NewFileCapturer(opts Options) *FileCapturer {
	if opts.Format == "" {
		opts.Format = FormatWAV
	}
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = DefaultFrameDuration
	}
	return &FileCapturer{opts: opts, open: openPath}
}

func openPath(path string) (io.ReadCloser, error) {
	if path == Stdin {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func (c *FileCapturer) Acquire(ctx context.Context) (audio.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := c.open(c.opts.Path)
	if err != nil {
		return nil, classifyOpenError(err)
	}

	reader, rate, err := c.newFrameReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	slog.Debug("audio input acquired", "path", c.opts.Path, "format", c.opts.Format, "sample_rate", rate)
	return startSource(reader, rc, rate, c.opts.FrameDuration, c.opts.Realtime), nil
}

func classifyOpenError(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
}

func (c *FileCapturer) newFrameReader(r io.Reader) (frameReader, int, error) {
	switch c.opts.Format {
	case FormatS16LE, FormatF32LE:
		if c.opts.SampleRate <= 0 {
			return nil, 0, fmt.Errorf("sample rate is required for %s input", c.opts.Format)
		}
		return &rawReader{
			r:       r,
			float:   c.opts.Format == FormatF32LE,
			samples: frameSamples(c.opts.SampleRate, c.opts.FrameDuration),
		}, c.opts.SampleRate, nil
	case FormatWAV:
		rs, ok := r.(io.ReadSeeker)
		if !ok {
			data, err := io.ReadAll(r)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to read WAV input: %w", err)
			}
			rs = bytes.NewReader(data)
		}
		return newWAVReader(rs, c.opts.FrameDuration)
	default:
		return nil, 0, fmt.Errorf("%w: %q", audio.ErrUnsupportedEncoding, c.opts.Format)
	}
}

func frameSamples(rate int, d time.Duration) int {
	return max(1, int(int64(rate)*int64(d)/int64(time.Second)))
}

// frameReader returns io.EOF once the input is exhausted; a short last frame
// may come with a nil error.
type frameReader interface {
	next() (audio.Frame, error)
}

type rawReader struct {
	r       io.Reader
	float   bool
	samples int
}

func (r *rawReader) next() (audio.Frame, error) {
	width := 2
	if r.float {
		width = 4
	}
	buf := make([]byte, r.samples*width)
	n, err := io.ReadFull(r.r, buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, err
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	buf = buf[:n-n%width]
	if !r.float {
		return audio.BytesToInt16(buf), nil
	}
	return audio.Float32ToInt16(audio.BytesToFloat32(buf)), nil
}

type wavReader struct {
	dec      *wav.Decoder
	buf      *goaudio.IntBuffer
	channels int
	bitDepth int
}

func newWAVReader(rs io.ReadSeeker, frameDuration time.Duration) (*wavReader, int, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: not a PCM WAV file", audio.ErrUnsupportedEncoding)
	}
	rate := int(dec.SampleRate)
	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if rate <= 0 || channels <= 0 {
		return nil, 0, fmt.Errorf("%w: invalid WAV format", audio.ErrUnsupportedEncoding)
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, 0, fmt.Errorf("%w: %d-bit WAV", audio.ErrUnsupportedEncoding, bitDepth)
	}
	n := frameSamples(rate, frameDuration)
	return &wavReader{
		dec: dec,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: rate},
			Data:   make([]int, n*channels),
		},
		channels: channels,
		bitDepth: bitDepth,
	}, rate, nil
}

// next downmixes to mono by averaging channels and rescales to 16 bits.
func (r *wavReader) next() (audio.Frame, error) {
	n, err := r.dec.PCMBuffer(r.buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	frames := n / r.channels
	out := make(audio.Frame, frames)
	for i := range out {
		sum := 0
		for ch := 0; ch < r.channels; ch++ {
			sum += r.buf.Data[i*r.channels+ch]
		}
		out[i] = r.to16(sum / r.channels)
	}
	return out, nil
}

func (r *wavReader) to16(v int) int16 {
	switch r.bitDepth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}

type fileSource struct {
	frames chan audio.Frame
	rate   int
	closer io.Closer
	stop   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func startSource(reader frameReader, closer io.Closer, rate int, frameDuration time.Duration, realtime bool) *fileSource {
	s := &fileSource{
		frames: make(chan audio.Frame, 8),
		rate:   rate,
		closer: closer,
		stop:   make(chan struct{}),
	}
	read := make(chan audio.Frame, 8)
	go s.read(reader, read)
	go s.emit(read, frameDuration, realtime)
	return s
}

// read may stay blocked on a pipe after Close; emit never waits for it.
func (s *fileSource) read(reader frameReader, out chan<- audio.Frame) {
	defer close(out)
	for {
		frame, err := reader.next()
		if len(frame) > 0 {
			select {
			case out <- frame:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.setErr(err)
			}
			return
		}
	}
}

func (s *fileSource) emit(in <-chan audio.Frame, frameDuration time.Duration, realtime bool) {
	defer close(s.frames)
	var pace <-chan time.Time
	if realtime {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		pace = ticker.C
	}
	for {
		var frame audio.Frame
		select {
		case f, ok := <-in:
			if !ok {
				return
			}
			frame = f
		case <-s.stop:
			return
		}
		if pace != nil {
			select {
			case <-pace:
			case <-s.stop:
				return
			}
		}
		select {
		case s.frames <- frame:
		case <-s.stop:
			return
		}
	}
}

func (s *fileSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = fmt.Errorf("failed to read audio input: %w", err)
	}
}

func (s *fileSource) Frames() <-chan audio.Frame { return s.frames }

func (s *fileSource) SampleRate() int { return s.rate }

func (s *fileSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fileSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.closer.Close()
	})
	return err
}
