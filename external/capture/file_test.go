package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxseedlab/voicememo/internal/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func collect(t *testing.T, src audio.Source) []int16 {
	t.Helper()
	var out []int16
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-src.Frames():
			if !ok {
				return out
			}
			out = append(out, frame...)
		case <-timeout:
			t.Fatal("frames channel not closed")
		}
	}
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i * 10)
	}
	return out
}

func TestFileCapturer_WAV(t *testing.T) {
	samples := ramp(2500)
	data, err := audio.EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	c := NewFileCapturer(Options{Path: writeFile(t, "memo.wav", data)})

	src, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 16000 {
		t.Fatalf("SampleRate() = %d, want 16000", src.SampleRate())
	}
	got := collect(t, src)
	if len(got) != len(samples) {
		t.Fatalf("samples = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
	if src.Err() != nil {
		t.Fatalf("Err() = %v, want nil", src.Err())
	}
}

func TestFileCapturer_StereoWAVIsDownmixed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	enc := wav.NewEncoder(f, 8000, 16, 2, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 2, SampleRate: 8000},
		Data:   []int{100, 300, -200, -400, 0, 50},
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("encoder Close() error = %v", err)
	}
	_ = f.Close()

	src, err := NewFileCapturer(Options{Path: path, Format: FormatWAV}).Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer src.Close()

	got := collect(t, src)
	want := []int16{200, -300, 25}
	if len(got) != len(want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("samples = %v, want %v", got, want)
		}
	}
}

func TestFileCapturer_RawS16LE(t *testing.T) {
	samples := ramp(450)
	path := writeFile(t, "memo.pcm", audio.Int16ToBytes(samples))
	c := NewFileCapturer(Options{Path: path, Format: FormatS16LE, SampleRate: 8000, FrameDuration: 20 * time.Millisecond})

	src, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer src.Close()

	frames := 0
	total := 0
	for frame := range src.Frames() {
		frames++
		total += len(frame)
		if len(frame) > 160 {
			t.Fatalf("frame of %d samples, want at most 160", len(frame))
		}
	}
	if total != 450 || frames != 3 {
		t.Fatalf("got %d samples in %d frames, want 450 in 3", total, frames)
	}
}

func TestFileCapturer_RawF32LE(t *testing.T) {
	values := []float32{0, 0.5, -0.5, 1, -1, 2}
	raw := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	c := NewFileCapturer(Options{Path: writeFile(t, "memo.f32", raw), Format: FormatF32LE, SampleRate: 48000})

	src, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer src.Close()

	got := collect(t, src)
	want := audio.Float32ToInt16(values)
	if len(got) != len(want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("samples = %v, want %v", got, want)
		}
	}
}

func TestFileCapturer_MissingFile(t *testing.T) {
	c := NewFileCapturer(Options{Path: filepath.Join(t.TempDir(), "missing.wav")})
	_, err := c.Acquire(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Acquire() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestFileCapturer_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}
	path := writeFile(t, "locked.wav", []byte("RIFF"))
	if err := os.Chmod(path, 0); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	_, err := NewFileCapturer(Options{Path: path}).Acquire(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Acquire() error = %v, want ErrPermissionDenied", err)
	}
}

func TestFileCapturer_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown format", Options{Format: "mp3"}},
		{"raw without rate", Options{Format: FormatS16LE}},
		{"not a wav file", Options{Format: FormatWAV}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Path = writeFile(t, "input", []byte("definitely not audio"))
			if _, err := NewFileCapturer(tt.opts).Acquire(context.Background()); err == nil {
				t.Fatal("Acquire() error = nil")
			}
		})
	}
}

func TestFileCapturer_CloseEndsRealtimeInput(t *testing.T) {
	data, err := audio.EncodeWAV(make([]int16, 16000*10), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	c := NewFileCapturer(Options{Path: writeFile(t, "long.wav", data), Realtime: true, FrameDuration: 50 * time.Millisecond})

	src, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	select {
	case <-src.Frames():
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_ = collect(t, src)
	if err := src.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
