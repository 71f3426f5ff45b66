package audio

import (
	"testing"
	"time"
)

func TestFloat32ToInt16(t *testing.T) {
	got := Float32ToInt16([]float32{-1.5, -1, 0, 0.5, 1, 2})
	want := []int16{-32768, -32768, 0, 16383, 32767, 32767}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestInt16BytesRoundTrip(t *testing.T) {
	samples := []int16{-32768, -1, 0, 1, 32767}
	b := Int16ToBytes(samples)
	if len(b) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(b))
	}
	if b[0] != 0x00 || b[1] != 0x80 {
		t.Fatalf("expected little-endian encoding, got % x", b[:2])
	}
	back := BytesToInt16(append(b, 0xff))
	if len(back) != len(samples) {
		t.Fatalf("expected trailing odd byte to be ignored, got %d samples", len(back))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Fatalf("index %d: expected %d, got %d", i, samples[i], back[i])
		}
	}
}

func TestChunkDuration(t *testing.T) {
	c := Chunk{Samples: make([]int16, 8000), SampleRate: 16000}
	if c.Duration() != 500*time.Millisecond {
		t.Fatalf("unexpected duration: %v", c.Duration())
	}
	if (Chunk{Samples: make([]int16, 10)}).Duration() != 0 {
		t.Fatal("expected zero duration without a sample rate")
	}
}

func TestBytesToFloat32(t *testing.T) {
	b := []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0xbf, 0x01}
	got := BytesToFloat32(b)
	if len(got) != 2 || got[0] != 1 || got[1] != -0.5 {
		t.Fatalf("expected [1 -0.5], got %v", got)
	}
}
