//go:build opus

package audio

import (
	"fmt"
	"sync"

	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/hraban/opus"
)

const (
	channels = 1
	// 120 ms is the longest frame an Opus packet can carry.
	maxFrameMs = 120
)

// OpusDecoder decodes one mono Opus stream packet by packet.
type OpusDecoder struct {
	mu     sync.Mutex
	dec    *opus.Decoder
	pcm    []int16
	closed bool
}

func NewOpusDecoder(sampleRate int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("%w: opus at %d Hz: %v", audio.ErrUnsupportedEncoding, sampleRate, err)
	}
	return &OpusDecoder{
		dec: dec,
		pcm: make([]int16, sampleRate*maxFrameMs/1000*channels),
	}, nil
}

func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	if len(packet) == 0 {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("opus decoder closed")
	}
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("decode opus packet: %w", err)
	}
	return append([]int16(nil), d.pcm[:n*channels]...), nil
}

func (d *OpusDecoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func newDecoder(encoding string, sampleRate int) (audio.Decoder, error) {
	if encoding != audio.EncodingOpus {
		return nil, fmt.Errorf("%w: %s", audio.ErrUnsupportedEncoding, encoding)
	}
	return NewOpusDecoder(sampleRate)
}
