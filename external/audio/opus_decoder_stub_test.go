//go:build !opus

package audio

import (
	"errors"
	"testing"

	"github.com/foxseedlab/voicememo/internal/audio"
)

func TestDecoderFactory_WithoutOpusSupport(t *testing.T) {
	if _, err := NewDecoderFactory()(audio.EncodingOpus, 48000); !errors.Is(err, audio.ErrUnsupportedEncoding) {
		t.Fatalf("expected ErrUnsupportedEncoding, got %v", err)
	}
}
