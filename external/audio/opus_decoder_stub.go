//go:build !opus

package audio

import (
	"fmt"

	"github.com/foxseedlab/voicememo/internal/audio"
)

// Without the opus build tag (and libopus) compressed input is refused.
func newDecoder(encoding string, _ int) (audio.Decoder, error) {
	return nil, fmt.Errorf("%w: %s (built without opus support)", audio.ErrUnsupportedEncoding, encoding)
}
