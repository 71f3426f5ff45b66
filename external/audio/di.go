package audio

import (
	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideValue(injector, NewDecoderFactory())
}

func NewDecoderFactory() audio.DecoderFactory {
	return newDecoder
}
