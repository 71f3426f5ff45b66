package session

import (
	"github.com/foxseedlab/voicememo/internal/audio"
	"github.com/foxseedlab/voicememo/internal/config"
	"github.com/foxseedlab/voicememo/internal/metrics"
	"github.com/foxseedlab/voicememo/internal/transcriber"
	"github.com/foxseedlab/voicememo/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		wh := do.MustInvoke[webhook.Sender](i)
		newDecoder := do.MustInvoke[audio.DecoderFactory](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return NewManager(cfg, stt, wh, newDecoder, m), nil
	})
}
