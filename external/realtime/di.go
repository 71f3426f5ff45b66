package realtime

import (
	"github.com/foxseedlab/voicememo/internal/config"
	"github.com/foxseedlab/voicememo/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Handler, error) {
		return NewHandler(do.MustInvoke[*config.Config](i), do.MustInvoke[*session.Manager](i)), nil
	})
}
