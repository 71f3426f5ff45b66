package httpapi

import (
	"net/http"

	"github.com/foxseedlab/voicememo/external/realtime"
	"github.com/foxseedlab/voicememo/internal/config"
	"github.com/foxseedlab/voicememo/internal/metrics"
	"github.com/foxseedlab/voicememo/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*http.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		manager := do.MustInvoke[*session.Manager](i)
		ws := do.MustInvoke[*realtime.Handler](i)
		reg := do.MustInvoke[*prometheus.Registry](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return NewServer(cfg, NewRouter(cfg, manager, ws, reg, m)), nil
	})
}
