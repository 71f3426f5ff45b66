package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultInterim = "interim"
	ResultFinal   = "final"
)

type Metrics struct {
	SessionsActive     prometheus.Gauge
	SessionsStarted    prometheus.Counter
	SessionDuration    prometheus.Histogram
	AudioBytesReceived prometheus.Counter
	TranscriptResults  *prometheus.CounterVec
	Errors             *prometheus.CounterVec
	FallbackRequests   *prometheus.CounterVec
}

// New registers every collector on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicememo_sessions_active",
			Help: "Number of recognition sessions currently running",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_sessions_started_total",
			Help: "Total number of recognition sessions started",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicememo_session_duration_seconds",
			Help:    "Duration of finished recognition sessions",
			Buckets: []float64{5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "voicememo_audio_bytes_received_total",
			Help: "PCM bytes forwarded to the recognition backend",
		}),
		TranscriptResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicememo_transcript_results_total",
			Help: "Recognition results delivered to clients",
		}, []string{"kind"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicememo_errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),
		FallbackRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicememo_fallback_requests_total",
			Help: "HTTP fallback transcription requests by status code",
		}, []string{"status"}),
	}
}

func ResultKind(isFinal bool) string {
	if isFinal {
		return ResultFinal
	}
	return ResultInterim
}
