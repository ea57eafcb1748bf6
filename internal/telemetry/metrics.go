package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors shared by the player and trigger modules. Labels are kept to
// the trigger source and injection kind so cardinality stays fixed.
var (
	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sb_triggers_total",
		Help: "Trigger firings by source.",
	}, []string{"source"})

	InjectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sb_injections_total",
		Help: "Clips injected into the queue by kind (event or random).",
	}, []string{"kind"})

	SuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_triggers_suppressed_total",
		Help: "Event triggers suppressed because random content was playing.",
	})

	EngineErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_engine_command_errors_total",
		Help: "Player engine commands that failed.",
	})

	PlaybackMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sb_playback_mode",
		Help: "Current playback mode (0 idle, 1 event, 2 random).",
	})

	FeedDownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_feed_downloads_total",
		Help: "Media files downloaded by feed sync.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
