package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful investigations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed investigations (pipeline or dependency issues).
	OutcomeError = "error"
)

var (
	investigationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "investigations_total",
			Help:      "Total number of investigations handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	investigationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sleuth",
			Name:      "investigation_seconds",
			Help:      "Investigation latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	correlationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "correlation_total",
			Help:      "Incident correlation outcomes: attached to an open context or created a new one.",
		},
		[]string{"result"},
	)

	activeIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sleuth",
			Name:      "active_incidents",
			Help:      "Number of open incident contexts.",
		},
	)

	chatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sleuth",
			Name:      "chat_messages_total",
			Help:      "Chat messages processed, partitioned by classified intent.",
		},
		[]string{"intent"},
	)
)

// Register attaches sleuth-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		investigationsTotal,
		investigationDurationSeconds,
		correlationTotal,
		activeIncidents,
		chatMessagesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveInvestigation records an investigation duration and outcome label.
func ObserveInvestigation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	investigationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	investigationDurationSeconds.Observe(duration.Seconds())
}

// ObserveCorrelation records whether a seed attached to an open incident
// context or created a new one.
func ObserveCorrelation(created bool) {
	result := "attached"
	if created {
		result = "created"
	}
	correlationTotal.WithLabelValues(result).Inc()
}

// SetActiveIncidents publishes the current open-context count.
func SetActiveIncidents(n int) {
	activeIncidents.Set(float64(n))
}

// ObserveChatMessage counts a processed chat turn by intent.
func ObserveChatMessage(intent string) {
	if intent == "" {
		intent = "general"
	}
	chatMessagesTotal.WithLabelValues(intent).Inc()
}
