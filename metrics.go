package streamstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "streamstore"

type storeMetrics struct {
	appends       prometheus.Counter
	appendRetries prometheus.Counter
	conflicts     prometheus.Counter
	duplicates    prometheus.Counter
	messagesRead  prometheus.Counter
	gapReloads    prometheus.Counter
	liveSubs      prometheus.Gauge
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	f := promauto.With(reg)
	return &storeMetrics{
		appends: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "appends_total",
			Help:      "Successful appends, including metadata and delete markers.",
		}),
		appendRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "append_retries_total",
			Help:      "Append attempts retried after a concurrency conflict.",
		}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "append_conflicts_total",
			Help:      "Appends failed with a concurrency conflict after retries.",
		}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "append_duplicates_total",
			Help:      "Appends rejected because a message id already existed.",
		}),
		messagesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_read_total",
			Help:      "Messages returned by stream and all-stream reads.",
		}),
		gapReloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gap_reloads_total",
			Help:      "Forward all-reads re-issued because of a position gap.",
		}),
		liveSubs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscriptions_live",
			Help:      "Currently tracked subscriptions.",
		}),
	}
}
