// internal/pkg/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 广告计费与投放的 Prometheus 指标。nil 接收者上的方法都是空操作。
type Metrics struct {
	clicksCharged  prometheus.Counter
	clicksDeclined *prometheus.CounterVec
	chargedAmount  prometheus.Counter
	autoPauses     *prometheus.CounterVec
	fraudVerdicts  *prometheus.CounterVec
	rankingLatency prometheus.Histogram
	placementCache *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		clicksCharged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "adengine", Name: "clicks_charged_total",
			Help: "Clicks billed to a seller wallet.",
		}),
		clicksDeclined: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adengine", Name: "clicks_declined_total",
			Help: "Clicks not billed, by reason.",
		}, []string{"reason"}),
		chargedAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: "adengine", Name: "charged_amount_total",
			Help: "Sum of amounts debited from seller wallets.",
		}),
		autoPauses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adengine", Name: "ad_auto_pauses_total",
			Help: "Ads auto-paused by billing, by reason.",
		}, []string{"reason"}),
		fraudVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adengine", Name: "fraud_verdicts_total",
			Help: "Fraud detector verdicts.",
		}, []string{"verdict"}),
		rankingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adengine", Name: "ranking_duration_seconds",
			Help:    "Latency of sponsored candidate ranking.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		placementCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adengine", Name: "placement_cache_total",
			Help: "Placement cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ClickCharged(amount float64) {
	if m == nil {
		return
	}
	m.clicksCharged.Inc()
	m.chargedAmount.Add(amount)
}

func (m *Metrics) ClickDeclined(reason string) {
	if m == nil {
		return
	}
	m.clicksDeclined.WithLabelValues(reason).Inc()
}

func (m *Metrics) AutoPaused(reason string) {
	if m == nil {
		return
	}
	m.autoPauses.WithLabelValues(reason).Inc()
}

func (m *Metrics) FraudVerdict(verdict string) {
	if m == nil {
		return
	}
	m.fraudVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) ObserveRanking(start time.Time) {
	if m == nil {
		return
	}
	m.rankingLatency.Observe(time.Since(start).Seconds())
}

func (m *Metrics) PlacementCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.placementCache.WithLabelValues("hit").Inc()
		return
	}
	m.placementCache.WithLabelValues("miss").Inc()
}
