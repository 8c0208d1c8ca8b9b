package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skalibog/quantbot/pkg/models"
)

// Результаты тика для метки result
const (
	TickOK           = "ok"
	TickHold         = "hold"
	TickSkippedBusy  = "skipped_busy"
	TickInsufficient = "insufficient_data"
	TickMarketError  = "market_error"
	TickStoreError   = "store_error"
	TickTimeout      = "timeout"
	TickPanic        = "panic"
)

// Recorder метрики агента на собственном реестре
type Recorder struct {
	registry *prometheus.Registry

	Ticks        *prometheus.CounterVec
	Decisions    *prometheus.CounterVec
	Orders       *prometheus.CounterVec
	LastScore    prometheus.Gauge
	TickDuration prometheus.Histogram
}

// New создает и регистрирует метрики
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantbot_ticks_total",
				Help: "Total number of loop ticks by result",
			},
			[]string{"result"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantbot_decisions_total",
				Help: "Total number of evaluated decisions by action",
			},
			[]string{"decision"},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantbot_orders_total",
				Help: "Total number of order attempts by result",
			},
			[]string{"result"},
		),
		LastScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quantbot_last_score",
				Help: "Score of the most recent evaluation",
			},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quantbot_tick_duration_seconds",
				Help:    "Duration of a loop tick in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
	}

	r.registry.MustRegister(r.Ticks, r.Decisions, r.Orders, r.LastScore, r.TickDuration)
	return r
}

// Tick учитывает завершение тика
func (r *Recorder) Tick(result string, seconds float64) {
	r.Ticks.WithLabelValues(result).Inc()
	if seconds > 0 {
		r.TickDuration.Observe(seconds)
	}
}

// Decision учитывает результат оценки
func (r *Recorder) Decision(d models.Decision) {
	r.Decisions.WithLabelValues(string(d.Decision)).Inc()
	r.LastScore.Set(d.Score)
}

// Order учитывает попытку размещения ордера: ok или failed
func (r *Recorder) Order(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.Orders.WithLabelValues(result).Inc()
}

// Handler отдает метрики в формате Prometheus
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry реестр для подключения дополнительных коллекторов
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
