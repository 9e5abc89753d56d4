package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stonkbot/internal/game"
)

// Registry holds the stonkbot collectors on a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	LedgerOps    *prometheus.CounterVec
	TickRuns     *prometheus.CounterVec
	TickDuration prometheus.Histogram
	Price        *prometheus.GaugeVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		LedgerOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stonkbot_ops_total",
				Help: "Ledger and market operations by result",
			},
			[]string{"op", "result"},
		),
		TickRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stonkbot_market_ticks_total",
				Help: "Scheduled market evolutions by result",
			},
			[]string{"result"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stonkbot_market_tick_duration_seconds",
				Help:    "Duration of scheduled market evolutions",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		Price: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stonkbot_instrument_price",
				Help: "Current price of each instrument",
			},
			[]string{"instrument"},
		),
	}
	r.reg.MustRegister(
		r.LedgerOps,
		r.TickRuns,
		r.TickDuration,
		r.Price,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) ObserveOp(op string, err error) {
	r.LedgerOps.WithLabelValues(op, result(err)).Inc()
}

// ObserveTick satisfies scheduler.Observer.
func (r *Registry) ObserveTick(err error, took time.Duration) {
	r.TickRuns.WithLabelValues(result(err)).Inc()
	r.TickDuration.Observe(took.Seconds())
}

func (r *Registry) SetPrices(prices []game.Instrument) {
	for _, p := range prices {
		r.Price.WithLabelValues(p.Name).Set(float64(p.Price))
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
