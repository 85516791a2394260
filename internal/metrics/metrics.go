// Package metrics provides Prometheus instrumentation for the exchange.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

var (
	// TicksTotal counts market steps that were not paused.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_ticks_total",
		Help: "Total number of market ticks processed",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_tick_duration_seconds",
		Help:    "Time spent stepping the market and applying the report",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	// FillsTotal counts taker fills, partitioned by side and trader class.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_fills_total",
		Help: "Total number of taker fills",
	}, []string{"side", "trader"})

	// FillVolume tracks cumulative traded quantity per commodity.
	FillVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_fill_volume_total",
		Help: "Cumulative traded quantity",
	}, []string{"commodity"})

	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_orders_total",
		Help: "Orders received through the API by type and outcome",
	}, []string{"type", "outcome"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_rate_limited_total",
		Help: "Order requests rejected by the per-trader limiter",
	})

	// Instruments tracks the number of listed contracts.
	Instruments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_instruments",
		Help: "Number of currently listed contracts",
	})

	SpotPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvest_spot_price",
		Help: "Displayed spot price of the current contract",
	}, []string{"commodity"})

	Impact = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvest_impact",
		Help: "Current price impact of the current contract",
	}, []string{"commodity"})

	NewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_news_total",
		Help: "News events released, by severity",
	}, []string{"severity"})

	// Scenario is 1 for the active scenario and 0 for the others.
	Scenario = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvest_scenario",
		Help: "Active market scenario",
	}, []string{"scenario"})

	DeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_deliveries_total",
		Help: "Contracts that reached delivery",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_store_errors_total",
		Help: "Persistence and publish failures by operation",
	}, []string{"op"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveTick records one applied tick report.
func ObserveTick(rep market.TickReport, took time.Duration) {
	if rep.Paused {
		return
	}
	TicksTotal.Inc()
	TickDuration.Observe(took.Seconds())

	for _, f := range rep.Fills {
		if f.Maker {
			continue
		}
		trader := "npc"
		if f.IsPlayer {
			trader = "player"
		}
		FillsTotal.WithLabelValues(f.Side.String(), trader).Inc()
	}

	commodityOf := make(map[string]string, len(rep.Quotes))
	for _, q := range rep.Quotes {
		commodityOf[q.Symbol] = q.CommodityID
		SpotPrice.WithLabelValues(q.CommodityID).Set(q.Spot)
		Impact.WithLabelValues(q.CommodityID).Set(q.Impact)
	}
	for _, f := range rep.Fills {
		if !f.Maker {
			FillVolume.WithLabelValues(commodityOf[f.Symbol]).Add(float64(f.Quantity))
		}
	}
	Instruments.Set(float64(len(rep.Quotes)))

	for _, ev := range rep.News {
		NewsTotal.WithLabelValues(string(ev.Severity)).Inc()
	}
	DeliveriesTotal.Add(float64(len(rep.Deliveries)))
	if rep.ScenarioChanged || rep.DayStarted {
		SetScenario(rep.Scenario.Kind)
	}
}

// SetScenario marks k as the active scenario.
func SetScenario(k scenario.Kind) {
	for _, other := range scenario.Kinds() {
		v := 0.0
		if other == k {
			v = 1
		}
		Scenario.WithLabelValues(other.String()).Set(v)
	}
}

// ObserveSessions exports websocket client and drop counts read from fn.
// Call once.
func ObserveSessions(clients func() int, dropped func() uint64) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "harvest_websocket_clients",
		Help: "Number of connected WebSocket clients",
	}, func() float64 { return float64(clients()) })
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "harvest_websocket_dropped_total",
		Help: "Frames dropped because a client buffer was full",
	}, func() float64 { return float64(dropped()) })
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route to keep symbol paths from exploding
// the label set. Unrouted requests share one label.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
