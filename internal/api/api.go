// Package api serves the query and command HTTP API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/metrics"
	"github.com/ndrandal/harvest-exchange/internal/news"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/persist"
	"github.com/ndrandal/harvest-exchange/internal/position"
	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

// Exchange is the market surface the API reads and commands.
type Exchange interface {
	Quote(symbol string) (market.Quote, error)
	Quotes() []market.Quote
	Depth(symbol string, n int) (orderbook.DepthSnapshot, error)
	Orders(symbol, trader string) ([]orderbook.Order, error)
	ImpactHistory(symbol string) (prices, impacts []float64, err error)
	Scenario() scenario.Params
	SetScenario(k scenario.Kind)
	News(activeOnly bool) []news.Event
	Time() market.SimTime
	Tick() int64
	PlaceOrder(req market.OrderRequest) (orderbook.Result, error)
	CancelOrder(symbol string, orderID uint64) error
	position.Marks
}

// FillSink records fills produced by API orders.
type FillSink interface {
	RecordFills(ctx context.Context, day int, fills []orderbook.Fill) error
}

// Options are the optional collaborators of a Server. Nil fields disable
// the endpoints that need them.
type Options struct {
	Fills     persist.FillReader
	Sink      FillSink
	Ledger    *position.Ledger
	Broadcast func(market.TickReport) // streams order fills with the quotes they moved
	Clients   func() int
	RateRPS   float64 // per-trader order rate; <= 0 disables limiting
	RateBurst int
	Logger    *slog.Logger
}

// Server provides REST API endpoints for the exchange.
type Server struct {
	market    Exchange
	fills     persist.FillReader
	sink      FillSink
	ledger    *position.Ledger
	broadcast func(market.TickReport)
	clients   func() int
	limiter   *traderLimiter
	logger    *slog.Logger
	startAt   time.Time
}

// NewServer creates a new API server.
func NewServer(m Exchange, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clients == nil {
		opts.Clients = func() int { return 0 }
	}
	return &Server{
		market:    m,
		fills:     opts.Fills,
		sink:      opts.Sink,
		ledger:    opts.Ledger,
		broadcast: opts.Broadcast,
		clients:   opts.Clients,
		limiter:   newTraderLimiter(opts.RateRPS, opts.RateBurst),
		logger:    opts.Logger,
		startAt:   time.Now(),
	}
}

// Routes returns the API router with its middleware stack.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/instruments", s.handleInstruments)
		r.Get("/instruments/{symbol}", s.handleInstrument)
		r.Get("/book/{symbol}", s.handleBookDepth)
		r.Get("/impact/{symbol}", s.handleImpact)
		r.Get("/scenario", s.handleScenario)
		r.Put("/scenario", s.handleSetScenario)
		r.Get("/news", s.handleNews)
		r.Get("/time", s.handleTime)
		r.Get("/fills/{symbol}", s.handleFills)
		r.Get("/candles/{symbol}", s.handleCandles)
		r.Get("/stats", s.handleStats)
		r.Get("/positions/{trader}", s.handlePositions)
		r.Get("/orders/{symbol}", s.handleOrders)
		r.Post("/orders", s.handlePlaceOrder)
		r.Delete("/orders/{symbol}/{id}", s.handleCancelOrder)
	})
	return r
}

type ctxKey struct{}

// requestID tags each request with a UUID, reusing a client supplied one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// RequestIDFrom returns the request id stored by the middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"took", time.Since(start), "request_id", RequestIDFrom(r.Context()))
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// parseTimeParam parses an RFC3339 query parameter.
func parseTimeParam(r *http.Request, key string) *time.Time {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
