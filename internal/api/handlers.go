package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/persist"
	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

// writeMarketError maps market errors to status codes.
func writeMarketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrUnknownSymbol):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrMarketClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"clients":     s.clients(),
		"instruments": len(s.market.Quotes()),
		"tick":        s.market.Tick(),
	})
}

// handleInstruments returns every listed contract with its latest quote.
func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.market.Quotes())
}

// handleInstrument returns a single contract's latest quote.
func (s *Server) handleInstrument(w http.ResponseWriter, r *http.Request) {
	q, err := s.market.Quote(chi.URLParam(r, "symbol"))
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type depthResponse struct {
	Symbol   string      `json:"symbol"`
	Bids     []levelJSON `json:"bids"`
	Asks     []levelJSON `json:"asks"`
	BestBid  float64     `json:"bestBid"`
	BestAsk  float64     `json:"bestAsk"`
	MidPrice float64     `json:"midPrice"`
	Spread   float64     `json:"spread"`
}

type levelJSON struct {
	Price    float64 `json:"price"`
	Orders   int     `json:"orders"`
	Quantity int64   `json:"quantity"`
}

// handleBookDepth returns the top levels of a contract's book.
func (s *Server) handleBookDepth(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	snap, err := s.market.Depth(symbol, parseIntParam(r, "levels", 5))
	if err != nil {
		writeMarketError(w, err)
		return
	}

	resp := depthResponse{
		Symbol:   symbol,
		BestBid:  snap.BestBid,
		BestAsk:  snap.BestAsk,
		MidPrice: snap.MidPrice,
		Spread:   snap.Spread,
	}
	resp.Bids = make([]levelJSON, len(snap.Bids))
	for i, lvl := range snap.Bids {
		resp.Bids[i] = levelJSON{Price: lvl.Price, Orders: lvl.Orders, Quantity: lvl.Quantity}
	}
	resp.Asks = make([]levelJSON, len(snap.Asks))
	for i, lvl := range snap.Asks {
		resp.Asks[i] = levelJSON{Price: lvl.Price, Orders: lvl.Orders, Quantity: lvl.Quantity}
	}
	writeJSON(w, http.StatusOK, resp)
}

type impactResponse struct {
	Symbol  string    `json:"symbol"`
	Impact  float64   `json:"impact"`
	Shadow  float64   `json:"shadow"`
	Spot    float64   `json:"spot"`
	Prices  []float64 `json:"prices"`
	Impacts []float64 `json:"impacts"`
}

// handleImpact returns the current impact and its recent history.
func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	q, err := s.market.Quote(symbol)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	prices, impacts, err := s.market.ImpactHistory(symbol)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, impactResponse{
		Symbol:  symbol,
		Impact:  q.Impact,
		Shadow:  q.Shadow,
		Spot:    q.Spot,
		Prices:  prices,
		Impacts: impacts,
	})
}

type scenarioResponse struct {
	Scenario string `json:"scenario"`
	scenario.Params
}

func (s *Server) handleScenario(w http.ResponseWriter, r *http.Request) {
	p := s.market.Scenario()
	writeJSON(w, http.StatusOK, scenarioResponse{Scenario: p.Kind.String(), Params: p})
}

// handleSetScenario forces a regime until the next daily switch.
func (s *Server) handleSetScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scenario string `json:"scenario"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	k, err := scenario.ParseKind(req.Scenario)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.market.SetScenario(k)
	s.handleScenario(w, r)
}

// handleNews returns known events; ?active=1 limits to those in effect today.
func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	active := r.URL.Query().Get("active")
	writeJSON(w, http.StatusOK, s.market.News(active == "1" || active == "true"))
}

type timeResponse struct {
	market.SimTime
	AbsoluteDay int    `json:"absoluteDay"`
	Tick        int64  `json:"tick"`
	Label       string `json:"label"`
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	t := s.market.Time()
	writeJSON(w, http.StatusOK, timeResponse{SimTime: t, AbsoluteDay: t.AbsoluteDay(), Tick: s.market.Tick(), Label: t.String()})
}

// handleFills returns paginated fills for a contract from the fill log.
func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	if s.fills == nil {
		writeError(w, http.StatusServiceUnavailable, "fill log not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	fills, err := s.fills.QueryFills(ctx, persist.FillFilter{
		Symbol:   chi.URLParam(r, "symbol"),
		TraderID: r.URL.Query().Get("trader"),
		Limit:    parseIntParam(r, "limit", 100),
		Offset:   parseIntParam(r, "offset", 0),
		From:     parseTimeParam(r, "from"),
		To:       parseTimeParam(r, "to"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if fills == nil {
		fills = []persist.FillRecord{}
	}
	writeJSON(w, http.StatusOK, fills)
}

// handleCandles returns daily OHLCV bars for a contract.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if s.fills == nil {
		writeError(w, http.StatusServiceUnavailable, "fill log not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	candles, err := s.fills.QueryCandles(ctx, chi.URLParam(r, "symbol"), parseIntParam(r, "limit", 28))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if candles == nil {
		candles = []persist.Candle{}
	}
	writeJSON(w, http.StatusOK, candles)
}

type statsResponse struct {
	Uptime      string `json:"uptime"`
	Clients     int    `json:"clients"`
	Instruments int    `json:"instruments"`
	Tick        int64  `json:"tick"`
	Day         int    `json:"day"`
	Scenario    string `json:"scenario"`
	TotalOrders int    `json:"totalOrders"`
	TotalFills  int64  `json:"totalFills"`
	TotalVolume int64  `json:"totalVolume"`
}

// handleStats returns runtime and aggregate statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	quotes := s.market.Quotes()
	var totalOrders int
	for _, q := range quotes {
		orders, err := s.market.Orders(q.Symbol, "")
		if err == nil {
			totalOrders += len(orders)
		}
	}

	resp := statsResponse{
		Uptime:      time.Since(s.startAt).Truncate(time.Second).String(),
		Clients:     s.clients(),
		Instruments: len(quotes),
		Tick:        s.market.Tick(),
		Day:         s.market.Time().AbsoluteDay(),
		Scenario:    s.market.Scenario().Kind.String(),
		TotalOrders: totalOrders,
	}

	if s.fills != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		fs, err := s.fills.QueryFillStats(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.TotalFills = fs.TotalFills
		resp.TotalVolume = fs.TotalVolume
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePositions values a trader's positions at the current marks.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	acct := s.ledger.Account(chi.URLParam(r, "trader"), s.market)
	writeJSON(w, http.StatusOK, acct)
}
