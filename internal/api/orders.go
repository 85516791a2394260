package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/metrics"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
)

const maxBodyBytes = 1 << 14

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type orderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"type"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	TraderID string  `json:"trader_id"`
}

type orderJSON struct {
	ID        uint64  `json:"id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Price     float64 `json:"price"`
	Quantity  int64   `json:"quantity"`
	Filled    int64   `json:"filled"`
	Status    string  `json:"status"`
	Tick      int64   `json:"tick"`
	TraderID  string  `json:"traderId"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

func toOrderJSON(o orderbook.Order) orderJSON {
	return orderJSON{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side.String(),
		Type:      o.Type.String(),
		Price:     o.Price,
		Quantity:  o.Quantity,
		Filled:    o.Filled,
		Status:    o.Status.String(),
		Tick:      o.Timestamp,
		TraderID:  o.TraderID,
		Synthetic: o.Synthetic,
	}
}

type fillJSON struct {
	MatchID  uint64  `json:"matchId"`
	OrderID  uint64  `json:"orderId"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Tick     int64   `json:"tick"`
	Maker    bool    `json:"maker"`
}

type orderResponse struct {
	RequestID string     `json:"requestId"`
	Order     orderJSON  `json:"order"`
	Fills     []fillJSON `json:"fills"`
	Filled    int64      `json:"filled"`
	VWAP      float64    `json:"vwap"`
	Slippage  float64    `json:"slippage"`
	Rested    bool       `json:"rested"`
}

// handlePlaceOrder places a player order. An unfilled market order is a
// success with filled == 0.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TraderID == "" {
		writeError(w, http.StatusBadRequest, "trader_id is required")
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typ, err := orderbook.ParseType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.limiter.Allow(req.TraderID) {
		metrics.RateLimited.Inc()
		writeError(w, http.StatusTooManyRequests, "order rate limit exceeded")
		return
	}

	res, err := s.market.PlaceOrder(market.OrderRequest{
		Symbol:   req.Symbol,
		Side:     side,
		Type:     typ,
		Price:    req.Price,
		Quantity: req.Quantity,
		TraderID: req.TraderID,
		IsPlayer: true,
	})
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(typ.String(), "rejected").Inc()
		writeMarketError(w, err)
		return
	}
	metrics.OrdersTotal.WithLabelValues(typ.String(), outcome(res)).Inc()
	s.recordFills(r.Context(), res.Fills)

	resp := orderResponse{
		RequestID: RequestIDFrom(r.Context()),
		Order:     toOrderJSON(res.Order),
		Fills:     make([]fillJSON, 0, len(res.Fills)),
		Filled:    res.Filled,
		VWAP:      res.VWAP,
		Slippage:  res.Slippage,
		Rested:    res.Rested,
	}
	for _, f := range res.Fills {
		if f.OrderID != res.Order.ID {
			continue
		}
		resp.Fills = append(resp.Fills, fillJSON{
			MatchID: f.MatchID, OrderID: f.OrderID, Side: f.Side.String(),
			Price: f.Price, Quantity: f.Quantity, Tick: f.Timestamp, Maker: f.Maker,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func outcome(res orderbook.Result) string {
	switch {
	case res.Rested:
		return "rested"
	case res.Filled == 0:
		return "unfilled"
	case res.Filled < res.Order.Quantity:
		return "partial"
	default:
		return "filled"
	}
}

// recordFills applies fills to the ledger, the fill log and the live feed.
// Storage errors are logged; the trade has already happened.
func (s *Server) recordFills(ctx context.Context, fills []orderbook.Fill) {
	if len(fills) == 0 {
		return
	}
	if s.ledger != nil {
		s.ledger.Apply(fills)
	}
	if s.sink != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.sink.RecordFills(ctx, s.market.Time().AbsoluteDay(), fills); err != nil {
			metrics.StoreErrors.WithLabelValues("record_fills").Inc()
			s.logger.Error("record order fills", "error", err, "fills", len(fills))
		}
	}
	if s.broadcast != nil {
		s.broadcast(s.fillReport(fills))
	}
}

// fillReport wraps order fills in a report carrying the post-trade quote of
// every symbol they touched, at the current simulated time.
func (s *Server) fillReport(fills []orderbook.Fill) market.TickReport {
	rep := market.TickReport{Time: s.market.Time(), Tick: s.market.Tick(), Fills: fills}
	seen := make(map[string]bool)
	for _, f := range fills {
		if seen[f.Symbol] {
			continue
		}
		seen[f.Symbol] = true
		if q, err := s.market.Quote(f.Symbol); err == nil {
			rep.Quotes = append(rep.Quotes, q)
		}
	}
	return rep
}

// handleOrders lists resting orders on a contract, optionally for one trader.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.market.Orders(chi.URLParam(r, "symbol"), r.URL.Query().Get("trader"))
	if err != nil {
		writeMarketError(w, err)
		return
	}
	out := make([]orderJSON, len(orders))
	for i, o := range orders {
		out[i] = toOrderJSON(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	if err := s.market.CancelOrder(symbol, id); err != nil {
		if errors.Is(err, orderbook.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": id, "symbol": symbol})
}
