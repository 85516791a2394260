package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Prices are formatted as 4-decimal strings, ticks as int64 counts.

// EncodeJSON encodes a Message into JSON bytes.
func EncodeJSON(m *Message) ([]byte, error) {
	obj := msgToMap(m)
	if obj == nil {
		return nil, fmt.Errorf("unsupported message type: %c", m.Type)
	}
	return json.Marshal(obj)
}

func msgToMap(m *Message) map[string]any {
	switch m.Type {
	case MsgSystemEvent:
		return map[string]any{
			"type":      "system_event",
			"tick":      m.Tick,
			"day":       m.Day,
			"eventCode": string([]byte{m.EventCode}),
		}

	case MsgListing:
		return map[string]any{
			"type":        "listing",
			"tick":        m.Tick,
			"day":         m.Day,
			"symbol":      m.Symbol,
			"commodityId": m.CommodityID,
			"season":      m.Season,
			"deliveryDay": m.DeliveryDay,
			"marginRatio": formatPrice(m.MarginRatio),
		}

	case MsgQuote:
		return map[string]any{
			"type":        "quote",
			"tick":        m.Tick,
			"day":         m.Day,
			"symbol":      m.Symbol,
			"spot":        formatPrice(m.Spot),
			"futures":     formatPrice(m.Futures),
			"shadow":      formatPrice(m.Shadow),
			"impact":      formatPrice(m.Impact),
			"fundamental": formatPrice(m.Fundamental),
			"bestBid":     formatPrice(m.BestBid),
			"bestAsk":     formatPrice(m.BestAsk),
			"spread":      formatPrice(m.Spread),
			"dayProgress": formatPrice(m.DayProgress),
		}

	case MsgTrade:
		return map[string]any{
			"type":     "trade",
			"tick":     m.Tick,
			"day":      m.Day,
			"symbol":   m.Symbol,
			"matchId":  m.MatchID,
			"orderId":  m.OrderID,
			"side":     string([]byte{m.Side}),
			"quantity": m.Quantity,
			"price":    formatPrice(m.Price),
			"traderId": m.TraderID,
		}

	case MsgNews:
		obj := map[string]any{
			"type":        "news",
			"tick":        m.Tick,
			"day":         m.Day,
			"id":          m.NewsID,
			"title":       m.Title,
			"severity":    m.Severity,
			"scope":       m.Scope,
			"demandDelta": formatPrice(m.DemandDelta),
			"supplyDelta": formatPrice(m.SupplyDelta),
			"endDay":      m.EndDay,
		}
		if m.Category != "" {
			obj["category"] = m.Category
		}
		if len(m.Items) > 0 {
			obj["items"] = m.Items
		}
		return obj

	case MsgScenario:
		return map[string]any{
			"type":     "scenario",
			"tick":     m.Tick,
			"day":      m.Day,
			"scenario": m.Scenario,
		}

	case MsgDelivery:
		return map[string]any{
			"type":        "delivery",
			"tick":        m.Tick,
			"day":         m.Day,
			"symbol":      m.Symbol,
			"commodityId": m.CommodityID,
			"price":       formatPrice(m.Price),
			"cancelled":   m.Cancelled,
		}
	}
	return nil
}

func formatPrice(price float64) string {
	return fmt.Sprintf("%.4f", price)
}

// envelope is the union of every encoded field.
type envelope struct {
	Type        string   `json:"type"`
	Tick        int64    `json:"tick"`
	Day         int      `json:"day"`
	Symbol      string   `json:"symbol"`
	EventCode   string   `json:"eventCode"`
	CommodityID string   `json:"commodityId"`
	Season      string   `json:"season"`
	DeliveryDay int      `json:"deliveryDay"`
	MarginRatio string   `json:"marginRatio"`
	Spot        string   `json:"spot"`
	Futures     string   `json:"futures"`
	Shadow      string   `json:"shadow"`
	Impact      string   `json:"impact"`
	Fundamental string   `json:"fundamental"`
	BestBid     string   `json:"bestBid"`
	BestAsk     string   `json:"bestAsk"`
	Spread      string   `json:"spread"`
	DayProgress string   `json:"dayProgress"`
	MatchID     uint64   `json:"matchId"`
	OrderID     uint64   `json:"orderId"`
	Side        string   `json:"side"`
	Quantity    int64    `json:"quantity"`
	Price       string   `json:"price"`
	TraderID    string   `json:"traderId"`
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Severity    string   `json:"severity"`
	Scope       string   `json:"scope"`
	Category    string   `json:"category"`
	Items       []string `json:"items"`
	DemandDelta string   `json:"demandDelta"`
	SupplyDelta string   `json:"supplyDelta"`
	EndDay      int      `json:"endDay"`
	Scenario    string   `json:"scenario"`
	Cancelled   int      `json:"cancelled"`
}

var typeNames = map[string]MsgType{
	"system_event": MsgSystemEvent,
	"listing":      MsgListing,
	"quote":        MsgQuote,
	"trade":        MsgTrade,
	"news":         MsgNews,
	"scenario":     MsgScenario,
	"delivery":     MsgDelivery,
}

// DecodeJSON parses a message produced by EncodeJSON.
func DecodeJSON(data []byte) (*Message, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	t, ok := typeNames[e.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported message type: %q", e.Type)
	}

	m := &Message{
		Type:        t,
		Tick:        e.Tick,
		Day:         e.Day,
		Symbol:      e.Symbol,
		CommodityID: e.CommodityID,
		Season:      e.Season,
		DeliveryDay: e.DeliveryDay,
		MatchID:     e.MatchID,
		OrderID:     e.OrderID,
		Quantity:    e.Quantity,
		TraderID:    e.TraderID,
		NewsID:      e.ID,
		Title:       e.Title,
		Severity:    e.Severity,
		Scope:       e.Scope,
		Category:    e.Category,
		Items:       e.Items,
		EndDay:      e.EndDay,
		Scenario:    e.Scenario,
		Cancelled:   e.Cancelled,
	}
	if e.EventCode != "" {
		m.EventCode = e.EventCode[0]
	}
	if e.Side != "" {
		m.Side = e.Side[0]
	}

	p := priceParser{}
	m.MarginRatio = p.parse(e.MarginRatio)
	m.Spot = p.parse(e.Spot)
	m.Futures = p.parse(e.Futures)
	m.Shadow = p.parse(e.Shadow)
	m.Impact = p.parse(e.Impact)
	m.Fundamental = p.parse(e.Fundamental)
	m.BestBid = p.parse(e.BestBid)
	m.BestAsk = p.parse(e.BestAsk)
	m.Spread = p.parse(e.Spread)
	m.DayProgress = p.parse(e.DayProgress)
	m.Price = p.parse(e.Price)
	m.DemandDelta = p.parse(e.DemandDelta)
	m.SupplyDelta = p.parse(e.SupplyDelta)
	if p.err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Type, p.err)
	}
	return m, nil
}

// priceParser keeps the first parse error.
type priceParser struct{ err error }

func (p *priceParser) parse(s string) float64 {
	if s == "" || p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = err
	}
	return v
}
