// Package wire defines the JSON messages streamed to feed clients.
package wire

import (
	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/news"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

// Message type codes.
type MsgType byte

const (
	MsgSystemEvent MsgType = 'S'
	MsgListing     MsgType = 'R'
	MsgQuote       MsgType = 'Q'
	MsgTrade       MsgType = 'P'
	MsgNews        MsgType = 'N'
	MsgScenario    MsgType = 'C'
	MsgDelivery    MsgType = 'X'
)

// System event codes.
const (
	EventStartOfDay    byte = 'D'
	EventStartOfSeason byte = 'O'
)

// Message is the universal message struct streamed to clients.
// Not all fields are used for every message type.
type Message struct {
	Type      MsgType
	Tick      int64
	Day       int
	Symbol    string
	EventCode byte

	// Listing and quote fields
	CommodityID string
	Season      string
	DeliveryDay int
	MarginRatio float64
	Spot        float64
	Futures     float64
	Shadow      float64
	Impact      float64
	Fundamental float64
	BestBid     float64
	BestAsk     float64
	Spread      float64
	DayProgress float64

	// Trade fields
	MatchID  uint64
	OrderID  uint64
	Side     byte
	Quantity int64
	Price    float64
	TraderID string
	Maker    bool

	// News fields
	NewsID      string
	Title       string
	Severity    string
	Scope       string
	Category    string
	Items       []string
	DemandDelta float64
	SupplyDelta float64
	EndDay      int

	Scenario  string
	Cancelled int
}

// Listing describes a tradable instrument. Sent to clients on subscribe.
func Listing(q market.Quote) Message {
	return Message{
		Type:        MsgListing,
		Tick:        q.Tick,
		Day:         q.Day,
		Symbol:      q.Symbol,
		CommodityID: q.CommodityID,
		Season:      q.Season.String(),
		DeliveryDay: q.DeliveryDay,
		MarginRatio: q.MarginRatio,
	}
}

func Quote(q market.Quote) Message {
	return Message{
		Type:        MsgQuote,
		Tick:        q.Tick,
		Day:         q.Day,
		Symbol:      q.Symbol,
		Spot:        q.Spot,
		Futures:     q.Futures,
		Shadow:      q.Shadow,
		Impact:      q.Impact,
		Fundamental: q.Fundamental,
		BestBid:     q.BestBid,
		BestAsk:     q.BestAsk,
		Spread:      q.Spread,
		DayProgress: q.DayProgress,
	}
}

// Trade reports the taker side of a match. Maker legs are not streamed.
func Trade(f orderbook.Fill, day int) Message {
	return Message{
		Type:     MsgTrade,
		Tick:     f.Timestamp,
		Day:      day,
		Symbol:   f.Symbol,
		MatchID:  f.MatchID,
		OrderID:  f.OrderID,
		Side:     byte(f.Side),
		Quantity: f.Quantity,
		Price:    f.Price,
		TraderID: f.TraderID,
		Maker:    f.Maker,
	}
}

func News(ev *news.Event, tick int64) Message {
	return Message{
		Type:        MsgNews,
		Tick:        tick,
		Day:         ev.Day,
		NewsID:      ev.ID,
		Title:       ev.Title,
		Severity:    string(ev.Severity),
		Scope:       string(ev.Scope),
		Category:    string(ev.Category),
		Items:       ev.Items,
		DemandDelta: ev.DemandDelta,
		SupplyDelta: ev.SupplyDelta,
		EndDay:      ev.EndDay,
	}
}

func Scenario(p scenario.Params, tick int64, day int) Message {
	return Message{Type: MsgScenario, Tick: tick, Day: day, Scenario: p.Kind.String()}
}

func Delivery(d market.Delivery, tick int64, day int) Message {
	return Message{
		Type:        MsgDelivery,
		Tick:        tick,
		Day:         day,
		Symbol:      d.Symbol,
		CommodityID: d.CommodityID,
		Price:       d.Price,
		Cancelled:   len(d.Cancelled),
	}
}

func SystemEvent(code byte, tick int64, day int) Message {
	return Message{Type: MsgSystemEvent, Tick: tick, Day: day, EventCode: code}
}
