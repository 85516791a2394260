package market

import (
	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/impact"
	"github.com/ndrandal/harvest-exchange/internal/news"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

// Quote is the immutable per-instrument view published after every
// mutation. Readers load it without taking the instrument lock.
type Quote struct {
	Symbol      string           `json:"symbol"`
	CommodityID string           `json:"commodityId"`
	Kind        commodity.Kind   `json:"kind"`
	Season      commodity.Season `json:"season"`
	Year        int              `json:"year"`
	DeliveryDay int              `json:"deliveryDay"`
	MarginRatio float64          `json:"marginRatio"`

	Spot        float64 `json:"spot"`
	Futures     float64 `json:"futures"`
	Shadow      float64 `json:"shadow"`
	Impact      float64 `json:"impact"`
	Fundamental float64 `json:"fundamental"`
	Open        float64 `json:"open"`
	Target      float64 `json:"target"`

	BestBid float64 `json:"bestBid"`
	BestAsk float64 `json:"bestAsk"`
	Mid     float64 `json:"mid"`
	Spread  float64 `json:"spread"`

	Tick        int64   `json:"tick"`
	Day         int     `json:"day"`
	DayProgress float64 `json:"dayProgress"`
}

// ImpactDelta reports one instrument's impact update.
type ImpactDelta struct {
	Symbol string       `json:"symbol"`
	Delta  impact.Delta `json:"delta"`
}

// Delivery reports a contract that reached its delivery day.
type Delivery struct {
	Symbol      string            `json:"symbol"`
	CommodityID string            `json:"commodityId"`
	Price       float64           `json:"price"`
	Cancelled   []orderbook.Order `json:"cancelled,omitempty"` // player orders still resting at delivery
}

// TickReport is everything one Step changed. Callers apply it (ledger,
// storage, streams) instead of subscribing to callbacks.
type TickReport struct {
	Time            SimTime          `json:"time"`
	Tick            int64            `json:"tick"`
	Paused          bool             `json:"paused"`
	DayStarted      bool             `json:"dayStarted"`
	SeasonStarted   bool             `json:"seasonStarted"`
	ScenarioChanged bool             `json:"scenarioChanged"`
	Scenario        scenario.Params  `json:"scenario"`
	Quotes          []Quote          `json:"quotes"`
	Impacts         []ImpactDelta    `json:"impacts"`
	Fills           []orderbook.Fill `json:"fills,omitempty"`
	News            []*news.Event    `json:"news,omitempty"`
	Deliveries      []Delivery       `json:"deliveries,omitempty"`
}
