package market

import (
	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/engine"
	"github.com/ndrandal/harvest-exchange/internal/fundamental"
	"github.com/ndrandal/harvest-exchange/internal/impact"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

// ConvenienceConfig composes the dynamic convenience yield.
type ConvenienceConfig struct {
	Base           float64 // always applied
	GiftBoost      float64 // giftable goods shortly before a festival
	GiftWindowDays int     // days ahead of a festival the gift boost starts
	CommunityScale float64 // boost per unit of positive news demand / base demand
	CommunityCap   float64 // upper bound on the community boost
}

// Config holds the market-wide constants.
type Config struct {
	TicksPerDay int
	TickSize    float64

	RiskFreeRate float64
	StorageCost  float64
	Convenience  ConvenienceConfig
	Festivals    map[commodity.Season][]int // festival days within each season

	Impact            impact.Config
	SwitchProbability float64

	NewsCheckInterval       int     // ticks between breaking-news rolls
	NewsMinInterval         int     // minimum ticks between two breaking headlines
	BreakingNewsProbability float64 // chance of breaking news per day
	PreScheduleNews         bool    // generate the whole season's news at listing
	NewsHistoryDays         int     // expired events are kept this many days past their window

	Seasonal         engine.SeasonalParams
	Bridge           engine.BridgeParams
	IntradayVolScale float64

	Depth             orderbook.DepthParams
	DepthRefreshTicks int

	ClampFundamental   bool
	DefaultFundamental float64
}

// DefaultConfig returns ten-minute ticks, the reference carry rates and the
// stock impact constants.
func DefaultConfig() Config {
	return Config{
		TicksPerDay:  144,
		TickSize:     0.01,
		RiskFreeRate: 0.002,
		StorageCost:  0.005,
		Convenience: ConvenienceConfig{
			Base:           0.001,
			GiftBoost:      0.15,
			GiftWindowDays: 7,
			CommunityScale: 0.5,
			CommunityCap:   0.1,
		},
		Festivals: map[commodity.Season][]int{
			commodity.Spring: {13, 24},
			commodity.Summer: {11, 28},
			commodity.Fall:   {16, 27},
			commodity.Winter: {8, 25},
		},
		Impact:                  impact.DefaultConfig(),
		SwitchProbability:       scenario.DefaultSwitchProbability,
		NewsCheckInterval:       12,
		NewsMinInterval:         72,
		BreakingNewsProbability: 0.15,
		NewsHistoryDays:         engine.YearDays,
		Seasonal:                engine.DefaultSeasonalParams(),
		Bridge:                  engine.DefaultBridgeParams(),
		IntradayVolScale:        1,
		Depth:                   orderbook.DefaultDepthParams(),
		DepthRefreshTicks:       1,
		ClampFundamental:        true,
		DefaultFundamental:      fundamental.DefaultFallback,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.TicksPerDay < 1 {
		c.TicksPerDay = d.TicksPerDay
	}
	if c.TickSize <= 0 {
		c.TickSize = d.TickSize
	}
	if c.DepthRefreshTicks < 1 {
		c.DepthRefreshTicks = d.DepthRefreshTicks
	}
	if c.IntradayVolScale < 0 {
		c.IntradayVolScale = 0
	}
	if c.NewsHistoryDays < 1 {
		c.NewsHistoryDays = d.NewsHistoryDays
	}
	if c.DefaultFundamental <= 0 {
		c.DefaultFundamental = d.DefaultFundamental
	}
	if c.Seasonal.TotalDays <= 0 {
		c.Seasonal.TotalDays = commodity.DaysPerSeason
	}
	return c
}
