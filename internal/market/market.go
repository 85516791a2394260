// Package market drives every instrument through the simulated calendar:
// daily targets, intraday bridge ticks, player impact, synthetic depth,
// news and scenario switching.
package market

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/engine"
	"github.com/ndrandal/harvest-exchange/internal/fundamental"
	"github.com/ndrandal/harvest-exchange/internal/impact"
	"github.com/ndrandal/harvest-exchange/internal/news"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrMarketClosed  = errors.New("market closed")
)

// instrument is one listed contract and everything that moves its price.
type instrument struct {
	mu   sync.Mutex
	cfg  *commodity.Config
	info commodity.Instrument
	book *orderbook.Book
	imp  *impact.State

	carry         float64
	progress      float64
	lastLogReturn float64

	quote atomic.Pointer[Quote]
}

// registry is replaced wholesale on listing, never mutated.
type registry struct {
	bySymbol map[string]*instrument
	order    []*instrument // symbol order
}

// Market owns the instruments and the simulation state.
//
// Step is meant to be driven from a single goroutine. Order entry and
// queries are safe from any goroutine.
type Market struct {
	cfg    Config
	logger *slog.Logger

	rng         *engine.RNG
	seasonal    *engine.SeasonalGenerator
	bridge      *engine.BridgeGenerator
	fund        *fundamental.Model
	imp         *impact.Engine
	newsEngine  *news.Engine
	seq         *orderbook.Sequencer
	commodities []*commodity.Config

	stepMu sync.Mutex // serializes Step, Snapshot and Restore

	stateMu  sync.RWMutex
	events   []*news.Event
	scen     *scenario.Manager
	listedAt int // absolute start day of the listed season

	reg     atomic.Pointer[registry]
	tick    atomic.Int64
	day     atomic.Int64
	started atomic.Bool
	last    atomic.Pointer[SimTime]

	lastNewsCheck int64
	lastNewsTick  int64
}

// New builds a market over the given commodities. Instruments are listed on
// the first Step.
func New(cfg Config, commodities []commodity.Config, lib *news.Library, rng *engine.RNG, logger *slog.Logger) *Market {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()
	if lib == nil {
		lib = &news.Library{}
	}

	comms := make([]*commodity.Config, 0, len(commodities))
	for i := range commodities {
		c := commodities[i]
		if err := c.ResolveSeasons(); err != nil {
			logger.Warn("commodity seasons invalid; treating as always in season", "commodity", c.ID, "error", err)
			c.GrowingSeasons = commodity.Seasons()
		}
		comms = append(comms, &c)
	}
	sort.Slice(comms, func(i, j int) bool { return comms[i].ID < comms[j].ID })

	m := &Market{
		cfg:         cfg,
		logger:      logger,
		rng:         rng,
		seasonal:    engine.NewSeasonalGenerator(rng, cfg.Seasonal),
		bridge:      engine.NewBridgeGenerator(rng, cfg.Bridge),
		fund:        fundamental.NewModel(comms, fundamental.WithClamp(cfg.ClampFundamental), fundamental.WithFallback(cfg.DefaultFundamental), fundamental.WithLogger(logger)),
		imp:         impact.NewEngine(cfg.Impact),
		newsEngine:  news.NewEngine(rng, lib, logger),
		seq:         &orderbook.Sequencer{},
		commodities: comms,
		scen:        scenario.NewManager(rng, cfg.SwitchProbability, logger),
	}
	m.reg.Store(&registry{bySymbol: map[string]*instrument{}})
	return m
}

// Config returns the normalized configuration.
func (m *Market) Config() Config { return m.cfg }

// Commodities returns the commodity catalogue in id order.
func (m *Market) Commodities() []commodity.Config {
	out := make([]commodity.Config, len(m.commodities))
	for i, c := range m.commodities {
		out[i] = *c
	}
	return out
}

// Step advances the market to t and returns what changed. Calling Step with
// a paused time is a no-op. A time on an earlier day than the last step is
// treated as the current day.
func (m *Market) Step(t SimTime) TickReport {
	m.stepMu.Lock()
	defer m.stepMu.Unlock()

	rep := TickReport{Time: t, Tick: m.tick.Load()}
	if t.Paused {
		rep.Paused = true
		return rep
	}

	day := t.AbsoluteDay()
	switch {
	case !m.started.Load():
		m.open(t, &rep)
	case int64(day) > m.day.Load():
		for d := int(m.day.Load()) + 1; d <= day; d++ {
			m.advanceDay(d, &rep)
		}
	case int64(day) < m.day.Load():
		m.logger.Warn("clock moved backwards; holding current day",
			"day", m.day.Load(), "requested", day)
		t = TimeAt(int(m.day.Load()), t.DayProgress)
	}

	tick := m.tick.Add(1)
	rep.Tick = tick
	tt := t
	m.last.Store(&tt)

	params := m.Scenario()
	rep.Scenario = params
	reg := m.reg.Load()
	for _, inst := range reg.order {
		m.stepInstrument(inst, t, tick, params, &rep)
	}
	m.breakingNews(t, tick, &rep)
	return rep
}

// open lists the season containing t and starts its first day.
func (m *Market) open(t SimTime, rep *TickReport) {
	day := t.AbsoluteDay()
	m.list(t.Season, t.Year, day, rep)
	m.started.Store(true)
	m.startDay(day, false, rep)
	m.logger.Info("market opened", "time", t.String(), "instruments", len(m.reg.Load().order))
}

// advanceDay rolls to day d, delivering and relisting on a season boundary.
func (m *Market) advanceDay(d int, rep *TickReport) {
	cal := TimeAt(d, 0)
	if cal.Day == 1 {
		m.deliver(rep)
		m.list(cal.Season, cal.Year, d, rep)
	}
	m.startDay(d, true, rep)
}

func (m *Market) startDay(d int, switchScenario bool, rep *TickReport) {
	rep.DayStarted = true
	season := TimeAt(d, 0).Season

	m.stateMu.Lock()
	if switchScenario && m.scen.AdvanceDay() {
		rep.ScenarioChanged = true
	}
	m.day.Store(int64(d))
	var fired []*news.Event
	if m.cfg.PreScheduleNews {
		fired = news.Trigger(m.events, d)
	} else {
		fired = m.newsEngine.GenerateDaily(d, m.commodities)
		m.events = append(m.events, fired...)
	}
	m.events = news.Prune(m.events, d-m.cfg.NewsHistoryDays)
	events := m.events
	m.stateMu.Unlock()

	for _, ev := range fired {
		m.logger.Info("news", "id", ev.ID, "title", ev.Title, "severity", string(ev.Severity), "day", d)
	}
	rep.News = append(rep.News, fired...)

	for _, inst := range m.reg.Load().order {
		inst.mu.Lock()
		m.openDay(inst, d, season, events)
		inst.mu.Unlock()
	}
}

// openDay sets the day's open, fundamental, target and carry.
func (m *Market) openDay(inst *instrument, d int, season commodity.Season, events []*news.Event) {
	info := &inst.info
	info.Fundamental = m.fund.Value(info.CommodityID, season, events, d)
	open := info.Shadow
	if open <= 0 {
		open = info.Fundamental
	}
	info.Open = open
	info.Shadow = open
	info.Target, inst.lastLogReturn = m.seasonal.Step(open, info.Fundamental, info.DaysToDelivery(d), inst.cfg.Volatility, inst.lastLogReturn)
	inst.progress = 0
	inst.carry = m.carryFactor(inst, d, events)
	m.reprice(inst)
}

// list creates one future per commodity for the season and swaps the
// registry.
func (m *Market) list(season commodity.Season, year, day int, rep *TickReport) {
	start := SeasonStartDay(year, season)
	delivery := start + commodity.DaysPerSeason - 1

	m.stateMu.Lock()
	m.listedAt = start
	if m.cfg.PreScheduleNews {
		m.events = append(m.events, m.newsEngine.GenerateSeason(day, delivery-day+1, m.commodities)...)
	}
	events := m.events
	m.stateMu.Unlock()

	reg := &registry{bySymbol: make(map[string]*instrument, len(m.commodities))}
	for _, c := range m.commodities {
		info := commodity.NewFuture(c, season, year, delivery)
		f := m.fund.Value(c.ID, season, events, day)
		info.Fundamental, info.Shadow, info.Open, info.Target = f, f, f, f
		inst := &instrument{
			cfg:   c,
			info:  info,
			book:  orderbook.NewBook(info.Symbol, m.cfg.TickSize, m.seq),
			imp:   m.imp.NewState(),
			carry: 1,
		}
		m.reprice(inst)
		m.publish(inst)
		reg.bySymbol[info.Symbol] = inst
		reg.order = append(reg.order, inst)
	}
	sort.Slice(reg.order, func(i, j int) bool { return reg.order[i].info.Symbol < reg.order[j].info.Symbol })
	m.reg.Store(reg)
	rep.SeasonStarted = true
	m.logger.Info("season listed", "season", season.String(), "year", year, "delivery_day", delivery, "instruments", len(reg.order))
}

// deliver settles every listed contract at its displayed price and cancels
// whatever still rests on its book.
func (m *Market) deliver(rep *TickReport) {
	for _, inst := range m.reg.Load().order {
		inst.mu.Lock()
		cancelled := inst.book.CancelAll(func(o *orderbook.Order) bool { return true })
		d := Delivery{Symbol: inst.info.Symbol, CommodityID: inst.info.CommodityID, Price: inst.info.Spot}
		for _, o := range cancelled {
			if o.IsPlayer {
				d.Cancelled = append(d.Cancelled, o)
			}
		}
		inst.mu.Unlock()
		rep.Deliveries = append(rep.Deliveries, d)
		m.logger.Info("contract delivered", "symbol", d.Symbol, "price", d.Price, "cancelled_player_orders", len(d.Cancelled))
	}
}

func (m *Market) stepInstrument(inst *instrument, t SimTime, tick int64, params scenario.Params, rep *TickReport) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	p := math.Max(0, math.Min(1, t.DayProgress))
	if p < inst.progress {
		p = inst.progress
	}
	prev := inst.progress
	step := p - prev
	info := &inst.info

	if p >= 1 {
		info.Shadow = info.Target
	} else {
		vol := info.Target * inst.cfg.Volatility * m.cfg.IntradayVolScale * math.Sqrt(step)
		info.Shadow = m.bridge.NextTick(info.Shadow, info.Target, prev, step, vol)
	}
	inst.progress = p

	d := m.imp.Update(inst.imp, info.Shadow, info.Fundamental, params)
	rep.Impacts = append(rep.Impacts, ImpactDelta{Symbol: info.Symbol, Delta: d})
	m.reprice(inst)

	if tick%int64(m.cfg.DepthRefreshTicks) == 0 {
		fills := inst.book.RefreshSynthetic(info.Spot, orderbook.Skew{Bid: params.BidSkew, Ask: params.AskSkew},
			inst.cfg.LiquiditySensitivity, m.cfg.Depth, tick)
		if m.applyPlayerFills(inst, fills) {
			m.reprice(inst)
		}
		rep.Fills = append(rep.Fills, fills...)
	}
	rep.Quotes = append(rep.Quotes, m.publish(inst))
}

// applyPlayerFills feeds player executions into the impact state. Reports
// whether the impact moved.
func (m *Market) applyPlayerFills(inst *instrument, fills []orderbook.Fill) bool {
	moved := false
	for _, f := range fills {
		if !f.IsPlayer {
			continue
		}
		if m.imp.RecordPlayerTrade(inst.imp, float64(f.Signed()), inst.cfg.LiquiditySensitivity) != 0 {
			moved = true
		}
	}
	return moved
}

// reprice derives the displayed and futures prices from shadow and impact.
func (m *Market) reprice(inst *instrument) {
	info := &inst.info
	spot := info.Shadow + inst.imp.Current()
	if spot < m.cfg.TickSize || math.IsNaN(spot) {
		spot = m.cfg.TickSize
	}
	info.Spot = spot
	info.Futures = spot * inst.carry
}

// publish stores a fresh Quote for lock-free readers.
func (m *Market) publish(inst *instrument) Quote {
	info := &inst.info
	q := Quote{
		Symbol:      info.Symbol,
		CommodityID: info.CommodityID,
		Kind:        info.Kind,
		Season:      info.Season,
		Year:        info.Year,
		DeliveryDay: info.DeliveryDay,
		MarginRatio: info.MarginRatio,
		Spot:        info.Spot,
		Futures:     info.Futures,
		Shadow:      info.Shadow,
		Impact:      inst.imp.Current(),
		Fundamental: info.Fundamental,
		Open:        info.Open,
		Target:      info.Target,
		BestBid:     inst.book.BestBid(),
		BestAsk:     inst.book.BestAsk(),
		Mid:         inst.book.MidPrice(),
		Tick:        m.tick.Load(),
		Day:         int(m.day.Load()),
		DayProgress: inst.progress,
	}
	if q.BestBid > 0 && q.BestAsk > 0 {
		q.Spread = q.BestAsk - q.BestBid
	}
	inst.quote.Store(&q)
	return q
}

// carryFactor composes the convenience yield for day d and returns the
// cost-of-carry multiplier to delivery.
func (m *Market) carryFactor(inst *instrument, d int, events []*news.Event) float64 {
	cy := engine.ConvenienceYield{Base: m.cfg.Convenience.Base}
	cal := TimeAt(d, 0)
	if inst.cfg.Giftable {
		for _, f := range m.cfg.Festivals[cal.Season] {
			if ahead := f - cal.Day; ahead >= 0 && ahead <= m.cfg.Convenience.GiftWindowDays {
				cy.Gift = m.cfg.Convenience.GiftBoost
				break
			}
		}
	}
	if inst.cfg.BaseDemand > 0 && m.cfg.Convenience.CommunityScale > 0 {
		var boost float64
		for _, ev := range news.Active(events, d) {
			if ev.DemandDelta > 0 && ev.Affects(inst.cfg) {
				boost += ev.DemandDelta
			}
		}
		cy.Community = math.Min(m.cfg.Convenience.CommunityCap, m.cfg.Convenience.CommunityScale*boost/inst.cfg.BaseDemand)
	}
	return engine.CarryFactor(float64(inst.info.DaysToDelivery(d)), m.cfg.RiskFreeRate, m.cfg.StorageCost, cy.Total())
}

// breakingNews rolls for an intraday headline every NewsCheckInterval ticks
// and re-targets the affected instruments for the rest of the day.
func (m *Market) breakingNews(t SimTime, tick int64, rep *TickReport) {
	if m.cfg.NewsCheckInterval <= 0 || m.cfg.BreakingNewsProbability <= 0 || t.DayProgress >= 1 {
		return
	}
	if tick-m.lastNewsCheck < int64(m.cfg.NewsCheckInterval) {
		return
	}
	m.lastNewsCheck = tick
	if m.lastNewsTick > 0 && tick-m.lastNewsTick < int64(m.cfg.NewsMinInterval) {
		return
	}

	checks := math.Max(1, float64(m.cfg.TicksPerDay)/float64(m.cfg.NewsCheckInterval))
	p := 1 - math.Pow(1-math.Min(1, m.cfg.BreakingNewsProbability), 1/checks)
	day := int(m.day.Load())
	ev := m.newsEngine.GenerateIntraday(day, t.DayProgress, m.commodities, p)
	if ev == nil {
		return
	}
	m.lastNewsTick = tick

	m.stateMu.Lock()
	m.events = append(m.events, ev)
	events := m.events
	m.stateMu.Unlock()

	rep.News = append(rep.News, ev)
	m.logger.Info("breaking news", "id", ev.ID, "title", ev.Title, "severity", string(ev.Severity), "tick", tick)

	season := TimeAt(day, 0).Season
	for _, inst := range m.reg.Load().order {
		if !ev.Affects(inst.cfg) {
			continue
		}
		inst.mu.Lock()
		m.retarget(inst, day, season, events)
		inst.mu.Unlock()
	}
}

// retarget scales the remaining day's target by the fundamental shift.
func (m *Market) retarget(inst *instrument, d int, season commodity.Season, events []*news.Event) {
	info := &inst.info
	old := info.Fundamental
	info.Fundamental = m.fund.Value(info.CommodityID, season, events, d)
	if old > 0 && info.Fundamental > 0 {
		info.Target *= info.Fundamental / old
	}
	inst.carry = m.carryFactor(inst, d, events)
	m.reprice(inst)
	m.publish(inst)
}

// OrderRequest is an order submitted through the command API.
type OrderRequest struct {
	Symbol   string         `json:"symbol"`
	Side     orderbook.Side `json:"side"`
	Type     orderbook.Type `json:"type"`
	Price    float64        `json:"price"`
	Quantity int64          `json:"quantity"`
	TraderID string         `json:"traderId"`
	IsPlayer bool           `json:"isPlayer"`
}

// PlaceOrder routes an order to its book. Player fills move the impact and
// republish the quote immediately.
func (m *Market) PlaceOrder(req OrderRequest) (orderbook.Result, error) {
	if !m.started.Load() {
		return orderbook.Result{}, ErrMarketClosed
	}
	inst, err := m.lookup(req.Symbol)
	if err != nil {
		return orderbook.Result{}, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	res, err := inst.book.Place(&orderbook.Order{
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Quantity:  req.Quantity,
		TraderID:  req.TraderID,
		IsPlayer:  req.IsPlayer,
		Timestamp: m.tick.Load(),
	})
	if err != nil {
		return res, fmt.Errorf("place %s: %w", req.Symbol, err)
	}
	if m.applyPlayerFills(inst, res.Fills) {
		m.reprice(inst)
	}
	m.publish(inst)
	return res, nil
}

// CancelOrder removes a resting order.
func (m *Market) CancelOrder(symbol string, orderID uint64) error {
	inst, err := m.lookup(symbol)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if !inst.book.Cancel(orderID) {
		return fmt.Errorf("cancel %d on %s: %w", orderID, symbol, orderbook.ErrOrderNotFound)
	}
	m.publish(inst)
	return nil
}

func (m *Market) lookup(symbol string) (*instrument, error) {
	inst, ok := m.reg.Load().bySymbol[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return inst, nil
}

// Quote returns the latest published quote for symbol.
func (m *Market) Quote(symbol string) (Quote, error) {
	inst, err := m.lookup(symbol)
	if err != nil {
		return Quote{}, err
	}
	return *inst.quote.Load(), nil
}

// Mark returns the displayed price and margin ratio of a listed symbol.
func (m *Market) Mark(symbol string) (price, marginRatio float64, ok bool) {
	inst, err := m.lookup(symbol)
	if err != nil {
		return 0, 0, false
	}
	q := inst.quote.Load()
	return q.Spot, q.MarginRatio, true
}

// Quotes returns the latest quote of every listed instrument in symbol order.
func (m *Market) Quotes() []Quote {
	reg := m.reg.Load()
	out := make([]Quote, 0, len(reg.order))
	for _, inst := range reg.order {
		out = append(out, *inst.quote.Load())
	}
	return out
}

// Symbols returns the listed symbols in order.
func (m *Market) Symbols() []string {
	reg := m.reg.Load()
	out := make([]string, len(reg.order))
	for i, inst := range reg.order {
		out[i] = inst.info.Symbol
	}
	return out
}

// Depth returns the top n levels of symbol's book.
func (m *Market) Depth(symbol string, n int) (orderbook.DepthSnapshot, error) {
	inst, err := m.lookup(symbol)
	if err != nil {
		return orderbook.DepthSnapshot{}, err
	}
	return inst.book.Depth(n), nil
}

// Orders returns the resting orders of trader on symbol, or every trader's
// when trader is empty.
func (m *Market) Orders(symbol, trader string) ([]orderbook.Order, error) {
	inst, err := m.lookup(symbol)
	if err != nil {
		return nil, err
	}
	if trader == "" {
		return inst.book.Orders(), nil
	}
	return inst.book.OrdersFor(trader), nil
}

// ImpactHistory returns the recent displayed prices and impacts of symbol.
func (m *Market) ImpactHistory(symbol string) (prices, impacts []float64, err error) {
	inst, err := m.lookup(symbol)
	if err != nil {
		return nil, nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	prices, impacts = inst.imp.History()
	return prices, impacts, nil
}

// Scenario returns the active behavioural regime.
func (m *Market) Scenario() scenario.Params {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.scen.Current()
}

// SetScenario forces a regime until the next daily switch.
func (m *Market) SetScenario(k scenario.Kind) {
	m.stateMu.Lock()
	m.scen.Set(k)
	m.stateMu.Unlock()
	m.logger.Info("scenario forced", "scenario", k.String())
}

// News returns copies of the known events. With activeOnly set, only those
// in effect on the current day are returned.
func (m *Market) News(activeOnly bool) []news.Event {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	src := m.events
	if activeOnly {
		src = news.Active(m.events, int(m.day.Load()))
	}
	out := make([]news.Event, len(src))
	for i, ev := range src {
		out[i] = *ev
	}
	return out
}

// Time returns the time of the last step.
func (m *Market) Time() SimTime {
	if t := m.last.Load(); t != nil {
		return *t
	}
	return SimTime{}
}

// Tick returns the number of steps taken.
func (m *Market) Tick() int64 { return m.tick.Load() }

// Started reports whether the first Step has listed instruments.
func (m *Market) Started() bool { return m.started.Load() }
