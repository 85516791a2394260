package market

import (
	"fmt"
	"sort"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/impact"
	"github.com/ndrandal/harvest-exchange/internal/news"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/scenario"
)

// SnapshotVersion is bumped whenever the Snapshot layout changes.
const SnapshotVersion = 1

// InstrumentState is the persisted form of one listed contract.
type InstrumentState struct {
	Info          commodity.Instrument `json:"info" bson:"info"`
	Impact        impact.Snapshot      `json:"impact" bson:"impact"`
	Orders        []orderbook.Order    `json:"orders" bson:"orders"`
	Carry         float64              `json:"carry" bson:"carry"`
	Progress      float64              `json:"progress" bson:"progress"`
	LastLogReturn float64              `json:"lastLogReturn" bson:"lastLogReturn"`
}

// Snapshot is everything needed to resume the market where it left off.
// Restoring a snapshot and stepping with the same times reproduces the same
// prices as the uninterrupted run.
type Snapshot struct {
	Version       int               `json:"version" bson:"version"`
	Tick          int64             `json:"tick" bson:"tick"`
	Day           int               `json:"day" bson:"day"`
	Time          SimTime           `json:"time" bson:"time"`
	ListedAt      int               `json:"listedAt" bson:"listedAt"`
	RNG           []byte            `json:"rng" bson:"rng"`
	OrderSeq      uint64            `json:"orderSeq" bson:"orderSeq"`
	MatchSeq      uint64            `json:"matchSeq" bson:"matchSeq"`
	NewsSeq       uint64            `json:"newsSeq" bson:"newsSeq"`
	Scenario      scenario.Kind     `json:"scenario" bson:"scenario"`
	LastNewsCheck int64             `json:"lastNewsCheck" bson:"lastNewsCheck"`
	LastNewsTick  int64             `json:"lastNewsTick" bson:"lastNewsTick"`
	Instruments   []InstrumentState `json:"instruments" bson:"instruments"`
	Events        []news.Event      `json:"events" bson:"events"`
}

// Snapshot captures the market between steps.
func (m *Market) Snapshot() Snapshot {
	m.stepMu.Lock()
	defer m.stepMu.Unlock()

	s := Snapshot{
		Version:       SnapshotVersion,
		Tick:          m.tick.Load(),
		Day:           int(m.day.Load()),
		Time:          m.Time(),
		RNG:           m.rng.StateBytes(),
		OrderSeq:      m.seq.OrderIDCounter(),
		MatchSeq:      m.seq.MatchCounter(),
		NewsSeq:       m.newsEngine.Seq(),
		LastNewsCheck: m.lastNewsCheck,
		LastNewsTick:  m.lastNewsTick,
	}

	m.stateMu.RLock()
	s.ListedAt = m.listedAt
	s.Scenario = m.scen.Current().Kind
	s.Events = make([]news.Event, len(m.events))
	for i, ev := range m.events {
		s.Events[i] = *ev
	}
	m.stateMu.RUnlock()

	for _, inst := range m.reg.Load().order {
		inst.mu.Lock()
		s.Instruments = append(s.Instruments, InstrumentState{
			Info:          inst.info,
			Impact:        inst.imp.Snapshot(),
			Orders:        inst.book.Orders(),
			Carry:         inst.carry,
			Progress:      inst.progress,
			LastLogReturn: inst.lastLogReturn,
		})
		inst.mu.Unlock()
	}
	return s
}

// Restore replaces the market state with s. Every instrument must refer to
// a known commodity.
func (m *Market) Restore(s Snapshot) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("restore: snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	byID := make(map[string]*commodity.Config, len(m.commodities))
	for _, c := range m.commodities {
		byID[c.ID] = c
	}

	reg := &registry{bySymbol: make(map[string]*instrument, len(s.Instruments))}
	for _, is := range s.Instruments {
		c, ok := byID[is.Info.CommodityID]
		if !ok {
			return fmt.Errorf("restore %s: unknown commodity %q", is.Info.Symbol, is.Info.CommodityID)
		}
		inst := &instrument{
			cfg:           c,
			info:          is.Info,
			book:          orderbook.NewBook(is.Info.Symbol, m.cfg.TickSize, m.seq),
			imp:           m.imp.RestoreState(is.Impact),
			carry:         is.Carry,
			progress:      is.Progress,
			lastLogReturn: is.LastLogReturn,
		}
		inst.book.Restore(is.Orders)
		reg.bySymbol[is.Info.Symbol] = inst
		reg.order = append(reg.order, inst)
	}
	sort.Slice(reg.order, func(i, j int) bool { return reg.order[i].info.Symbol < reg.order[j].info.Symbol })

	m.stepMu.Lock()
	defer m.stepMu.Unlock()

	m.rng.RestoreStateBytes(s.RNG)
	m.seq.SetOrderIDCounter(s.OrderSeq)
	m.seq.SetMatchCounter(s.MatchSeq)
	m.newsEngine.SetSeq(s.NewsSeq)
	m.lastNewsCheck = s.LastNewsCheck
	m.lastNewsTick = s.LastNewsTick

	m.stateMu.Lock()
	m.listedAt = s.ListedAt
	m.scen.Set(s.Scenario)
	m.events = make([]*news.Event, len(s.Events))
	for i := range s.Events {
		ev := s.Events[i]
		m.events[i] = &ev
	}
	m.stateMu.Unlock()

	m.tick.Store(s.Tick)
	m.day.Store(int64(s.Day))
	t := s.Time
	m.last.Store(&t)
	for _, inst := range reg.order {
		m.publish(inst)
	}
	m.reg.Store(reg)
	m.started.Store(len(reg.order) > 0)

	m.logger.Info("market restored", "tick", s.Tick, "day", s.Day, "instruments", len(reg.order), "events", len(s.Events))
	return nil
}
