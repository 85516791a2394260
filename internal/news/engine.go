package news

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/engine"
)

// idSpace namespaces the deterministic event ids.
var idSpace = uuid.MustParse("5b0f1e7a-2c43-4d5e-9a61-3f0d8c7b2e19")

// Engine rolls templates into concrete events. All randomness comes from
// the injected source, so a fixed seed reproduces the same headlines and ids.
type Engine struct {
	rng    engine.Source
	lib    *Library
	logger *slog.Logger
	seq    uint64
}

// NewEngine creates a news engine. An empty library is allowed: every
// generate call then returns nothing.
func NewEngine(rng engine.Source, lib *Library, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if lib.Len() == 0 {
		logger.Warn("news template library is empty; no news will be generated")
	}
	return &Engine{rng: rng, lib: lib, logger: logger}
}

// Library returns the template library in use.
func (e *Engine) Library() *Library { return e.lib }

// Seq returns the id sequence counter for persistence.
func (e *Engine) Seq() uint64 { return e.seq }

// SetSeq restores the id sequence counter.
func (e *Engine) SetSeq(v uint64) { e.seq = v }

// GenerateDaily rolls every template once for day and returns the events
// that fire, already triggered.
func (e *Engine) GenerateDaily(day int, available []*commodity.Config) []*Event {
	events := e.roll(day, available)
	for _, ev := range events {
		ev.Triggered = true
	}
	return events
}

// GenerateSeason pre-schedules news for days [startDay, startDay+days).
// The events stay untriggered until Trigger reaches their day.
func (e *Engine) GenerateSeason(startDay, days int, available []*commodity.Config) []*Event {
	if e.lib.Len() == 0 {
		e.logger.Warn("season schedule skipped: no news templates", "start_day", startDay)
		return nil
	}
	var out []*Event
	for d := startDay; d < startDay+days; d++ {
		out = append(out, e.roll(d, available)...)
	}
	return out
}

// GenerateIntraday returns a breaking headline with probability
// dailyProbability, or nil. Only high and critical templates qualify and the
// event is effective for the current day only.
func (e *Engine) GenerateIntraday(day int, timeRatio float64, available []*commodity.Config, dailyProbability float64) *Event {
	if e.lib.Len() == 0 || dailyProbability <= 0 {
		return nil
	}
	if e.rng.Float64() >= dailyProbability {
		return nil
	}
	pool := e.lib.Breaking()
	if len(pool) == 0 {
		return nil
	}

	weights := make([]float64, len(pool))
	total := 0.0
	for i, t := range pool {
		weights[i] = t.Probability
		total += t.Probability
	}
	var idx int
	if total > 0 {
		idx = e.rng.WeightedPick(weights)
	} else {
		idx = e.rng.Intn(len(pool))
	}

	ev := e.instantiate(pool[idx], day, available)
	if ev == nil {
		return nil
	}
	ev.Intraday = true
	ev.TriggerRatio = timeRatio
	ev.StartDay = day
	ev.EndDay = day
	ev.Triggered = true
	return ev
}

func (e *Engine) roll(day int, available []*commodity.Config) []*Event {
	if e.lib.Len() == 0 {
		return nil
	}
	var out []*Event
	for _, t := range e.lib.Templates {
		if e.rng.Float64() >= t.Probability {
			continue
		}
		if ev := e.instantiate(t, day, available); ev != nil {
			out = append(out, ev)
		}
	}
	return out
}

// instantiate turns a template into an event on day. Returns nil when a
// targeted template has no commodity to land on.
func (e *Engine) instantiate(t Template, day int, available []*commodity.Config) *Event {
	ev := &Event{
		TemplateID: t.ID,
		Title:      t.Title,
		Severity:   t.Severity,
		Scope:      t.Scope,
		Day:        day,
		StartDay:   day,
		EndDay:     day + t.DurationDays,
	}

	if t.Scope != ScopeGlobal {
		target := e.pickTarget(t, available)
		if target == nil {
			return nil
		}
		if t.Scope == ScopeCategory {
			ev.Category = target.Category
		} else {
			ev.Items = []string{target.ID}
		}
	}

	ev.DemandDelta = e.jitter(t.DemandDelta, t.RandomRange)
	ev.SupplyDelta = e.jitter(t.SupplyDelta, t.RandomRange)

	e.seq++
	ev.ID = uuid.NewSHA1(idSpace, []byte(fmt.Sprintf("%s/%d/%d", t.ID, day, e.seq))).String()
	return ev
}

// pickTarget prefers the template's explicit items, then its categories,
// then any available commodity.
func (e *Engine) pickTarget(t Template, available []*commodity.Config) *commodity.Config {
	if len(available) == 0 {
		return nil
	}
	var byItem, byCategory []*commodity.Config
	for _, c := range available {
		for _, id := range t.Items {
			if c.ID == id {
				byItem = append(byItem, c)
				break
			}
		}
		for _, cat := range t.Categories {
			if c.Category == cat {
				byCategory = append(byCategory, c)
				break
			}
		}
	}
	switch {
	case len(byItem) > 0:
		return byItem[e.rng.Intn(len(byItem))]
	case len(byCategory) > 0:
		return byCategory[e.rng.Intn(len(byCategory))]
	default:
		return available[e.rng.Intn(len(available))]
	}
}

// jitter offsets a non-zero delta by uniform(-spread, spread).
func (e *Engine) jitter(base, spread float64) float64 {
	if base == 0 {
		return 0
	}
	if spread == 0 {
		return base
	}
	return base + e.rng.Uniform(-spread, spread)
}
