package wire

import "github.com/ndrandal/harvest-exchange/internal/market"

// Batch is one tick's messages split by audience. Global messages go to
// every client; the rest only to clients subscribed to the symbol.
type Batch struct {
	Global   []Message
	BySymbol map[string][]Message
}

// Len returns the total number of messages in the batch.
func (b *Batch) Len() int {
	n := len(b.Global)
	for _, msgs := range b.BySymbol {
		n += len(msgs)
	}
	return n
}

func (b *Batch) add(sym string, m Message) {
	b.BySymbol[sym] = append(b.BySymbol[sym], m)
}

// FromReport converts a tick report into wire messages. Deliveries come
// before the quotes of the contracts listed on the same tick, and each
// symbol's trades follow its quote.
func FromReport(rep market.TickReport) Batch {
	b := Batch{BySymbol: make(map[string][]Message)}
	if rep.Paused {
		return b
	}
	day := rep.Time.AbsoluteDay()

	if rep.SeasonStarted {
		b.Global = append(b.Global, SystemEvent(EventStartOfSeason, rep.Tick, day))
	}
	if rep.DayStarted {
		b.Global = append(b.Global, SystemEvent(EventStartOfDay, rep.Tick, day))
	}
	if rep.ScenarioChanged {
		b.Global = append(b.Global, Scenario(rep.Scenario, rep.Tick, day))
	}
	for _, ev := range rep.News {
		b.Global = append(b.Global, News(ev, rep.Tick))
	}

	for _, d := range rep.Deliveries {
		b.add(d.Symbol, Delivery(d, rep.Tick, day))
	}
	for _, q := range rep.Quotes {
		b.add(q.Symbol, Quote(q))
	}
	for _, f := range rep.Fills {
		if f.Maker {
			continue
		}
		b.add(f.Symbol, Trade(f, day))
	}
	return b
}
