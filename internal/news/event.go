package news

import "github.com/ndrandal/harvest-exchange/internal/commodity"

// Event is a concrete supply/demand shock. Days are absolute simulation days
// so an effective window can span a season boundary.
type Event struct {
	ID           string             `json:"id" bson:"id"`
	TemplateID   string             `json:"templateId" bson:"templateId"`
	Title        string             `json:"title" bson:"title"`
	Severity     Severity           `json:"severity" bson:"severity"`
	Scope        Scope              `json:"scope" bson:"scope"`
	Items        []string           `json:"items,omitempty" bson:"items,omitempty"`
	Category     commodity.Category `json:"category,omitempty" bson:"category,omitempty"`
	DemandDelta  float64            `json:"demandDelta" bson:"demandDelta"`
	SupplyDelta  float64            `json:"supplyDelta" bson:"supplyDelta"`
	Day          int                `json:"day" bson:"day"`
	Intraday     bool               `json:"intraday" bson:"intraday"`
	TriggerRatio float64            `json:"triggerRatio" bson:"triggerRatio"`
	StartDay     int                `json:"startDay" bson:"startDay"`
	EndDay       int                `json:"endDay" bson:"endDay"`
	Triggered    bool               `json:"triggered" bson:"triggered"`
}

// Affects reports whether the event targets the given commodity.
func (e *Event) Affects(c *commodity.Config) bool {
	if c == nil {
		return false
	}
	switch e.Scope {
	case ScopeGlobal:
		return true
	case ScopeCategory:
		return e.Category == c.Category
	default:
		for _, id := range e.Items {
			if id == c.ID {
				return true
			}
		}
		return false
	}
}

// ActiveOn reports whether the event has triggered and day falls inside
// its effective window.
func (e *Event) ActiveOn(day int) bool {
	return e.Triggered && day >= e.StartDay && day <= e.EndDay
}

// Active filters events down to those in effect on day. Expired events are
// left in the input slice untouched.
func Active(events []*Event, day int) []*Event {
	var out []*Event
	for _, e := range events {
		if e.ActiveOn(day) {
			out = append(out, e)
		}
	}
	return out
}

// Trigger flips the triggered flag on pre-scheduled events due on day and
// returns the ones that changed.
func Trigger(events []*Event, day int) []*Event {
	var fired []*Event
	for _, e := range events {
		if !e.Triggered && e.Day == day {
			e.Triggered = true
			fired = append(fired, e)
		}
	}
	return fired
}

// Prune drops events whose window ended before cutoff, keeping the order of
// the rest. Callers pass a cutoff well behind the current day so expired
// headlines stay in history.
func Prune(events []*Event, cutoff int) []*Event {
	kept := events[:0]
	for _, e := range events {
		if e.EndDay >= cutoff {
			kept = append(kept, e)
		}
	}
	return kept
}
