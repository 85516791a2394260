package commodity

// Kind tags the concrete instrument variant. Engines switch on it
// exhaustively; only futures are listed today.
type Kind uint8

const (
	KindFuture Kind = iota + 1
)

func (k Kind) String() string {
	switch k {
	case KindFuture:
		return "future"
	default:
		return "unknown"
	}
}

// Instrument is a tradable contract. Price fields change every tick, Open and
// Target every day; the rest is fixed at listing.
type Instrument struct {
	Kind        Kind    `json:"kind" bson:"kind"`
	Symbol      string  `json:"symbol" bson:"symbol"`
	CommodityID string  `json:"commodityId" bson:"commodityId"`
	Season      Season  `json:"season" bson:"season"`
	Year        int     `json:"year" bson:"year"`
	DeliveryDay int     `json:"deliveryDay" bson:"deliveryDay"` // absolute simulation day
	MarginRatio float64 `json:"marginRatio" bson:"marginRatio"`

	Spot        float64 `json:"spot" bson:"spot"` // displayed price: shadow + impact
	Futures     float64 `json:"futures" bson:"futures"`
	Shadow      float64 `json:"shadow" bson:"shadow"`
	Open        float64 `json:"open" bson:"open"`
	Target      float64 `json:"target" bson:"target"`
	Fundamental float64 `json:"fundamental" bson:"fundamental"`
}

// DaysToDelivery returns the whole days left before delivery on day.
func (i *Instrument) DaysToDelivery(day int) int {
	return i.DeliveryDay - day
}

// Settles reports whether the instrument settles at delivery. Every kind
// must be listed here.
func (i *Instrument) Settles() bool {
	switch i.Kind {
	case KindFuture:
		return true
	default:
		return false
	}
}

// NewFuture lists the season's futures contract for c, delivering on the
// season's last day.
func NewFuture(c *Config, season Season, year, deliveryDay int) Instrument {
	return Instrument{
		Kind:        KindFuture,
		Symbol:      Symbol(c.ID, season, DaysPerSeason),
		CommodityID: c.ID,
		Season:      season,
		Year:        year,
		DeliveryDay: deliveryDay,
		MarginRatio: c.MarginRatio,
	}
}
