package commodity

import (
	"fmt"
	"strings"
)

// Season is one quarter of the simulated year.
type Season uint8

const (
	Spring Season = iota
	Summer
	Fall
	Winter
)

// DaysPerSeason is the length of a trading season.
const DaysPerSeason = 28

// Seasons returns all seasons in calendar order.
func Seasons() []Season {
	return []Season{Spring, Summer, Fall, Winter}
}

func (s Season) String() string {
	switch s {
	case Spring:
		return "spring"
	case Summer:
		return "summer"
	case Fall:
		return "fall"
	case Winter:
		return "winter"
	default:
		return "unknown"
	}
}

// Code returns the three-letter code used in contract symbols.
func (s Season) Code() string {
	switch s {
	case Spring:
		return "SPR"
	case Summer:
		return "SUM"
	case Fall:
		return "FAL"
	case Winter:
		return "WIN"
	default:
		return "UNK"
	}
}

// Next returns the following season, wrapping winter to spring.
func (s Season) Next() Season {
	return (s + 1) % 4
}

// ParseSeason accepts a season name or code, case-insensitively.
func ParseSeason(v string) (Season, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "spring", "spr":
		return Spring, nil
	case "summer", "sum":
		return Summer, nil
	case "fall", "autumn", "fal":
		return Fall, nil
	case "winter", "win":
		return Winter, nil
	}
	return 0, fmt.Errorf("unknown season %q", v)
}

// Category groups commodities for news targeting.
type Category string

const (
	CategoryCrop    Category = "crop"
	CategoryFruit   Category = "fruit"
	CategoryForage  Category = "forage"
	CategoryArtisan Category = "artisan"
	CategoryAnimal  Category = "animal"
	CategoryMineral Category = "mineral"
)

// Config holds the static parameters of one commodity.
type Config struct {
	ID                   string   `yaml:"id" json:"id"`
	Name                 string   `yaml:"name" json:"name"`
	Category             Category `yaml:"category" json:"category"`
	BasePrice            float64  `yaml:"base_price" json:"basePrice"`
	BaseDemand           float64  `yaml:"base_demand" json:"baseDemand"`
	BaseSupply           float64  `yaml:"base_supply" json:"baseSupply"`
	GrowingSeasons       []Season `yaml:"-" json:"growingSeasons"`
	SeasonNames          []string `yaml:"seasons" json:"-"`
	OffSeasonMultiplier  float64  `yaml:"off_season_multiplier" json:"offSeasonMultiplier"`
	LiquiditySensitivity float64  `yaml:"liquidity_sensitivity" json:"liquiditySensitivity"`
	MarginRatio          float64  `yaml:"margin_ratio" json:"marginRatio"`
	Volatility           float64  `yaml:"volatility" json:"volatility"`
	Giftable             bool     `yaml:"giftable" json:"giftable"`
}

// InSeason reports whether s is one of the commodity's growing seasons.
func (c *Config) InSeason(s Season) bool {
	for _, g := range c.GrowingSeasons {
		if g == s {
			return true
		}
	}
	return false
}

// SeasonalMultiplier is 1 during a growing season and the off-season
// scarcity multiplier otherwise.
func (c *Config) SeasonalMultiplier(s Season) float64 {
	if c.InSeason(s) || c.OffSeasonMultiplier <= 0 {
		return 1
	}
	return c.OffSeasonMultiplier
}

// Baseline is base price times the seasonal multiplier.
func (c *Config) Baseline(s Season) float64 {
	return c.BasePrice * c.SeasonalMultiplier(s)
}

// ResolveSeasons converts SeasonNames read from YAML into GrowingSeasons.
func (c *Config) ResolveSeasons() error {
	if len(c.SeasonNames) == 0 {
		return nil
	}
	c.GrowingSeasons = c.GrowingSeasons[:0]
	for _, name := range c.SeasonNames {
		s, err := ParseSeason(name)
		if err != nil {
			return fmt.Errorf("commodity %s: %w", c.ID, err)
		}
		c.GrowingSeasons = append(c.GrowingSeasons, s)
	}
	return nil
}

// Symbol derives the contract symbol from commodity, season and delivery day,
// e.g. "STRAWBERRY-SPR-28".
func Symbol(commodityID string, season Season, deliveryDay int) string {
	return fmt.Sprintf("%s-%s-%02d", strings.ToUpper(commodityID), season.Code(), deliveryDay)
}

// Defaults returns the built-in commodity catalogue.
func Defaults() []Config {
	return []Config{
		{ID: "parsnip", Name: "Parsnip", Category: CategoryCrop, BasePrice: 35, BaseDemand: 10000, BaseSupply: 10000,
			GrowingSeasons: []Season{Spring}, OffSeasonMultiplier: 1.6, LiquiditySensitivity: 0.002, MarginRatio: 0.1, Volatility: 0.02},
		{ID: "cauliflower", Name: "Cauliflower", Category: CategoryCrop, BasePrice: 175, BaseDemand: 6000, BaseSupply: 6000,
			GrowingSeasons: []Season{Spring}, OffSeasonMultiplier: 1.5, LiquiditySensitivity: 0.01, MarginRatio: 0.12, Volatility: 0.025},
		{ID: "strawberry", Name: "Strawberry", Category: CategoryFruit, BasePrice: 120, BaseDemand: 5000, BaseSupply: 5000,
			GrowingSeasons: []Season{Spring}, OffSeasonMultiplier: 2.0, LiquiditySensitivity: 0.008, MarginRatio: 0.15, Volatility: 0.035, Giftable: true},
		{ID: "melon", Name: "Melon", Category: CategoryFruit, BasePrice: 250, BaseDemand: 4000, BaseSupply: 4000,
			GrowingSeasons: []Season{Summer}, OffSeasonMultiplier: 1.8, LiquiditySensitivity: 0.015, MarginRatio: 0.15, Volatility: 0.03, Giftable: true},
		{ID: "blueberry", Name: "Blueberry", Category: CategoryFruit, BasePrice: 50, BaseDemand: 9000, BaseSupply: 9000,
			GrowingSeasons: []Season{Summer}, OffSeasonMultiplier: 1.7, LiquiditySensitivity: 0.003, MarginRatio: 0.1, Volatility: 0.025},
		{ID: "pumpkin", Name: "Pumpkin", Category: CategoryCrop, BasePrice: 320, BaseDemand: 3000, BaseSupply: 3000,
			GrowingSeasons: []Season{Fall}, OffSeasonMultiplier: 1.6, LiquiditySensitivity: 0.02, MarginRatio: 0.12, Volatility: 0.025, Giftable: true},
		{ID: "cranberry", Name: "Cranberry", Category: CategoryFruit, BasePrice: 75, BaseDemand: 7000, BaseSupply: 7000,
			GrowingSeasons: []Season{Fall}, OffSeasonMultiplier: 1.5, LiquiditySensitivity: 0.005, MarginRatio: 0.1, Volatility: 0.02},
		{ID: "truffle", Name: "Truffle", Category: CategoryAnimal, BasePrice: 625, BaseDemand: 1500, BaseSupply: 1500,
			GrowingSeasons: []Season{Spring, Summer, Fall}, OffSeasonMultiplier: 1.3, LiquiditySensitivity: 0.04, MarginRatio: 0.2, Volatility: 0.04, Giftable: true},
		{ID: "winter-root", Name: "Winter Root", Category: CategoryForage, BasePrice: 70, BaseDemand: 5000, BaseSupply: 5000,
			GrowingSeasons: []Season{Winter}, OffSeasonMultiplier: 1.4, LiquiditySensitivity: 0.006, MarginRatio: 0.1, Volatility: 0.02},
	}
}

// ByID indexes commodity configs by id.
func ByID(cfgs []Config) map[string]*Config {
	m := make(map[string]*Config, len(cfgs))
	for i := range cfgs {
		m[cfgs[i].ID] = &cfgs[i]
	}
	return m
}
