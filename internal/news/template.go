package news

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
)

// Severity ranks how disruptive a headline is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Breaking reports whether the severity qualifies for intraday news.
func (s Severity) Breaking() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Scope says how widely an event generated from a template applies.
type Scope string

const (
	ScopeItem     Scope = "item"
	ScopeCategory Scope = "category"
	ScopeGlobal   Scope = "global"
)

// DefaultDurationDays is the effective window of routine news: one season.
const DefaultDurationDays = 28

// Template is a static recipe for a news event.
type Template struct {
	ID           string               `yaml:"id" json:"id"`
	Title        string               `yaml:"title" json:"title"`
	Severity     Severity             `yaml:"severity" json:"severity"`
	Scope        Scope                `yaml:"scope" json:"scope"`
	DemandDelta  float64              `yaml:"demand_delta" json:"demandDelta"`
	SupplyDelta  float64              `yaml:"supply_delta" json:"supplyDelta"`
	Items        []string             `yaml:"items" json:"items,omitempty"`
	Categories   []commodity.Category `yaml:"categories" json:"categories,omitempty"`
	RandomRange  float64              `yaml:"random_range" json:"randomRange"`
	Probability  float64              `yaml:"probability" json:"probability"`
	DurationDays int                  `yaml:"duration_days" json:"durationDays"`
}

// Library is a set of templates.
type Library struct {
	Templates []Template `yaml:"templates"`
}

//go:embed templates.yaml
var defaultTemplates []byte

// DefaultLibrary returns the built-in template library.
func DefaultLibrary() *Library {
	lib, err := ParseLibrary(defaultTemplates)
	if err != nil {
		panic(fmt.Sprintf("news: embedded templates: %v", err))
	}
	return lib
}

// LoadLibrary reads a template library from a YAML file.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	lib, err := ParseLibrary(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}

// ParseLibrary decodes YAML and normalizes each template. Templates without
// an id are dropped with a warning.
func ParseLibrary(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	kept := lib.Templates[:0]
	for _, t := range lib.Templates {
		if strings.TrimSpace(t.ID) == "" {
			slog.Warn("news template without id skipped", "title", t.Title)
			continue
		}
		kept = append(kept, t.normalized())
	}
	lib.Templates = kept
	return &lib, nil
}

func (t Template) normalized() Template {
	if t.Severity == "" {
		t.Severity = SeverityMedium
	}
	if t.Scope == "" {
		switch {
		case len(t.Items) == 0 && len(t.Categories) == 0:
			t.Scope = ScopeGlobal
		default:
			t.Scope = ScopeItem
		}
	}
	if t.DurationDays <= 0 {
		t.DurationDays = DefaultDurationDays
	}
	if t.Probability < 0 {
		t.Probability = 0
	}
	if t.Probability > 1 {
		t.Probability = 1
	}
	if t.RandomRange < 0 {
		t.RandomRange = -t.RandomRange
	}
	return t
}

// Len returns the number of templates.
func (l *Library) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Templates)
}

// Breaking returns the high and critical severity templates.
func (l *Library) Breaking() []Template {
	if l == nil {
		return nil
	}
	var out []Template
	for _, t := range l.Templates {
		if t.Severity.Breaking() {
			out = append(out, t)
		}
	}
	return out
}
