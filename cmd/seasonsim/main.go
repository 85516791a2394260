// Command seasonsim runs the market offline for a number of days and prints
// a daily open/close table per contract. The same seed always prints the
// same table.
//
// Usage:
//
//	seasonsim                       # 28 days from spring day 1, seed 42
//	seasonsim -seed 7 -days 56      # two seasons
//	seasonsim -symbol parsnip       # one commodity only
//	seasonsim -config config/market.yaml
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/ndrandal/harvest-exchange/internal/config"
	"github.com/ndrandal/harvest-exchange/internal/engine"
	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/news"
)

type options struct {
	configPath string
	seed       int64
	days       int
	startDay   int
	commodity  string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", config.DefaultPath, "YAML config file (missing file = defaults)")
	flag.Int64Var(&o.seed, "seed", 42, "PRNG seed")
	flag.IntVar(&o.days, "days", 28, "Days to simulate")
	flag.IntVar(&o.startDay, "start-day", 1, "Absolute start day (1 = spring day 1, year 1)")
	flag.StringVar(&o.commodity, "symbol", "", "Only report this commodity id")
	flag.Parse()

	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := config.NewLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr)

	if err := run(os.Stdout, cfg, o, logger); err != nil {
		fmt.Fprintf(os.Stderr, "seasonsim: %v\n", err)
		os.Exit(1)
	}
}

// dayRow is one contract's summary for one simulated day.
type dayRow struct {
	day         market.SimTime
	symbol      string
	open, close float64
	high, low   float64
	fundamental float64
	futures     float64
	impact      float64
	scenario    string
}

func run(w io.Writer, cfg *config.Config, o options, logger *slog.Logger) error {
	if o.days < 1 {
		return fmt.Errorf("days must be positive, got %d", o.days)
	}
	mcfg := cfg.MarketConfig()
	m := market.New(mcfg, cfg.CommodityConfigs(), cfg.NewsLibrary(), engine.NewRNG(o.seed), logger)
	clock := market.NewSimClock(mcfg.TicksPerDay, o.startDay)
	filter := strings.ToLower(o.commodity)

	var (
		rows     []dayRow
		headline []*news.Event
	)
	for d := 0; d < o.days; d++ {
		open := map[string]*dayRow{}
		for i := 0; i < mcfg.TicksPerDay; i++ {
			rep := m.Step(clock.Advance())
			headline = append(headline, rep.News...)
			for _, q := range rep.Quotes {
				if filter != "" && q.CommodityID != filter {
					continue
				}
				r, ok := open[q.Symbol]
				if !ok {
					r = &dayRow{symbol: q.Symbol, open: q.Spot, high: q.Spot, low: q.Spot}
					open[q.Symbol] = r
				}
				r.day = rep.Time
				r.close = q.Spot
				r.high = max(r.high, q.Spot)
				r.low = min(r.low, q.Spot)
				r.fundamental = q.Fundamental
				r.futures = q.Futures
				r.impact = q.Impact
				r.scenario = rep.Scenario.Kind.String()
			}
		}
		day := make([]dayRow, 0, len(open))
		for _, r := range open {
			day = append(day, *r)
		}
		sort.Slice(day, func(i, j int) bool { return day[i].symbol < day[j].symbol })
		rows = append(rows, day...)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Day", "Symbol", "Open", "High", "Low", "Close", "Fundamental", "Futures", "Impact", "Scenario")
	for _, r := range rows {
		table.Append(
			fmt.Sprintf("%s %02d", r.day.Season.Code(), r.day.Day),
			r.symbol,
			fmt.Sprintf("%.2f", r.open),
			fmt.Sprintf("%.2f", r.high),
			fmt.Sprintf("%.2f", r.low),
			fmt.Sprintf("%.2f", r.close),
			fmt.Sprintf("%.2f", r.fundamental),
			fmt.Sprintf("%.2f", r.futures),
			fmt.Sprintf("%+.2f", r.impact),
			r.scenario,
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(headline) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	nt := tablewriter.NewWriter(w)
	nt.Header("Day", "Severity", "Headline", "Demand", "Supply")
	for _, ev := range headline {
		at := market.TimeAt(ev.Day, 0)
		nt.Append(
			fmt.Sprintf("%s %02d", at.Season.Code(), at.Day),
			string(ev.Severity),
			ev.Title,
			fmt.Sprintf("%+.0f", ev.DemandDelta),
			fmt.Sprintf("%+.0f", ev.SupplyDelta),
		)
	}
	return nt.Render()
}
