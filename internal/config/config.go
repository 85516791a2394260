package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ndrandal/harvest-exchange/internal/archive"
	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/engine"
	"github.com/ndrandal/harvest-exchange/internal/impact"
	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/news"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
)

// Storage backends.
const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// DefaultPath is where the service looks for its YAML file.
const DefaultPath = "config/market.yaml"

// Config holds all service configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Storage     StorageConfig      `yaml:"storage"`
	Simulation  SimulationConfig   `yaml:"simulation"`
	Market      MarketConfig       `yaml:"market"`
	Commodities []commodity.Config `yaml:"commodities"`
	Festivals   map[string][]int   `yaml:"festivals"` // season name -> festival days
	News        NewsConfig         `yaml:"news"`
	Log         LogConfig          `yaml:"log"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	SendBufferSize int    `yaml:"send_buffer"`
}

// Addr is host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	Backend       string        `yaml:"backend"` // mongo | sqlite | none
	MongoURI      string        `yaml:"mongo_uri"`
	SQLitePath    string        `yaml:"sqlite_path"`
	RedisURL      string        `yaml:"redis_url"` // empty disables the quote cache
	QuoteTTL      time.Duration `yaml:"quote_ttl"`
	RetentionDays int           `yaml:"retention_days"` // 0 keeps fills forever
	Archive       ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig is only honoured with the mongo backend and a non-empty Dir.
type ArchiveConfig struct {
	Dir      string        `yaml:"dir"`
	MaxBytes int64         `yaml:"max_bytes"`
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// Archiver converts the section into the archiver's own config.
func (a ArchiveConfig) Archiver() archive.Config {
	return archive.Config{Dir: a.Dir, MaxBytes: a.MaxBytes, Interval: a.Interval, MaxAge: a.MaxAge}
}

type SimulationConfig struct {
	Seed             int64         `yaml:"seed"` // 0 picks one from the wall clock
	TickInterval     time.Duration `yaml:"tick_interval"`
	TicksPerDay      int           `yaml:"ticks_per_day"`
	StartDay         int           `yaml:"start_day"` // absolute day of a fresh start
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	StartingCash     float64       `yaml:"starting_cash"`
	OrderRate        float64       `yaml:"order_rate"` // orders per second per trader; 0 disables
	OrderBurst       int           `yaml:"order_burst"`
}

// MarketConfig mirrors market.Config. Zero values take the market defaults.
type MarketConfig struct {
	TickSize     float64 `yaml:"tick_size"`
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	StorageCost  float64 `yaml:"storage_cost"`

	Convenience struct {
		Base           float64 `yaml:"base"`
		GiftBoost      float64 `yaml:"gift_boost"`
		GiftWindowDays int     `yaml:"gift_window_days"`
		CommunityScale float64 `yaml:"community_scale"`
		CommunityCap   float64 `yaml:"community_cap"`
	} `yaml:"convenience"`

	Impact struct {
		DecayRate float64 `yaml:"decay_rate"`
		MaxImpact float64 `yaml:"max_impact"`
		Window    int     `yaml:"window"`
	} `yaml:"impact"`

	SwitchProbability       float64 `yaml:"switch_probability"`
	NewsCheckInterval       int     `yaml:"news_check_interval"`
	NewsMinInterval         int     `yaml:"news_min_interval"`
	NewsHistoryDays         int     `yaml:"news_history_days"`
	BreakingNewsProbability float64 `yaml:"breaking_news_probability"`
	PreScheduleNews         bool    `yaml:"preschedule_news"`
	IntradayVolScale        float64 `yaml:"intraday_vol_scale"`

	Seasonal struct {
		MinReversion    float64 `yaml:"min_reversion"`
		MomentumFactor  float64 `yaml:"momentum_factor"`
		JumpProbability float64 `yaml:"jump_probability"`
		JumpMagnitude   float64 `yaml:"jump_magnitude"`
	} `yaml:"seasonal"`

	Bridge struct {
		SmileAlpha  float64 `yaml:"smile_alpha"`
		SmileLambda float64 `yaml:"smile_lambda"`
		MinPrice    float64 `yaml:"min_price"`
	} `yaml:"bridge"`

	Depth struct {
		Levels       int     `yaml:"levels"`
		Step         float64 `yaml:"step"`
		Decay        float64 `yaml:"decay"`
		MinSize      int64   `yaml:"min_size"`
		RefreshTicks int     `yaml:"refresh_ticks"`
	} `yaml:"depth"`

	ClampFundamental   *bool   `yaml:"clamp_fundamental"`
	DefaultFundamental float64 `yaml:"default_fundamental"`
}

type NewsConfig struct {
	TemplatesPath string `yaml:"templates_path"` // empty uses the built-in library
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load parses args, loads .env, reads the YAML file named by -config, applies
// environment overrides, then the flags that were set explicitly.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	flags := flag.NewFlagSet("harvest", flag.ContinueOnError)
	path := flags.String("config", envStr("HARVEST_CONFIG", DefaultPath), "YAML config file")
	port := flags.Int("port", 0, "HTTP listen port")
	host := flags.String("host", "", "Listen host")
	seed := flags.Int64("seed", 0, "PRNG seed (0 = random)")
	backend := flags.String("storage", "", "Storage backend: mongo, sqlite or none")
	level := flags.String("log-level", "", "Log level")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := LoadFile(*path)
	if err != nil {
		return nil, err
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "host":
			cfg.Server.Host = *host
		case "seed":
			cfg.Simulation.Seed = *seed
		case "storage":
			cfg.Storage.Backend = *backend
		case "log-level":
			cfg.Log.Level = *level
		}
	})
	setDefaults(cfg)
	return cfg, nil
}

// LoadFile reads path (a missing file yields an all-default config), then
// applies environment overrides and defaults.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Host = envStr("HARVEST_HOST", cfg.Server.Host)
	cfg.Server.Port = envInt("HARVEST_PORT", cfg.Server.Port)
	cfg.Server.SendBufferSize = envInt("SEND_BUFFER", cfg.Server.SendBufferSize)

	cfg.Storage.Backend = envStr("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.MongoURI = envStr("MONGO_URI", cfg.Storage.MongoURI)
	cfg.Storage.SQLitePath = envStr("SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.RedisURL = envStr("REDIS_URL", cfg.Storage.RedisURL)
	cfg.Storage.RetentionDays = envInt("FILL_RETENTION_DAYS", cfg.Storage.RetentionDays)
	cfg.Storage.Archive.Dir = envStr("ARCHIVE_DIR", cfg.Storage.Archive.Dir)

	cfg.Simulation.Seed = envInt64("HARVEST_SEED", cfg.Simulation.Seed)

	cfg.News.TemplatesPath = envStr("NEWS_TEMPLATES", cfg.News.TemplatesPath)
	cfg.Log.Level = envStr("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envStr("LOG_FORMAT", cfg.Log.Format)
}

// setDefaults fills unset values and replaces invalid ones with a warning.
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		if cfg.Server.Port != 0 {
			slog.Warn("invalid port, using default", "port", cfg.Server.Port)
		}
		cfg.Server.Port = 8100
	}
	if cfg.Server.SendBufferSize <= 0 {
		cfg.Server.SendBufferSize = 4096
	}

	switch cfg.Storage.Backend {
	case BackendMongo, BackendSQLite, BackendNone:
	case "":
		cfg.Storage.Backend = BackendSQLite
	default:
		slog.Warn("unknown storage backend, using sqlite", "backend", cfg.Storage.Backend)
		cfg.Storage.Backend = BackendSQLite
	}
	if cfg.Storage.MongoURI == "" {
		cfg.Storage.MongoURI = "mongodb://localhost:27017/harvest"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "harvest.db"
	}
	if cfg.Storage.QuoteTTL <= 0 {
		cfg.Storage.QuoteTTL = time.Minute
	}
	if cfg.Storage.RetentionDays < 0 {
		slog.Warn("negative fill retention, keeping fills forever", "days", cfg.Storage.RetentionDays)
		cfg.Storage.RetentionDays = 0
	}
	if cfg.Storage.Archive.Interval <= 0 {
		cfg.Storage.Archive.Interval = 6 * time.Hour
	}
	if cfg.Storage.Archive.MaxAge <= 0 {
		cfg.Storage.Archive.MaxAge = 24 * time.Hour
	}

	if cfg.Simulation.TickInterval <= 0 {
		cfg.Simulation.TickInterval = 500 * time.Millisecond
	}
	if cfg.Simulation.TicksPerDay <= 0 {
		cfg.Simulation.TicksPerDay = market.DefaultConfig().TicksPerDay
	}
	if cfg.Simulation.StartDay < 1 {
		cfg.Simulation.StartDay = 1
	}
	if cfg.Simulation.SnapshotInterval <= 0 {
		cfg.Simulation.SnapshotInterval = 30 * time.Second
	}
	if cfg.Simulation.StartingCash <= 0 {
		cfg.Simulation.StartingCash = 500
	}
	if cfg.Simulation.OrderRate < 0 {
		cfg.Simulation.OrderRate = 0
	}
	if cfg.Simulation.OrderBurst <= 0 {
		cfg.Simulation.OrderBurst = 5
	}

	for i := range cfg.Commodities {
		c := &cfg.Commodities[i]
		if c.BasePrice <= 0 {
			slog.Warn("commodity without base price skipped", "id", c.ID)
		}
		if err := c.ResolveSeasons(); err != nil {
			slog.Warn("invalid growing season ignored", "error", err)
			c.SeasonNames = nil
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// CommodityConfigs returns the configured catalogue, or the built-in one when
// none is configured. Entries without an id or a positive base price are
// dropped.
func (c *Config) CommodityConfigs() []commodity.Config {
	if len(c.Commodities) == 0 {
		return commodity.Defaults()
	}
	out := make([]commodity.Config, 0, len(c.Commodities))
	for _, cc := range c.Commodities {
		if strings.TrimSpace(cc.ID) == "" || cc.BasePrice <= 0 {
			continue
		}
		out = append(out, cc)
	}
	if len(out) == 0 {
		slog.Warn("no usable commodities configured, using built-in catalogue")
		return commodity.Defaults()
	}
	return out
}

// NewsLibrary loads the template file, falling back to the embedded library.
func (c *Config) NewsLibrary() *news.Library {
	if c.News.TemplatesPath == "" {
		return news.DefaultLibrary()
	}
	lib, err := news.LoadLibrary(c.News.TemplatesPath)
	if err != nil {
		slog.Warn("news templates unavailable, using built-in library", "error", err)
		return news.DefaultLibrary()
	}
	if len(lib.Templates) == 0 {
		slog.Warn("news template file is empty", "path", c.News.TemplatesPath)
	}
	return lib
}

// MarketConfig builds the market constants, overlaying configured values on
// market.DefaultConfig.
func (c *Config) MarketConfig() market.Config {
	m := c.Market
	out := market.DefaultConfig()
	out.TicksPerDay = c.Simulation.TicksPerDay

	setF(&out.TickSize, m.TickSize)
	setF(&out.RiskFreeRate, m.RiskFreeRate)
	setF(&out.StorageCost, m.StorageCost)

	setF(&out.Convenience.Base, m.Convenience.Base)
	setF(&out.Convenience.GiftBoost, m.Convenience.GiftBoost)
	setI(&out.Convenience.GiftWindowDays, m.Convenience.GiftWindowDays)
	setF(&out.Convenience.CommunityScale, m.Convenience.CommunityScale)
	setF(&out.Convenience.CommunityCap, m.Convenience.CommunityCap)

	out.Impact = impactConfig(m)

	setF(&out.SwitchProbability, m.SwitchProbability)
	setI(&out.NewsCheckInterval, m.NewsCheckInterval)
	setI(&out.NewsMinInterval, m.NewsMinInterval)
	setI(&out.NewsHistoryDays, m.NewsHistoryDays)
	setF(&out.BreakingNewsProbability, m.BreakingNewsProbability)
	out.PreScheduleNews = m.PreScheduleNews
	setF(&out.IntradayVolScale, m.IntradayVolScale)

	out.Seasonal = seasonalParams(m)
	out.Bridge = bridgeParams(m)
	out.Depth = depthParams(m)
	setI(&out.DepthRefreshTicks, m.Depth.RefreshTicks)

	if m.ClampFundamental != nil {
		out.ClampFundamental = *m.ClampFundamental
	}
	setF(&out.DefaultFundamental, m.DefaultFundamental)

	if len(c.Festivals) > 0 {
		out.Festivals = parseFestivals(c.Festivals)
	}
	return out
}

func impactConfig(m MarketConfig) impact.Config {
	out := impact.DefaultConfig()
	if m.Impact.DecayRate > 0 && m.Impact.DecayRate < 1 {
		out.DecayRate = m.Impact.DecayRate
	} else if m.Impact.DecayRate != 0 {
		slog.Warn("impact decay rate must be in (0, 1), using default", "decay_rate", m.Impact.DecayRate)
	}
	setF(&out.MaxImpact, m.Impact.MaxImpact)
	setI(&out.Window, m.Impact.Window)
	return out
}

func seasonalParams(m MarketConfig) engine.SeasonalParams {
	out := engine.DefaultSeasonalParams()
	setF(&out.MinReversion, m.Seasonal.MinReversion)
	setF(&out.MomentumFactor, m.Seasonal.MomentumFactor)
	setF(&out.JumpProbability, m.Seasonal.JumpProbability)
	setF(&out.JumpMagnitude, m.Seasonal.JumpMagnitude)
	return out
}

func bridgeParams(m MarketConfig) engine.BridgeParams {
	out := engine.DefaultBridgeParams()
	setF(&out.SmileAlpha, m.Bridge.SmileAlpha)
	setF(&out.SmileLambda, m.Bridge.SmileLambda)
	setF(&out.MinPrice, m.Bridge.MinPrice)
	return out
}

func depthParams(m MarketConfig) orderbook.DepthParams {
	out := orderbook.DefaultDepthParams()
	setI(&out.Levels, m.Depth.Levels)
	setF(&out.Step, m.Depth.Step)
	setF(&out.Decay, m.Depth.Decay)
	if m.Depth.MinSize > 0 {
		out.MinSize = m.Depth.MinSize
	}
	return out
}

func parseFestivals(in map[string][]int) map[commodity.Season][]int {
	out := make(map[commodity.Season][]int, len(in))
	for name, days := range in {
		s, err := commodity.ParseSeason(name)
		if err != nil {
			slog.Warn("festival season ignored", "error", err)
			continue
		}
		for _, d := range days {
			if d < 1 || d > commodity.DaysPerSeason {
				slog.Warn("festival day out of range ignored", "season", s, "day", d)
				continue
			}
			out[s] = append(out[s], d)
		}
	}
	return out
}

// setF overwrites dst with v when v is positive.
func setF(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func setI(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// NewLogger builds the process logger from the log section.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
