// Package publish mirrors the latest quotes into Redis for other services.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/news"
)

const (
	QuotesChannel = "quotes"
	NewsChannel   = "news"
)

// RedisPublisher writes every quote to quote:{symbol} with a TTL and
// announces each tick's quotes on the quotes channel. Keys expire on their
// own once a contract is delivered.
type RedisPublisher struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisPublisher creates a publisher. ttl <= 0 keeps keys for a minute.
func NewRedisPublisher(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisPublisher {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{rdb: rdb, ttl: ttl, logger: logger}
}

// tickMessage is the payload sent on the quotes channel.
type tickMessage struct {
	Tick   int64          `json:"tick"`
	Day    int            `json:"day"`
	Quotes []market.Quote `json:"quotes"`
}

// Publish caches and announces one tick's quotes and news in a single pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, rep market.TickReport) error {
	if rep.Paused || (len(rep.Quotes) == 0 && len(rep.News) == 0) {
		return nil
	}

	pipe := p.rdb.Pipeline()
	for _, q := range rep.Quotes {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encode quote %s: %w", q.Symbol, err)
		}
		pipe.Set(ctx, QuoteKey(q.Symbol), data, p.ttl)
	}
	if len(rep.Quotes) > 0 {
		data, err := json.Marshal(tickMessage{Tick: rep.Tick, Day: rep.Time.AbsoluteDay(), Quotes: rep.Quotes})
		if err != nil {
			return fmt.Errorf("encode tick: %w", err)
		}
		pipe.Publish(ctx, QuotesChannel, data)
	}
	for _, ev := range rep.News {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode news %s: %w", ev.ID, err)
		}
		pipe.Publish(ctx, NewsChannel, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// LatestQuote reads a cached quote. ok is false on a cache miss.
func (p *RedisPublisher) LatestQuote(ctx context.Context, symbol string) (q market.Quote, ok bool, err error) {
	data, err := p.rdb.Get(ctx, QuoteKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return market.Quote{}, false, nil
	}
	if err != nil {
		return market.Quote{}, false, err
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return market.Quote{}, false, fmt.Errorf("decode quote %s: %w", symbol, err)
	}
	return q, true, nil
}

// DecodeNews parses a payload received on the news channel.
func DecodeNews(payload string) (*news.Event, error) {
	var ev news.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Close closes the underlying client.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

func QuoteKey(symbol string) string { return fmt.Sprintf("quote:%s", symbol) }
