package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/position"
)

// SQLiteStore keeps everything in one SQLite file. Use ":memory:" for a
// throwaway database.
type SQLiteStore struct {
	conn   *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens or creates a database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: a second one would see a different :memory: database
	conn.SetMaxOpenConns(1)
	logger.Info("opened SQLite store", "path", path)
	return &SQLiteStore{conn: conn, logger: logger, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close(context.Context) error {
	return s.conn.Close()
}

// Migrate creates the tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sim_state (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		saved_at INTEGER NOT NULL,
		body BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		trader_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		avg_cost TEXT NOT NULL,
		realized TEXT NOT NULL,
		PRIMARY KEY (trader_id, symbol)
	);

	CREATE TABLE IF NOT EXISTS fills (
		match_id INTEGER NOT NULL,
		order_id INTEGER NOT NULL,
		counter_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		day INTEGER NOT NULL,
		trader_id TEXT NOT NULL,
		is_player INTEGER NOT NULL,
		maker INTEGER NOT NULL,
		synthetic INTEGER NOT NULL,
		executed_at INTEGER NOT NULL,
		PRIMARY KEY (match_id, order_id)
	);

	CREATE INDEX IF NOT EXISTS idx_fills_symbol_time ON fills(symbol, executed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_fills_trader_time ON fills(trader_id, executed_at DESC);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// SaveState writes the snapshot and replaces the positions in one
// transaction.
func (s *SQLiteStore) SaveState(ctx context.Context, st State) error {
	body, err := json.Marshal(st.Market)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO sim_state (key, version, saved_at, body) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET version = excluded.version, saved_at = excluded.saved_at, body = excluded.body`,
		stateKey, st.Market.Version, st.SavedAt.UnixNano(), body); err != nil {
		return fmt.Errorf("save market snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM positions"); err != nil {
		return fmt.Errorf("delete positions: %w", err)
	}
	for _, p := range st.Positions {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO positions (trader_id, symbol, quantity, avg_cost, realized)
			VALUES (:trader_id, :symbol, :quantity, :avg_cost, :realized)`, p); err != nil {
			return fmt.Errorf("insert position %s/%s: %w", p.TraderID, p.Symbol, err)
		}
	}
	return tx.Commit()
}

// LoadState returns the last saved state or ErrNoState.
func (s *SQLiteStore) LoadState(ctx context.Context) (State, error) {
	var row struct {
		SavedAt int64  `db:"saved_at"`
		Body    []byte `db:"body"`
	}
	err := s.conn.GetContext(ctx, &row, "SELECT saved_at, body FROM sim_state WHERE key = ?", stateKey)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNoState
	}
	if err != nil {
		return State{}, fmt.Errorf("load market snapshot: %w", err)
	}

	st := State{SavedAt: time.Unix(0, row.SavedAt)}
	if err := json.Unmarshal(row.Body, &st.Market); err != nil {
		return State{}, fmt.Errorf("decode snapshot: %w", err)
	}
	var positions []position.Position
	if err := s.conn.SelectContext(ctx, &positions,
		"SELECT trader_id, symbol, quantity, avg_cost, realized FROM positions ORDER BY trader_id, symbol"); err != nil {
		return State{}, fmt.Errorf("load positions: %w", err)
	}
	st.Positions = positions
	return st, nil
}

type fillRow struct {
	MatchID    int64   `db:"match_id"`
	OrderID    int64   `db:"order_id"`
	CounterID  int64   `db:"counter_id"`
	Symbol     string  `db:"symbol"`
	Side       string  `db:"side"`
	Price      float64 `db:"price"`
	Quantity   int64   `db:"quantity"`
	Tick       int64   `db:"tick"`
	Day        int     `db:"day"`
	TraderID   string  `db:"trader_id"`
	IsPlayer   bool    `db:"is_player"`
	Maker      bool    `db:"maker"`
	Synthetic  bool    `db:"synthetic"`
	ExecutedAt int64   `db:"executed_at"`
}

func toFillRow(r FillRecord) fillRow {
	return fillRow{
		MatchID:    int64(r.MatchID),
		OrderID:    int64(r.OrderID),
		CounterID:  int64(r.CounterID),
		Symbol:     r.Symbol,
		Side:       string(rune(r.Side)),
		Price:      r.Price,
		Quantity:   r.Quantity,
		Tick:       r.Timestamp,
		Day:        r.Day,
		TraderID:   r.TraderID,
		IsPlayer:   r.IsPlayer,
		Maker:      r.Maker,
		Synthetic:  r.Synthetic,
		ExecutedAt: r.ExecutedAt.UnixNano(),
	}
}

func (r fillRow) record() FillRecord {
	var side orderbook.Side
	if r.Side != "" {
		side = orderbook.Side(r.Side[0])
	}
	return FillRecord{
		Fill: orderbook.Fill{
			MatchID:   uint64(r.MatchID),
			OrderID:   uint64(r.OrderID),
			CounterID: uint64(r.CounterID),
			Symbol:    r.Symbol,
			Side:      side,
			Price:     r.Price,
			Quantity:  r.Quantity,
			Timestamp: r.Tick,
			TraderID:  r.TraderID,
			IsPlayer:  r.IsPlayer,
			Maker:     r.Maker,
			Synthetic: r.Synthetic,
		},
		Day:        r.Day,
		ExecutedAt: time.Unix(0, r.ExecutedAt),
	}
}

// SaveFills appends fills to the log. Re-inserting a fill is a no-op.
func (s *SQLiteStore) SaveFills(ctx context.Context, day int, fills []orderbook.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `INSERT OR IGNORE INTO fills
		(match_id, order_id, counter_id, symbol, side, price, quantity, tick, day,
		 trader_id, is_player, maker, synthetic, executed_at)
		VALUES (:match_id, :order_id, :counter_id, :symbol, :side, :price, :quantity, :tick, :day,
		 :trader_id, :is_player, :maker, :synthetic, :executed_at)`)
	if err != nil {
		return fmt.Errorf("prepare fill insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records(day, fills, s.now()) {
		if _, err := stmt.ExecContext(ctx, toFillRow(r)); err != nil {
			return fmt.Errorf("insert fill %d/%d: %w", r.MatchID, r.OrderID, err)
		}
	}
	return tx.Commit()
}

// QueryFills returns fills newest first.
func (s *SQLiteStore) QueryFills(ctx context.Context, f FillFilter) ([]FillRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.TraderID != "" {
		where = append(where, "trader_id = ?")
		args = append(args, f.TraderID)
	}
	if f.From != nil {
		where = append(where, "executed_at >= ?")
		args = append(args, f.From.UnixNano())
	}
	if f.To != nil {
		where = append(where, "executed_at <= ?")
		args = append(args, f.To.UnixNano())
	}

	q := "SELECT * FROM fills"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY executed_at DESC, match_id DESC, order_id DESC LIMIT ? OFFSET ?"
	args = append(args, f.limit(), f.Offset)

	var rows []fillRow
	if err := s.conn.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	out := make([]FillRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// QueryCandles returns daily OHLCV bars for a symbol, newest day first.
// SQLite has no first/last aggregate, so bars are folded here.
func (s *SQLiteStore) QueryCandles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []struct {
		Day      int     `db:"day"`
		Price    float64 `db:"price"`
		Quantity int64   `db:"quantity"`
	}
	if err := s.conn.SelectContext(ctx, &rows, `SELECT day, price, quantity FROM fills
		WHERE symbol = ? AND maker = 0 AND day IN (
			SELECT DISTINCT day FROM fills WHERE symbol = ? AND maker = 0 ORDER BY day DESC LIMIT ?)
		ORDER BY day DESC, match_id ASC`, symbol, symbol, limit); err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}

	candles := []Candle{}
	for _, r := range rows {
		n := len(candles)
		if n == 0 || candles[n-1].Day != r.Day {
			candles = append(candles, Candle{Day: r.Day, Open: r.Price, High: r.Price, Low: r.Price})
			n++
		}
		c := &candles[n-1]
		c.High = max(c.High, r.Price)
		c.Low = min(c.Low, r.Price)
		c.Close = r.Price
		c.Volume += r.Quantity
		c.Count++
	}
	return candles, nil
}

// QueryFillStats returns the aggregate taker fill count and volume.
func (s *SQLiteStore) QueryFillStats(ctx context.Context) (FillStats, error) {
	var st FillStats
	row := s.conn.QueryRowxContext(ctx, "SELECT COUNT(*), COALESCE(SUM(quantity), 0) FROM fills WHERE maker = 0")
	if err := row.Scan(&st.TotalFills, &st.TotalVolume); err != nil {
		return FillStats{}, fmt.Errorf("query fill stats: %w", err)
	}
	return st, nil
}

// PruneFills deletes fills recorded before the cutoff.
func (s *SQLiteStore) PruneFills(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM fills WHERE executed_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune fills: %w", err)
	}
	return res.RowsAffected()
}
