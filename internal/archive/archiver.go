// Package archive moves old fills out of MongoDB into gzipped NDJSON files.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/harvest-exchange/internal/persist"
)

const (
	collFills = "fills"
	collState = "sim_state"
	cursorKey = "archive_cursor"
)

// Config controls where and when fills are archived.
type Config struct {
	Dir      string
	MaxBytes int64         // total archive size before the oldest files rotate out
	Interval time.Duration // between cycles
	MaxAge   time.Duration // fills older than this are archived
}

// Archiver periodically moves fills older than MaxAge to
// Dir/fills/YYYY/MM/DD.jsonl.gz, deleting the oldest archives when the total
// size exceeds MaxBytes.
type Archiver struct {
	db     *mongo.Database
	cfg    Config
	logger *slog.Logger
}

// New creates an archiver.
func New(db *mongo.Database, cfg Config, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Archiver{db: db, cfg: cfg, logger: logger}
}

// Run starts the archive loop. Blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	a.logger.Info("fill archiver started", "dir", a.cfg.Dir, "max_bytes", a.cfg.MaxBytes,
		"interval", a.cfg.Interval, "age", a.cfg.MaxAge)

	a.cycle(ctx)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

// fillDoc is a stored fill with its document id.
type fillDoc struct {
	ID                 bson.ObjectID `bson:"_id" json:"-"`
	persist.FillRecord `bson:",inline"`
}

func (a *Archiver) cycle(ctx context.Context) {
	cursor, err := a.loadCursor(ctx)
	if err != nil {
		a.logger.Error("fill archiver: load cursor", "error", err)
		return
	}

	cutoff := time.Now().Add(-a.cfg.MaxAge)
	if !cursor.Before(cutoff) {
		return
	}

	fills, err := a.queryFills(ctx, cursor, cutoff)
	if err != nil {
		a.logger.Error("fill archiver: query", "error", err)
		return
	}

	for _, day := range sortedDays(groupByDay(fills)) {
		batch := day.fills
		if err := writeBatch(a.cfg.Dir, day.key, batch); err != nil {
			a.logger.Error("fill archiver: write", "day", day.key, "error", err)
			return
		}
		if err := a.deleteBatch(ctx, batch); err != nil {
			a.logger.Error("fill archiver: delete", "day", day.key, "error", err)
			return
		}
		a.logger.Info("fill archiver: archived", "fills", len(batch), "day", day.key)
	}

	a.saveCursor(ctx, cutoff)
	rotate(a.cfg.Dir, a.cfg.MaxBytes, a.logger)
}

func (a *Archiver) loadCursor(ctx context.Context) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	err := a.db.Collection(collState).FindOne(ctx, bson.M{"key": cursorKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) saveCursor(ctx context.Context, t time.Time) {
	_, err := a.db.Collection(collState).UpdateOne(ctx,
		bson.M{"key": cursorKey},
		bson.M{"$set": bson.M{"key": cursorKey, "value_time": t, "updated_at": time.Now()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		a.logger.Error("fill archiver: save cursor", "error", err)
	}
}

func (a *Archiver) queryFills(ctx context.Context, from, to time.Time) ([]fillDoc, error) {
	filter := bson.M{"executed_at": bson.M{"$gte": from, "$lt": to}}
	opts := options.Find().SetSort(bson.D{{Key: "executed_at", Value: 1}, {Key: "matchId", Value: 1}})

	cur, err := a.db.Collection(collFills).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find fills: %w", err)
	}
	defer cur.Close(ctx)

	var fills []fillDoc
	if err := cur.All(ctx, &fills); err != nil {
		return nil, fmt.Errorf("decode fills: %w", err)
	}
	return fills, nil
}

func (a *Archiver) deleteBatch(ctx context.Context, fills []fillDoc) error {
	ids := make([]bson.ObjectID, len(fills))
	for i, f := range fills {
		ids[i] = f.ID
	}
	if _, err := a.db.Collection(collFills).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("delete archived fills: %w", err)
	}
	return nil
}

type dayBatch struct {
	key   string
	fills []fillDoc
}

func groupByDay(fills []fillDoc) map[string][]fillDoc {
	batches := make(map[string][]fillDoc)
	for _, f := range fills {
		day := f.ExecutedAt.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], f)
	}
	return batches
}

func sortedDays(batches map[string][]fillDoc) []dayBatch {
	out := make([]dayBatch, 0, len(batches))
	for k, v := range batches {
		out = append(out, dayBatch{key: k, fills: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// writeBatch appends fills to dir/fills/YYYY/MM/DD.jsonl.gz. Appending a
// second gzip member keeps earlier batches of the same day readable.
func writeBatch(dir, day string, fills []fillDoc) error {
	path := filepath.Join(dir, "fills", day+".jsonl.gz")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, f := range fills {
		if err := enc.Encode(f.FillRecord); err != nil {
			gz.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return fmt.Errorf("write: %w", err)
	}
	return file.Close()
}

// rotate deletes the oldest archive files until total size is under maxBytes.
func rotate(dir string, maxBytes int64, logger *slog.Logger) {
	if maxBytes <= 0 {
		return
	}
	root := filepath.Join(dir, "fills")

	type entry struct {
		path string
		size int64
	}
	var files []entry
	var total int64
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, entry{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})
	if total <= maxBytes {
		return
	}

	// YYYY/MM/DD paths sort chronologically
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	for _, f := range files {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			logger.Error("fill archiver: remove", "path", f.path, "error", err)
			continue
		}
		total -= f.size
		logger.Info("fill archiver: rotated out", "path", f.path, "bytes", f.size)
	}
}
