package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/position"
)

const (
	collState     = "sim_state"
	collPositions = "positions"
	collFills     = "fills"

	stateKey = "market"
)

// MongoStore wraps the MongoDB client and database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
	now    func() time.Time
}

// NewMongoStore connects to MongoDB. The URI should include the database
// name (e.g. mongodb://localhost:27017/harvest); "harvest" is used when it
// does not.
func NewMongoStore(ctx context.Context, uri string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := "harvest"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}
	logger.Info("connected to MongoDB", "db", dbName)
	return &MongoStore{client: client, db: client.Database(dbName), logger: logger, now: time.Now}, nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// DB returns the underlying database.
func (s *MongoStore) DB() *mongo.Database {
	return s.db
}

// Migrate creates indexes for all collections.
func (s *MongoStore) Migrate(ctx context.Context) error {
	if err := EnsureIndexes(ctx, s.db); err != nil {
		return err
	}
	s.logger.Info("MongoDB indexes ensured")
	return nil
}

type stateDoc struct {
	Key     string          `bson:"key"`
	Version int             `bson:"version"`
	SavedAt time.Time       `bson:"saved_at"`
	Market  market.Snapshot `bson:"market"`
}

// positionDoc keeps decimals as strings; bson has no decimal.Decimal codec.
type positionDoc struct {
	TraderID string `bson:"trader_id"`
	Symbol   string `bson:"symbol"`
	Quantity int64  `bson:"quantity"`
	AvgCost  string `bson:"avg_cost"`
	Realized string `bson:"realized"`
}

func toPositionDoc(p position.Position) positionDoc {
	return positionDoc{
		TraderID: p.TraderID,
		Symbol:   p.Symbol,
		Quantity: p.Quantity,
		AvgCost:  p.AvgCost.String(),
		Realized: p.Realized.String(),
	}
}

func (d positionDoc) position() (position.Position, error) {
	avg, err := decimal.NewFromString(d.AvgCost)
	if err != nil {
		return position.Position{}, fmt.Errorf("avg cost of %s/%s: %w", d.TraderID, d.Symbol, err)
	}
	realized, err := decimal.NewFromString(d.Realized)
	if err != nil {
		return position.Position{}, fmt.Errorf("realized of %s/%s: %w", d.TraderID, d.Symbol, err)
	}
	return position.Position{TraderID: d.TraderID, Symbol: d.Symbol, Quantity: d.Quantity, AvgCost: avg, Realized: realized}, nil
}

// SaveState persists the snapshot and positions in a single transaction.
func (s *MongoStore) SaveState(ctx context.Context, st State) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc context.Context) (any, error) {
		doc := stateDoc{Key: stateKey, Version: st.Market.Version, SavedAt: st.SavedAt, Market: st.Market}
		if _, err := s.db.Collection(collState).ReplaceOne(sc,
			bson.M{"key": stateKey}, doc, options.Replace().SetUpsert(true)); err != nil {
			return nil, fmt.Errorf("save market snapshot: %w", err)
		}

		if _, err := s.db.Collection(collPositions).DeleteMany(sc, bson.M{}); err != nil {
			return nil, fmt.Errorf("delete positions: %w", err)
		}
		if len(st.Positions) > 0 {
			docs := make([]any, len(st.Positions))
			for i, p := range st.Positions {
				docs[i] = toPositionDoc(p)
			}
			if _, err := s.db.Collection(collPositions).InsertMany(sc, docs); err != nil {
				return nil, fmt.Errorf("insert positions: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("snapshot transaction: %w", err)
	}
	return nil
}

// LoadState returns the last saved state or ErrNoState.
func (s *MongoStore) LoadState(ctx context.Context) (State, error) {
	var doc stateDoc
	err := s.db.Collection(collState).FindOne(ctx, bson.M{"key": stateKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return State{}, ErrNoState
	}
	if err != nil {
		return State{}, fmt.Errorf("load market snapshot: %w", err)
	}

	cursor, err := s.db.Collection(collPositions).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "trader_id", Value: 1}, {Key: "symbol", Value: 1}}))
	if err != nil {
		return State{}, fmt.Errorf("load positions: %w", err)
	}
	defer cursor.Close(ctx)

	st := State{Market: doc.Market, SavedAt: doc.SavedAt}
	for cursor.Next(ctx) {
		var pd positionDoc
		if err := cursor.Decode(&pd); err != nil {
			return State{}, fmt.Errorf("decode position: %w", err)
		}
		p, err := pd.position()
		if err != nil {
			return State{}, err
		}
		st.Positions = append(st.Positions, p)
	}
	if err := cursor.Err(); err != nil {
		return State{}, fmt.Errorf("iterate positions: %w", err)
	}
	return st, nil
}

// SaveFills appends fills to the log. Re-inserting a fill is a no-op.
func (s *MongoStore) SaveFills(ctx context.Context, day int, fills []orderbook.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	recs := records(day, fills, s.now())
	docs := make([]any, len(recs))
	for i := range recs {
		docs[i] = recs[i]
	}
	_, err := s.db.Collection(collFills).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert fills: %w", err)
	}
	return nil
}

// PruneFills deletes fills recorded before the cutoff.
func (s *MongoStore) PruneFills(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(collFills).DeleteMany(ctx, bson.M{"executed_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("prune fills: %w", err)
	}
	return res.DeletedCount, nil
}
