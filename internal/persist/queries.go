package persist

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// QueryFills returns fills for a symbol and/or trader with optional time
// range and pagination.
func (s *MongoStore) QueryFills(ctx context.Context, f FillFilter) ([]FillRecord, error) {
	filter := bson.M{}
	if f.Symbol != "" {
		filter["symbol"] = f.Symbol
	}
	if f.TraderID != "" {
		filter["traderId"] = f.TraderID
	}
	if f.From != nil || f.To != nil {
		timeFilter := bson.M{}
		if f.From != nil {
			timeFilter["$gte"] = *f.From
		}
		if f.To != nil {
			timeFilter["$lte"] = *f.To
		}
		filter["executed_at"] = timeFilter
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "executed_at", Value: -1}, {Key: "matchId", Value: -1}, {Key: "orderId", Value: -1}}).
		SetLimit(int64(f.limit())).
		SetSkip(int64(f.Offset))

	cursor, err := s.db.Collection(collFills).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer cursor.Close(ctx)

	fills := []FillRecord{}
	if err := cursor.All(ctx, &fills); err != nil {
		return nil, fmt.Errorf("decode fills: %w", err)
	}
	return fills, nil
}

// QueryCandles returns daily OHLCV bars for a symbol, newest day first.
func (s *MongoStore) QueryCandles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"symbol": symbol, "maker": false}}},
		{{Key: "$sort", Value: bson.D{{Key: "matchId", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$day"},
			{Key: "open", Value: bson.M{"$first": "$price"}},
			{Key: "high", Value: bson.M{"$max": "$price"}},
			{Key: "low", Value: bson.M{"$min": "$price"}},
			{Key: "close", Value: bson.M{"$last": "$price"}},
			{Key: "volume", Value: bson.M{"$sum": "$quantity"}},
			{Key: "count", Value: bson.M{"$sum": 1}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: -1}}}},
		{{Key: "$limit", Value: int64(limit)}},
	}

	cursor, err := s.db.Collection(collFills).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer cursor.Close(ctx)

	var raw []struct {
		Day    int     `bson:"_id"`
		Open   float64 `bson:"open"`
		High   float64 `bson:"high"`
		Low    float64 `bson:"low"`
		Close  float64 `bson:"close"`
		Volume int64   `bson:"volume"`
		Count  int64   `bson:"count"`
	}
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	candles := make([]Candle, len(raw))
	for i, r := range raw {
		candles[i] = Candle{Day: r.Day, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume, Count: r.Count}
	}
	return candles, nil
}

// QueryFillStats returns the aggregate taker fill count and volume.
func (s *MongoStore) QueryFillStats(ctx context.Context) (FillStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"maker": false}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_fills", Value: bson.M{"$sum": 1}},
			{Key: "total_volume", Value: bson.M{"$sum": "$quantity"}},
		}}},
	}

	cursor, err := s.db.Collection(collFills).Aggregate(ctx, pipeline)
	if err != nil {
		return FillStats{}, fmt.Errorf("query fill stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		TotalFills  int64 `bson:"total_fills"`
		TotalVolume int64 `bson:"total_volume"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return FillStats{}, fmt.Errorf("decode fill stats: %w", err)
	}
	if len(results) == 0 {
		return FillStats{}, nil
	}
	return FillStats{TotalFills: results[0].TotalFills, TotalVolume: results[0].TotalVolume}, nil
}
