package persist

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes creates idempotent indexes on all collections.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: collState,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: collPositions,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "trader_id", Value: 1}, {Key: "symbol", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			// one document per side of each match
			collection: collFills,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "matchId", Value: 1}, {Key: "orderId", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: collFills,
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "symbol", Value: 1},
					{Key: "executed_at", Value: -1},
				},
			},
		},
		{
			collection: collFills,
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "traderId", Value: 1}, {Key: "executed_at", Value: -1}},
			},
		},
	}

	for _, i := range indexes {
		if _, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}
	return nil
}
