package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureEventCollection creates the indexes the event sink reads by. The
// collection itself is created on first insert.
func EnsureEventCollection(ctx context.Context, db *mongo.Database, name string) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "seq", Value: 1}},
			Options: options.Index().SetName("idx_" + name + "_seq"),
		},
		{
			Keys:    bson.D{{Key: "unid", Value: 1}},
			Options: options.Index().SetName("idx_" + name + "_unid"),
		},
	}

	_, err := db.Collection(name).Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
