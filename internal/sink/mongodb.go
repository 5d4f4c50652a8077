package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"seismo/internal/constants"
	"seismo/pkg/errors"
	"seismo/pkg/metrics"
	"seismo/pkg/models"
)

const countersCollection = "counters"

type mongoEvent struct {
	Seq                    int64 `bson:"seq"`
	models.PersistedRecord `bson:",inline"`
}

// MongoSink inserts one document per record. A counter document hands out
// the seq each insert is ordered by, so ReadAll order matches append order
// across processes. Writes use majority, journaled acknowledgement.
type MongoSink struct {
	client     *mongo.Client
	events     *mongo.Collection
	counters   *mongo.Collection
	collection string
}

func NewMongoSink(client *mongo.Client, database, collection string) *MongoSink {
	journal := true
	wc := &writeconcern.WriteConcern{W: "majority", Journal: &journal}
	db := client.Database(database, options.Database().SetWriteConcern(wc))
	return &MongoSink{
		client:     client,
		events:     db.Collection(collection),
		counters:   db.Collection(countersCollection),
		collection: collection,
	}
}

func (s *MongoSink) nextSeq(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": s.collection},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	return doc.Seq, nil
}

func (s *MongoSink) Append(ctx context.Context, rec models.PersistedRecord) error {
	start := time.Now()
	seq, err := s.nextSeq(ctx)
	if err == nil {
		rec.Time = rec.Time.UTC()
		_, err = s.events.InsertOne(ctx, mongoEvent{Seq: seq, PersistedRecord: rec})
	}
	if err != nil {
		metrics.ObserveSinkAppend(s.Name(), "error", time.Since(start))
		return errors.ErrSinkWrite.WithDetail("unid", rec.UNID).WithCause(err)
	}
	metrics.ObserveSinkAppend(s.Name(), "ok", time.Since(start))
	return nil
}

func (s *MongoSink) ReadAll(ctx context.Context) ([]models.PersistedRecord, error) {
	start := time.Now()
	defer func() { metrics.ObserveSinkRead(s.Name(), time.Since(start)) }()

	cursor, err := s.events.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, errors.ErrUnavailable.WithCause(err)
	}
	defer cursor.Close(ctx)

	records := make([]models.PersistedRecord, 0)
	for cursor.Next(ctx) {
		var doc mongoEvent
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		doc.Time = doc.Time.UTC()
		records = append(records, doc.PersistedRecord)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.ErrUnavailable.WithCause(err)
	}
	return records, nil
}

func (s *MongoSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoSink) Name() string {
	return constants.SinkTypeMongoDB
}

func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
