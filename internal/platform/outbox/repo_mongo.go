package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/caseflow/caseflow/internal/platform/docstore"
)

const collection = "outbox_events"

type eventDoc struct {
	ID            string     `bson:"_id"`
	Topic         string     `bson:"topic"`
	AggregateID   string     `bson:"aggregate_id"`
	EntryID       string     `bson:"entry_id"`
	Payload       string     `bson:"payload"`
	Status        string     `bson:"status"`
	Attempts      int        `bson:"attempts"`
	NextAttemptAt time.Time  `bson:"next_attempt_at"`
	LastError     *string    `bson:"last_error,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	DeliveredAt   *time.Time `bson:"delivered_at,omitempty"`
}

func toEventDoc(e *Event) eventDoc {
	return eventDoc{
		ID:            e.ID.String(),
		Topic:         e.Topic,
		AggregateID:   e.AggregateID.String(),
		EntryID:       e.EntryID.String(),
		Payload:       string(e.Payload),
		Status:        string(e.Status),
		Attempts:      e.Attempts,
		NextAttemptAt: e.NextAttemptAt,
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt,
		DeliveredAt:   e.DeliveredAt,
	}
}

func (d eventDoc) event() (*Event, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("outbox event id: %w", err)
	}
	agg, _ := uuid.Parse(d.AggregateID)
	entry, _ := uuid.Parse(d.EntryID)
	return &Event{
		ID:            id,
		Topic:         d.Topic,
		AggregateID:   agg,
		EntryID:       entry,
		Payload:       []byte(d.Payload),
		Status:        Status(d.Status),
		Attempts:      d.Attempts,
		NextAttemptAt: d.NextAttemptAt.UTC(),
		LastError:     d.LastError,
		CreatedAt:     d.CreatedAt.UTC(),
		DeliveredAt:   d.DeliveredAt,
	}, nil
}

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(db *mongo.Database) Repository {
	return &repoMongo{coll: db.Collection(collection)}
}

// EnsureIndexesMongo creates the indexes Claim relies on.
func EnsureIndexesMongo(ctx context.Context, db *mongo.Database) error {
	return docstore.EnsureIndexes(ctx, db, collection,
		mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_attempt_at", Value: 1}}},
	)
}

func (r *repoMongo) Enqueue(ctx context.Context, e *Event) error {
	if _, err := r.coll.InsertOne(ctx, toEventDoc(e)); err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// Claim leases events one at a time; each FindOneAndUpdate is atomic so two
// relays never claim the same event within a lease.
func (r *repoMongo) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Event, error) {
	filter := bson.M{"status": string(StatusPending), "next_attempt_at": bson.M{"$lte": now}}
	update := bson.M{"$set": bson.M{"next_attempt_at": now.Add(lease)}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var events []*Event
	for len(events) < limit {
		var d eventDoc
		err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
		if docstore.IsNoDocuments(err) {
			break
		}
		if err != nil {
			return events, fmt.Errorf("claim outbox event: %w", err)
		}
		e, err := d.event()
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *repoMongo) Update(ctx context.Context, e *Event) error {
	d := toEventDoc(e)
	_, err := r.coll.UpdateByID(ctx, d.ID, bson.M{"$set": bson.M{
		"status":          d.Status,
		"attempts":        d.Attempts,
		"next_attempt_at": d.NextAttemptAt,
		"last_error":      d.LastError,
		"delivered_at":    d.DeliveredAt,
	}})
	return err
}

func (r *repoMongo) DeleteOld(ctx context.Context, before time.Time, statuses []Status) (int64, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	res, err := r.coll.DeleteMany(ctx, bson.M{
		"created_at": bson.M{"$lt": before},
		"status":     bson.M{"$in": names},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *repoMongo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	cur, err := r.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	counts := make(map[Status]int)
	for cur.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		counts[Status(row.ID)] = row.Count
	}
	return counts, cur.Err()
}
