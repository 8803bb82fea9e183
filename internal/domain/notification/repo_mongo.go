package notification

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

const collection = "notifications"

type notificationDoc struct {
	ID          string     `bson:"_id"`
	RecipientID string     `bson:"recipient_id"`
	Type        string     `bson:"type"`
	Message     string     `bson:"message"`
	CaseID      string     `bson:"case_id"`
	CaseName    string     `bson:"case_name"`
	EntryID     string     `bson:"entry_id"`
	IsRead      bool       `bson:"is_read"`
	ReadAt      *time.Time `bson:"read_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
}

func (d notificationDoc) notification() *Notification {
	id, _ := uuid.Parse(d.ID)
	caseID, _ := uuid.Parse(d.CaseID)
	entryID, _ := uuid.Parse(d.EntryID)
	n := &Notification{
		ID: id, RecipientID: d.RecipientID, Type: Type(d.Type), Message: d.Message,
		CaseID: caseID, CaseName: d.CaseName, EntryID: entryID,
		IsRead: d.IsRead, CreatedAt: d.CreatedAt.UTC(),
	}
	if d.ReadAt != nil {
		t := d.ReadAt.UTC()
		n.ReadAt = &t
	}
	return n
}

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(db *mongo.Database) Repository {
	return &repoMongo{coll: db.Collection(collection)}
}

// EnsureIndexesMongo creates the recipient listing and dedup indexes.
func EnsureIndexesMongo(ctx context.Context, db *mongo.Database) error {
	return docstore.EnsureIndexes(ctx, db, collection,
		mongo.IndexModel{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "is_read", Value: 1}}},
		mongo.IndexModel{
			Keys:    bson.D{{Key: "entry_id", Value: 1}, {Key: "type", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	)
}

func (r *repoMongo) Upsert(ctx context.Context, n *Notification) (bool, error) {
	d := notificationDoc{
		ID: n.ID.String(), RecipientID: n.RecipientID, Type: string(n.Type), Message: n.Message,
		CaseID: n.CaseID.String(), CaseName: n.CaseName, EntryID: n.EntryID.String(),
		IsRead: n.IsRead, ReadAt: n.ReadAt, CreatedAt: n.CreatedAt,
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": d.ID}, bson.M{"$setOnInsert": d}, options.Update().SetUpsert(true))
	if docstore.IsDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert notification: %w", err)
	}
	return res.UpsertedCount == 1, nil
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	var d notificationDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if docstore.IsNoDocuments(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.notification(), nil
}

func (r *repoMongo) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	filter := bson.M{"recipient_id": recipientID}
	if unreadOnly {
		filter["is_read"] = false
	}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var items []*Notification
	for cur.Next(ctx) {
		var d notificationDoc
		if err := cur.Decode(&d); err != nil {
			return nil, 0, err
		}
		items = append(items, d.notification())
	}
	return items, int(total), cur.Err()
}

func (r *repoMongo) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"recipient_id": recipientID, "is_read": false})
	return int(n), err
}

func (r *repoMongo) MarkRead(ctx context.Context, id uuid.UUID, recipientID string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id.String(), "recipient_id": recipientID}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id.String(), "recipient_id": recipientID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}})
	if err != nil {
		return false, err
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	n, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *repoMongo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	res, err := r.coll.UpdateMany(ctx, bson.M{"recipient_id": recipientID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}})
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}
