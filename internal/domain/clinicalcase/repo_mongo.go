package clinicalcase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/caseflow/caseflow/internal/platform/docstore"
	"github.com/caseflow/caseflow/internal/platform/outbox"
)

const (
	casesCollection         = "cases"
	feedbackCollection      = "feedback_entries"
	testRequestCollection   = "test_requests"
	consultationsCollection = "consultation_requests"
)

// NewStoreMongo wires every case repository to MongoDB. The database must
// belong to a replica set for batches to be atomic.
func NewStoreMongo(db *mongo.Database) *Store {
	return &Store{
		Tx:            docstore.NewTransactor(db.Client()),
		Cases:         &caseRepoMongo{coll: db.Collection(casesCollection)},
		Feedback:      &feedbackRepoMongo{coll: db.Collection(feedbackCollection)},
		TestRequests:  &testRequestRepoMongo{coll: db.Collection(testRequestCollection)},
		Consultations: &consultationRepoMongo{coll: db.Collection(consultationsCollection)},
		Outbox:        outbox.NewRepoMongo(db),
	}
}

// EnsureIndexesMongo creates the unique and listing indexes the
// repositories rely on.
func EnsureIndexesMongo(ctx context.Context, db *mongo.Database) error {
	byCase := mongo.IndexModel{Keys: bson.D{{Key: "case_id", Value: 1}}}
	if err := docstore.EnsureIndexes(ctx, db, casesCollection,
		mongo.IndexModel{Keys: bson.D{{Key: "patient_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		mongo.IndexModel{Keys: bson.D{{Key: "caregiver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}}},
	); err != nil {
		return err
	}
	if err := docstore.EnsureIndexes(ctx, db, feedbackCollection, byCase); err != nil {
		return err
	}
	if err := docstore.EnsureIndexes(ctx, db, testRequestCollection, byCase); err != nil {
		return err
	}
	return docstore.EnsureIndexes(ctx, db, consultationsCollection, byCase,
		mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "requested_at", Value: 1}}},
	)
}

func parseID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func findOptions(sortField string, dir, limit, offset int) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: dir}}).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}

// findAll runs a counted, paged query and decodes each document with conv.
func findAll[D any, T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions, conv func(D) *T) ([]*T, int, error) {
	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var items []*T
	for cur.Next(ctx) {
		var d D
		if err := cur.Decode(&d); err != nil {
			return nil, 0, err
		}
		items = append(items, conv(d))
	}
	return items, int(total), cur.Err()
}

// =========== Case Repository ===========

type caseDoc struct {
	ID                       string       `bson:"_id"`
	PatientID                string       `bson:"patient_id"`
	HospitalID               string       `bson:"hospital_id"`
	Demographics             Demographics `bson:"demographics"`
	Vitals                   Vitals       `bson:"vitals"`
	MedicalHistory           string       `bson:"medical_history"`
	Files                    []string     `bson:"files"`
	CaregiverID              string       `bson:"caregiver_id"`
	CaregiverName            string       `bson:"caregiver_name"`
	Status                   string       `bson:"status"`
	Version                  int          `bson:"version"`
	CreatedAt                time.Time    `bson:"created_at"`
	RegisteredAt             time.Time    `bson:"registered_at"`
	UpdatedAt                time.Time    `bson:"updated_at"`
	LastFeedbackAt           *time.Time   `bson:"last_feedback_at,omitempty"`
	LastSpecialistFeedbackAt *time.Time   `bson:"last_specialist_feedback_at,omitempty"`
}

func toCaseDoc(c *Case) caseDoc {
	return caseDoc{
		ID: c.ID.String(), PatientID: c.PatientID, HospitalID: c.HospitalID,
		Demographics: c.Demographics, Vitals: c.Vitals, MedicalHistory: c.MedicalHistory,
		Files: nonNil(c.Files), CaregiverID: c.CaregiverID, CaregiverName: c.CaregiverName,
		Status: string(c.Status), Version: c.Version,
		CreatedAt: c.CreatedAt, RegisteredAt: c.RegisteredAt, UpdatedAt: c.UpdatedAt,
		LastFeedbackAt: c.LastFeedbackAt, LastSpecialistFeedbackAt: c.LastSpecialistFeedbackAt,
	}
}

func (d caseDoc) toCase() *Case {
	return &Case{
		ID: parseID(d.ID), PatientID: d.PatientID, HospitalID: d.HospitalID,
		Demographics: d.Demographics, Vitals: d.Vitals, MedicalHistory: d.MedicalHistory,
		Files: d.Files, CaregiverID: d.CaregiverID, CaregiverName: d.CaregiverName,
		Status: CaseStatus(d.Status), Version: d.Version,
		CreatedAt: d.CreatedAt.UTC(), RegisteredAt: d.RegisteredAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
		LastFeedbackAt: utcPtr(d.LastFeedbackAt), LastSpecialistFeedbackAt: utcPtr(d.LastSpecialistFeedbackAt),
	}
}

type caseRepoMongo struct{ coll *mongo.Collection }

func (r *caseRepoMongo) Create(ctx context.Context, c *Case) error {
	_, err := r.coll.InsertOne(ctx, toCaseDoc(c))
	if docstore.IsDuplicateKey(err) {
		return ErrDuplicatePatientID
	}
	return err
}

func (r *caseRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	var d caseDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if docstore.IsNoDocuments(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.toCase(), nil
}

func (r *caseRepoMongo) Update(ctx context.Context, c *Case) error {
	d := toCaseDoc(c)
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": d.ID, "version": c.Version}, bson.M{
		"$set": bson.M{
			"demographics":                d.Demographics,
			"vitals":                      d.Vitals,
			"medical_history":             d.MedicalHistory,
			"files":                       d.Files,
			"status":                      d.Status,
			"updated_at":                  d.UpdatedAt,
			"last_feedback_at":            d.LastFeedbackAt,
			"last_specialist_feedback_at": d.LastSpecialistFeedbackAt,
		},
		"$inc": bson.M{"version": 1},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": d.ID})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	c.Version++
	return nil
}

func (r *caseRepoMongo) List(ctx context.Context, f CaseFilter, limit, offset int) ([]*Case, int, error) {
	filter := bson.M{}
	if f.CaregiverID != "" {
		filter["caregiver_id"] = f.CaregiverID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	return findAll(ctx, r.coll, filter, findOptions("created_at", -1, limit, offset), caseDoc.toCase)
}

// =========== Feedback Repository ===========

type feedbackDoc struct {
	ID         string    `bson:"_id"`
	CaseID     string    `bson:"case_id"`
	Note       string    `bson:"note"`
	DoctorID   string    `bson:"doctor_id"`
	DoctorName string    `bson:"doctor_name"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (d feedbackDoc) toEntry() *FeedbackEntry {
	return &FeedbackEntry{
		ID: parseID(d.ID), CaseID: parseID(d.CaseID), Note: d.Note,
		DoctorID: d.DoctorID, DoctorName: d.DoctorName, CreatedAt: d.CreatedAt.UTC(),
	}
}

type feedbackRepoMongo struct{ coll *mongo.Collection }

func (r *feedbackRepoMongo) Create(ctx context.Context, f *FeedbackEntry) error {
	_, err := r.coll.InsertOne(ctx, feedbackDoc{
		ID: f.ID.String(), CaseID: f.CaseID.String(), Note: f.Note,
		DoctorID: f.DoctorID, DoctorName: f.DoctorName, CreatedAt: f.CreatedAt,
	})
	return err
}

func (r *feedbackRepoMongo) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*FeedbackEntry, int, error) {
	return findAll(ctx, r.coll, bson.M{"case_id": caseID.String()},
		findOptions("created_at", -1, limit, offset), feedbackDoc.toEntry)
}

// =========== Test Request Repository ===========

type testRequestDoc struct {
	ID              string     `bson:"_id"`
	CaseID          string     `bson:"case_id"`
	TestName        string     `bson:"test_name"`
	Reason          string     `bson:"reason"`
	Status          string     `bson:"status"`
	RequestedByID   string     `bson:"requested_by_id"`
	RequestedByName string     `bson:"requested_by_name"`
	RequestedAt     time.Time  `bson:"requested_at"`
	ResultNotes     string     `bson:"result_notes"`
	ResultFiles     []string   `bson:"result_files"`
	FulfilledAt     *time.Time `bson:"fulfilled_at,omitempty"`
	FulfilledByID   string     `bson:"fulfilled_by_id"`
	FulfilledByName string     `bson:"fulfilled_by_name"`
	ReviewNotes     string     `bson:"review_notes"`
	ReviewedAt      *time.Time `bson:"reviewed_at,omitempty"`
}

func toTestRequestDoc(t *TestRequest) testRequestDoc {
	return testRequestDoc{
		ID: t.ID.String(), CaseID: t.CaseID.String(), TestName: t.TestName, Reason: t.Reason,
		Status: string(t.Status), RequestedByID: t.RequestedByID, RequestedByName: t.RequestedByName,
		RequestedAt: t.RequestedAt, ResultNotes: t.ResultNotes, ResultFiles: nonNil(t.ResultFiles),
		FulfilledAt: t.FulfilledAt, FulfilledByID: t.FulfilledByID, FulfilledByName: t.FulfilledByName,
		ReviewNotes: t.ReviewNotes, ReviewedAt: t.ReviewedAt,
	}
}

func (d testRequestDoc) toTestRequest() *TestRequest {
	return &TestRequest{
		ID: parseID(d.ID), CaseID: parseID(d.CaseID), TestName: d.TestName, Reason: d.Reason,
		Status: TestRequestStatus(d.Status), RequestedByID: d.RequestedByID, RequestedByName: d.RequestedByName,
		RequestedAt: d.RequestedAt.UTC(), ResultNotes: d.ResultNotes, ResultFiles: d.ResultFiles,
		FulfilledAt: utcPtr(d.FulfilledAt), FulfilledByID: d.FulfilledByID, FulfilledByName: d.FulfilledByName,
		ReviewNotes: d.ReviewNotes, ReviewedAt: utcPtr(d.ReviewedAt),
	}
}

type testRequestRepoMongo struct{ coll *mongo.Collection }

func (r *testRequestRepoMongo) Create(ctx context.Context, t *TestRequest) error {
	_, err := r.coll.InsertOne(ctx, toTestRequestDoc(t))
	return err
}

func (r *testRequestRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	var d testRequestDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if docstore.IsNoDocuments(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.toTestRequest(), nil
}

func (r *testRequestRepoMongo) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*TestRequest, int, error) {
	return findAll(ctx, r.coll, bson.M{"case_id": caseID.String()},
		findOptions("requested_at", -1, limit, offset), testRequestDoc.toTestRequest)
}

func (r *testRequestRepoMongo) UpdateIf(ctx context.Context, t *TestRequest, expected TestRequestStatus) error {
	d := toTestRequestDoc(t)
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": d.ID, "status": string(expected)}, d)
	if err != nil {
		return fmt.Errorf("update test request: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrStatusConflict
	}
	return nil
}

// =========== Consultation Repository ===========

type consultationDoc struct {
	ID                 string     `bson:"_id"`
	CaseID             string     `bson:"case_id"`
	RequestedByID      string     `bson:"requested_by_id"`
	RequestedByName    string     `bson:"requested_by_name"`
	PatientName        string     `bson:"patient_name"`
	Details            string     `bson:"details"`
	Status             string     `bson:"status"`
	RequestedAt        time.Time  `bson:"requested_at"`
	SpecialistID       string     `bson:"specialist_id"`
	SpecialistName     string     `bson:"specialist_name"`
	SpecialistFeedback string     `bson:"specialist_feedback"`
	FeedbackAt         *time.Time `bson:"feedback_at,omitempty"`
	ArchivedAt         *time.Time `bson:"archived_at,omitempty"`
}

func toConsultationDoc(c *ConsultationRequest) consultationDoc {
	return consultationDoc{
		ID: c.ID.String(), CaseID: c.CaseID.String(), RequestedByID: c.RequestedByID,
		RequestedByName: c.RequestedByName, PatientName: c.PatientName, Details: c.Details,
		Status: string(c.Status), RequestedAt: c.RequestedAt, SpecialistID: c.SpecialistID,
		SpecialistName: c.SpecialistName, SpecialistFeedback: c.SpecialistFeedback,
		FeedbackAt: c.FeedbackAt, ArchivedAt: c.ArchivedAt,
	}
}

func (d consultationDoc) toConsultation() *ConsultationRequest {
	return &ConsultationRequest{
		ID: parseID(d.ID), CaseID: parseID(d.CaseID), RequestedByID: d.RequestedByID,
		RequestedByName: d.RequestedByName, PatientName: d.PatientName, Details: d.Details,
		Status: ConsultationStatus(d.Status), RequestedAt: d.RequestedAt.UTC(), SpecialistID: d.SpecialistID,
		SpecialistName: d.SpecialistName, SpecialistFeedback: d.SpecialistFeedback,
		FeedbackAt: utcPtr(d.FeedbackAt), ArchivedAt: utcPtr(d.ArchivedAt),
	}
}

type consultationRepoMongo struct{ coll *mongo.Collection }

func (r *consultationRepoMongo) Create(ctx context.Context, c *ConsultationRequest) error {
	_, err := r.coll.InsertOne(ctx, toConsultationDoc(c))
	return err
}

func (r *consultationRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*ConsultationRequest, error) {
	var d consultationDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if docstore.IsNoDocuments(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.toConsultation(), nil
}

func (r *consultationRepoMongo) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*ConsultationRequest, int, error) {
	return findAll(ctx, r.coll, bson.M{"case_id": caseID.String()},
		findOptions("requested_at", -1, limit, offset), consultationDoc.toConsultation)
}

func (r *consultationRepoMongo) ListByStatus(ctx context.Context, status ConsultationStatus, limit, offset int) ([]*ConsultationRequest, int, error) {
	return findAll(ctx, r.coll, bson.M{"status": string(status)},
		findOptions("requested_at", 1, limit, offset), consultationDoc.toConsultation)
}

func (r *consultationRepoMongo) UpdateIf(ctx context.Context, c *ConsultationRequest, expected ConsultationStatus) error {
	d := toConsultationDoc(c)
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": d.ID, "status": string(expected)}, d)
	if err != nil {
		return fmt.Errorf("update consultation request: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrStatusConflict
	}
	return nil
}
