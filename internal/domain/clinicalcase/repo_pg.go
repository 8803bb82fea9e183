package clinicalcase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/platform/outbox"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// NewStorePG wires every case repository to Postgres.
func NewStorePG(pool *pgxpool.Pool) *Store {
	return &Store{
		Tx:            db.NewTransactor(pool),
		Cases:         &caseRepoPG{pool: pool},
		Feedback:      &feedbackRepoPG{pool: pool},
		TestRequests:  &testRequestRepoPG{pool: pool},
		Consultations: &consultationRepoPG{pool: pool},
		Outbox:        outbox.NewRepoPG(pool),
	}
}

// =========== Case Repository ===========

type caseRepoPG struct{ pool *pgxpool.Pool }

const caseCols = `id, patient_id, hospital_id, demographics, vitals, medical_history, files,
	caregiver_id, caregiver_name, status, version, created_at, registered_at, updated_at,
	last_feedback_at, last_specialist_feedback_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.PatientID, &c.HospitalID, &c.Demographics, &c.Vitals,
		&c.MedicalHistory, &c.Files, &c.CaregiverID, &c.CaregiverName, &c.Status, &c.Version,
		&c.CreatedAt, &c.RegisteredAt, &c.UpdatedAt, &c.LastFeedbackAt, &c.LastSpecialistFeedbackAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO cases (`+caseCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		c.ID, c.PatientID, c.HospitalID, c.Demographics, c.Vitals, c.MedicalHistory,
		nonNil(c.Files), c.CaregiverID, c.CaregiverName, c.Status, c.Version,
		c.CreatedAt, c.RegisteredAt, c.UpdatedAt, c.LastFeedbackAt, c.LastSpecialistFeedbackAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "patient_id") {
		return ErrDuplicatePatientID
	}
	return err
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id = $1`, id))
}

func (r *caseRepoPG) Update(ctx context.Context, c *Case) error {
	conn := connFor(ctx, r.pool)
	tag, err := conn.Exec(ctx, `
		UPDATE cases SET demographics=$3, vitals=$4, medical_history=$5, files=$6, status=$7,
			updated_at=$8, last_feedback_at=$9, last_specialist_feedback_at=$10, version = version + 1
		WHERE id = $1 AND version = $2`,
		c.ID, c.Version, c.Demographics, c.Vitals, c.MedicalHistory, nonNil(c.Files), c.Status,
		c.UpdatedAt, c.LastFeedbackAt, c.LastSpecialistFeedbackAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	c.Version++
	return nil
}

func (r *caseRepoPG) List(ctx context.Context, f CaseFilter, limit, offset int) ([]*Case, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if f.CaregiverID != "" {
		args = append(args, f.CaregiverID)
		where = append(where, fmt.Sprintf("caregiver_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")
	conn := connFor(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM cases WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT `+caseCols+` FROM cases WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// =========== Feedback Repository ===========

type feedbackRepoPG struct{ pool *pgxpool.Pool }

const feedbackCols = `id, case_id, note, doctor_id, doctor_name, created_at`

func (r *feedbackRepoPG) Create(ctx context.Context, f *FeedbackEntry) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO feedback_entries (`+feedbackCols+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		f.ID, f.CaseID, f.Note, f.DoctorID, f.DoctorName, f.CreatedAt)
	return err
}

func (r *feedbackRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*FeedbackEntry, int, error) {
	conn := connFor(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM feedback_entries WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+feedbackCols+` FROM feedback_entries WHERE case_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, caseID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*FeedbackEntry
	for rows.Next() {
		var f FeedbackEntry
		if err := rows.Scan(&f.ID, &f.CaseID, &f.Note, &f.DoctorID, &f.DoctorName, &f.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &f)
	}
	return items, total, rows.Err()
}

// =========== Test Request Repository ===========

type testRequestRepoPG struct{ pool *pgxpool.Pool }

const testRequestCols = `id, case_id, test_name, reason, status, requested_by_id, requested_by_name,
	requested_at, result_notes, result_files, fulfilled_at, fulfilled_by_id, fulfilled_by_name,
	review_notes, reviewed_at`

func scanTestRequest(row pgx.Row) (*TestRequest, error) {
	var t TestRequest
	err := row.Scan(&t.ID, &t.CaseID, &t.TestName, &t.Reason, &t.Status, &t.RequestedByID,
		&t.RequestedByName, &t.RequestedAt, &t.ResultNotes, &t.ResultFiles, &t.FulfilledAt,
		&t.FulfilledByID, &t.FulfilledByName, &t.ReviewNotes, &t.ReviewedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *testRequestRepoPG) Create(ctx context.Context, t *TestRequest) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO test_requests (`+testRequestCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.ID, t.CaseID, t.TestName, t.Reason, t.Status, t.RequestedByID, t.RequestedByName,
		t.RequestedAt, t.ResultNotes, nonNil(t.ResultFiles), t.FulfilledAt, t.FulfilledByID,
		t.FulfilledByName, t.ReviewNotes, t.ReviewedAt)
	return err
}

func (r *testRequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	return scanTestRequest(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+testRequestCols+` FROM test_requests WHERE id = $1`, id))
}

func (r *testRequestRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*TestRequest, int, error) {
	conn := connFor(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM test_requests WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+testRequestCols+` FROM test_requests WHERE case_id = $1
		ORDER BY requested_at DESC LIMIT $2 OFFSET $3`, caseID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*TestRequest
	for rows.Next() {
		t, err := scanTestRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *testRequestRepoPG) UpdateIf(ctx context.Context, t *TestRequest, expected TestRequestStatus) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE test_requests SET status=$3, result_notes=$4, result_files=$5, fulfilled_at=$6,
			fulfilled_by_id=$7, fulfilled_by_name=$8, review_notes=$9, reviewed_at=$10
		WHERE id = $1 AND status = $2`,
		t.ID, expected, t.Status, t.ResultNotes, nonNil(t.ResultFiles), t.FulfilledAt,
		t.FulfilledByID, t.FulfilledByName, t.ReviewNotes, t.ReviewedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// =========== Consultation Repository ===========

type consultationRepoPG struct{ pool *pgxpool.Pool }

const consultationCols = `id, case_id, requested_by_id, requested_by_name, patient_name, details,
	status, requested_at, specialist_id, specialist_name, specialist_feedback, feedback_at, archived_at`

func scanConsultation(row pgx.Row) (*ConsultationRequest, error) {
	var c ConsultationRequest
	err := row.Scan(&c.ID, &c.CaseID, &c.RequestedByID, &c.RequestedByName, &c.PatientName,
		&c.Details, &c.Status, &c.RequestedAt, &c.SpecialistID, &c.SpecialistName,
		&c.SpecialistFeedback, &c.FeedbackAt, &c.ArchivedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *consultationRepoPG) Create(ctx context.Context, c *ConsultationRequest) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO consultation_requests (`+consultationCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.CaseID, c.RequestedByID, c.RequestedByName, c.PatientName, c.Details, c.Status,
		c.RequestedAt, c.SpecialistID, c.SpecialistName, c.SpecialistFeedback, c.FeedbackAt, c.ArchivedAt)
	return err
}

func (r *consultationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ConsultationRequest, error) {
	return scanConsultation(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultation_requests WHERE id = $1`, id))
}

func (r *consultationRepoPG) list(ctx context.Context, where, order string, arg interface{}, limit, offset int) ([]*ConsultationRequest, int, error) {
	conn := connFor(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM consultation_requests WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+consultationCols+` FROM consultation_requests WHERE `+where+
		` ORDER BY `+order+` LIMIT $2 OFFSET $3`, arg, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ConsultationRequest
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *consultationRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*ConsultationRequest, int, error) {
	return r.list(ctx, "case_id = $1", "requested_at DESC", caseID, limit, offset)
}

func (r *consultationRepoPG) ListByStatus(ctx context.Context, status ConsultationStatus, limit, offset int) ([]*ConsultationRequest, int, error) {
	return r.list(ctx, "status = $1", "requested_at ASC", status, limit, offset)
}

func (r *consultationRepoPG) UpdateIf(ctx context.Context, c *ConsultationRequest, expected ConsultationStatus) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE consultation_requests SET status=$3, specialist_id=$4, specialist_name=$5,
			specialist_feedback=$6, feedback_at=$7, archived_at=$8
		WHERE id = $1 AND status = $2`,
		c.ID, expected, c.Status, c.SpecialistID, c.SpecialistName, c.SpecialistFeedback,
		c.FeedbackAt, c.ArchivedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}
