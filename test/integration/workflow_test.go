package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	cc "github.com/caseflow/caseflow/internal/domain/clinicalcase"
	"github.com/caseflow/caseflow/internal/domain/consultation"
	"github.com/caseflow/caseflow/internal/domain/feedback"
	"github.com/caseflow/caseflow/internal/domain/notification"
	"github.com/caseflow/caseflow/internal/domain/testrequest"
	"github.com/caseflow/caseflow/internal/platform/outbox"
)

var (
	caregiver  = cc.Actor{ID: "cg-1", Name: "Grace Mensah"}
	doctor     = cc.Actor{ID: "doc-1", Name: "Dr. Okafor"}
	specialist = cc.Actor{ID: "sp-1", Name: "Dr. Lindqvist"}
)

type services struct {
	store    *cc.Store
	cases    *cc.Service
	feedback *feedback.Service
	tests    *testrequest.Service
	consults *consultation.Service
	notes    *notification.Service
	relay    *outbox.Relay
}

func newServices(t *testing.T, store *cc.Store, notes notification.Repository) *services {
	t.Helper()
	s := &services{store: store}
	var err error
	if s.cases, err = cc.NewService(store, "SGH"); err != nil {
		t.Fatal(err)
	}
	if s.feedback, err = feedback.NewService(store); err != nil {
		t.Fatal(err)
	}
	if s.tests, err = testrequest.NewService(store, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	if s.consults, err = consultation.NewService(store); err != nil {
		t.Fatal(err)
	}
	s.notes = notification.NewService(notes, nil, zerolog.Nop())
	s.relay = outbox.NewRelay(store.Outbox, notification.NewDispatcher(store.Cases, s.notes, zerolog.Nop()), zerolog.Nop())
	return s
}

func (s *services) newCase(t *testing.T) *cc.Case {
	t.Helper()
	c := &cc.Case{
		Demographics:  cc.Demographics{PatientName: "Amara Diallo"},
		CaregiverID:   caregiver.ID,
		CaregiverName: caregiver.Name,
		Files:         []string{"https://files.example/intake.pdf"},
	}
	if err := s.cases.CreateCase(context.Background(), c); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	return c
}

func (s *services) unread(t *testing.T, user string) int {
	t.Helper()
	n, err := s.notes.UnreadCount(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// runLifecycle walks one case through every workflow and checks statuses,
// sub-ledgers and notifications along the way.
func runLifecycle(t *testing.T, s *services) {
	ctx := context.Background()
	c := s.newCase(t)

	got, err := s.cases.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if got.Status != cc.StatusPendingDoctorReview || got.Version != 1 || got.PatientID == "" {
		t.Fatalf("unexpected new case %+v", got)
	}

	if _, _, err := s.feedback.Submit(ctx, c.ID, doctor, "increase fluids"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tr, err := s.tests.Create(ctx, c.ID, doctor, "CBC", "pallor")
	if err != nil {
		t.Fatalf("Create test request: %v", err)
	}
	s.relay.DeliverPending(ctx)
	if n := s.unread(t, caregiver.ID); n != 2 {
		t.Fatalf("expected 2 unread for caregiver, got %d", n)
	}

	_, updated, err := s.tests.Fulfil(ctx, c.ID, tr.ID, caregiver, "done", []string{"https://files.example/cbc.pdf", "https://files.example/intake.pdf"})
	if err != nil {
		t.Fatalf("Fulfil: %v", err)
	}
	if len(updated.Files) != 2 {
		t.Errorf("expected deduplicated files, got %v", updated.Files)
	}
	if _, _, err := s.tests.Fulfil(ctx, c.ID, tr.ID, caregiver, "again", nil); !errors.Is(err, cc.ErrStatusConflict) {
		t.Errorf("expected status conflict on second fulfil, got %v", err)
	}

	cr, after, err := s.consults.Request(ctx, c.ID, doctor, "persistent murmur")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if after.Status != cc.StatusPendingSpecialistConsultation {
		t.Errorf("unexpected status %q", after.Status)
	}
	_, after, err = s.consults.SubmitFeedback(ctx, c.ID, cr.ID, specialist, "echo recommended")
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if after.Status != cc.StatusSpecialistFeedbackProvided || after.LastSpecialistFeedbackAt == nil {
		t.Errorf("unexpected case after specialist feedback %+v", after)
	}
	if _, _, err := s.consults.SubmitFeedback(ctx, c.ID, cr.ID, specialist, "twice"); !errors.Is(err, cc.ErrStatusConflict) {
		t.Errorf("expected status conflict on second specialist feedback, got %v", err)
	}

	s.relay.DeliverPending(ctx)
	if n := s.unread(t, doctor.ID); n != 2 {
		t.Errorf("expected 2 unread for doctor, got %d", n)
	}

	counts, err := s.store.Outbox.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[outbox.StatusDelivered] != 4 || counts[outbox.StatusPending] != 0 {
		t.Errorf("unexpected outbox counts %v", counts)
	}

	final, err := s.cases.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	// create, feedback, test request, fulfil, consultation, specialist feedback
	if final.Version != 6 {
		t.Errorf("expected version 6, got %d", final.Version)
	}
}

// runConcurrentFeedback has several doctors race on one case; every entry
// must land and the version must count every write.
func runConcurrentFeedback(t *testing.T, s *services) {
	ctx := context.Background()
	s.store.MaxAttempts = 20
	c := s.newCase(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.feedback.Submit(ctx, c.ID, doctor, "note"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent submit: %v", err)
	}

	entries, total, err := s.feedback.List(ctx, c.ID, 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != writers || len(entries) != writers {
		t.Errorf("expected %d entries, got %d", writers, total)
	}
	got, _ := s.cases.GetCase(ctx, c.ID)
	if got.Version != 1+writers {
		t.Errorf("expected version %d, got %d", 1+writers, got.Version)
	}
}

func runStaleUpdate(t *testing.T, s *services) {
	ctx := context.Background()
	c := s.newCase(t)

	stale, err := s.store.Cases.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.feedback.Submit(ctx, c.ID, doctor, "first"); err != nil {
		t.Fatal(err)
	}
	stale.UpdatedAt = time.Now().UTC()
	if err := s.store.Cases.Update(ctx, stale); !errors.Is(err, cc.ErrVersionConflict) {
		t.Errorf("expected version conflict, got %v", err)
	}
}
