package clinicalcase

import "github.com/google/uuid"

// Outbox topics emitted by the case workflows.
const (
	TopicFeedbackCreated      = "feedback.created"
	TopicTestRequestCreated   = "test_request.created"
	TopicTestRequestFulfilled = "test_request.fulfilled"
	TopicSpecialistFeedback   = "consultation.feedback_provided"
)

// EntryEvent is the outbox payload: a snapshot of the sub-ledger entry
// plus the case fields a consumer needs without another read.
type EntryEvent struct {
	CaseID       uuid.UUID            `json:"case_id"`
	CaseName     string               `json:"case_name"`
	Feedback     *FeedbackEntry       `json:"feedback,omitempty"`
	TestRequest  *TestRequest         `json:"test_request,omitempty"`
	Consultation *ConsultationRequest `json:"consultation,omitempty"`
}
