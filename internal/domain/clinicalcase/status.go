package clinicalcase

import (
	"errors"
	"fmt"
)

type CaseStatus string

const (
	StatusPendingDoctorReview           CaseStatus = "Pending Doctor Review"
	StatusReviewedByDoctor              CaseStatus = "Reviewed by Doctor"
	StatusPendingSpecialistConsultation CaseStatus = "Pending Specialist Consultation"
	StatusSpecialistFeedbackProvided    CaseStatus = "Specialist Feedback Provided"
)

var validStatuses = map[CaseStatus]bool{
	StatusPendingDoctorReview:           true,
	StatusReviewedByDoctor:              true,
	StatusPendingSpecialistConsultation: true,
	StatusSpecialistFeedbackProvided:    true,
}

func (s CaseStatus) Valid() bool {
	return validStatuses[s]
}

// CaseEvent is an actor action that may move the case status.
type CaseEvent string

const (
	EventCaseCreated           CaseEvent = "case_created"
	EventFeedbackAdded         CaseEvent = "feedback_added"
	EventConsultationRequested CaseEvent = "consultation_requested"
	EventSpecialistFeedback    CaseEvent = "specialist_feedback_provided"
)

var ErrInvalidTransition = errors.New("invalid case status transition")

// Transition returns the status that follows current when ev happens.
// Creation applies only to a case with no status yet; every other event
// applies from any valid status, including the one it leads to.
func Transition(current CaseStatus, ev CaseEvent) (CaseStatus, error) {
	if ev == EventCaseCreated {
		if current != "" {
			return "", fmt.Errorf("%w: case already has status %q", ErrInvalidTransition, current)
		}
		return StatusPendingDoctorReview, nil
	}

	if !current.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, current)
	}

	switch ev {
	case EventFeedbackAdded:
		return StatusReviewedByDoctor, nil
	case EventConsultationRequested:
		return StatusPendingSpecialistConsultation, nil
	case EventSpecialistFeedback:
		return StatusSpecialistFeedbackProvided, nil
	default:
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
}
