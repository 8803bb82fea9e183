package clinicalcase

import (
	"time"

	"github.com/google/uuid"
)

// Demographics are captured by the caregiver at registration.
type Demographics struct {
	PatientName  string `json:"patient_name"`
	DateOfBirth  string `json:"date_of_birth,omitempty"`
	Gender       string `json:"gender,omitempty"`
	GuardianName string `json:"guardian_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	Address      string `json:"address,omitempty"`
}

// Vitals is a free-text snapshot; values are recorded as entered.
type Vitals struct {
	Temperature      string `json:"temperature,omitempty"`
	HeartRate        string `json:"heart_rate,omitempty"`
	RespiratoryRate  string `json:"respiratory_rate,omitempty"`
	BloodPressure    string `json:"blood_pressure,omitempty"`
	OxygenSaturation string `json:"oxygen_saturation,omitempty"`
	Weight           string `json:"weight,omitempty"`
	Height           string `json:"height,omitempty"`
}

// Case is the shared clinical record. Status only changes through
// Transition and every write is checked against Version.
type Case struct {
	ID                       uuid.UUID    `db:"id" json:"id"`
	PatientID                string       `db:"patient_id" json:"patient_id"`
	HospitalID               string       `db:"hospital_id" json:"hospital_id"`
	Demographics             Demographics `db:"demographics" json:"demographics"`
	Vitals                   Vitals       `db:"vitals" json:"vitals"`
	MedicalHistory           string       `db:"medical_history" json:"medical_history"`
	Files                    []string     `db:"files" json:"files"`
	CaregiverID              string       `db:"caregiver_id" json:"caregiver_id"`
	CaregiverName            string       `db:"caregiver_name" json:"caregiver_name"`
	Status                   CaseStatus   `db:"status" json:"status"`
	Version                  int          `db:"version" json:"version"`
	CreatedAt                time.Time    `db:"created_at" json:"created_at"`
	RegisteredAt             time.Time    `db:"registered_at" json:"registered_at"`
	UpdatedAt                time.Time    `db:"updated_at" json:"updated_at"`
	LastFeedbackAt           *time.Time   `db:"last_feedback_at" json:"last_feedback_at,omitempty"`
	LastSpecialistFeedbackAt *time.Time   `db:"last_specialist_feedback_at" json:"last_specialist_feedback_at,omitempty"`
}

// Name is the label used in notifications and listings.
func (c *Case) Name() string {
	return c.Demographics.PatientName
}

// AddFiles appends urls not already on the case, keeping first-seen order.
// It reports how many were added.
func (c *Case) AddFiles(urls []string) int {
	seen := make(map[string]bool, len(c.Files)+len(urls))
	for _, f := range c.Files {
		seen[f] = true
	}
	added := 0
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		c.Files = append(c.Files, u)
		added++
	}
	return added
}

// FeedbackEntry is an immutable doctor note on a case.
type FeedbackEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	CaseID     uuid.UUID `db:"case_id" json:"case_id"`
	Note       string    `db:"note" json:"note"`
	DoctorID   string    `db:"doctor_id" json:"doctor_id"`
	DoctorName string    `db:"doctor_name" json:"doctor_name"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type TestRequestStatus string

const (
	TestPending          TestRequestStatus = "Pending"
	TestFulfilled        TestRequestStatus = "Fulfilled"
	TestReviewedByDoctor TestRequestStatus = "Reviewed by Doctor"
)

// TestRequest tracks a test ordered by a doctor and fulfilled by the caregiver.
type TestRequest struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	CaseID          uuid.UUID         `db:"case_id" json:"case_id"`
	TestName        string            `db:"test_name" json:"test_name"`
	Reason          string            `db:"reason" json:"reason"`
	Status          TestRequestStatus `db:"status" json:"status"`
	RequestedByID   string            `db:"requested_by_id" json:"requested_by_id"`
	RequestedByName string            `db:"requested_by_name" json:"requested_by_name"`
	RequestedAt     time.Time         `db:"requested_at" json:"requested_at"`
	ResultNotes     string            `db:"result_notes" json:"result_notes,omitempty"`
	ResultFiles     []string          `db:"result_files" json:"result_files,omitempty"`
	FulfilledAt     *time.Time        `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
	FulfilledByID   string            `db:"fulfilled_by_id" json:"fulfilled_by_id,omitempty"`
	FulfilledByName string            `db:"fulfilled_by_name" json:"fulfilled_by_name,omitempty"`
	ReviewNotes     string            `db:"review_notes" json:"review_notes,omitempty"`
	ReviewedAt      *time.Time        `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

type ConsultationStatus string

const (
	ConsultationPending          ConsultationStatus = "Pending Specialist Review"
	ConsultationFeedbackProvided ConsultationStatus = "Feedback Provided by Specialist"
	ConsultationArchived         ConsultationStatus = "Archived"
)

// ConsultationRequest asks a specialist to review a case.
type ConsultationRequest struct {
	ID                 uuid.UUID          `db:"id" json:"id"`
	CaseID             uuid.UUID          `db:"case_id" json:"case_id"`
	RequestedByID      string             `db:"requested_by_id" json:"requested_by_id"`
	RequestedByName    string             `db:"requested_by_name" json:"requested_by_name"`
	PatientName        string             `db:"patient_name" json:"patient_name"`
	Details            string             `db:"details" json:"details"`
	Status             ConsultationStatus `db:"status" json:"status"`
	RequestedAt        time.Time          `db:"requested_at" json:"requested_at"`
	SpecialistID       string             `db:"specialist_id" json:"specialist_id,omitempty"`
	SpecialistName     string             `db:"specialist_name" json:"specialist_name,omitempty"`
	SpecialistFeedback string             `db:"specialist_feedback" json:"specialist_feedback,omitempty"`
	FeedbackAt         *time.Time         `db:"feedback_at" json:"feedback_at,omitempty"`
	ArchivedAt         *time.Time         `db:"archived_at" json:"archived_at,omitempty"`
}

// CaseFilter narrows List. Empty fields match everything.
type CaseFilter struct {
	CaregiverID string
	Status      CaseStatus
}

// Actor identifies who performs a workflow step. Names are snapshotted
// onto the entries they write.
type Actor struct {
	ID   string
	Name string
}
