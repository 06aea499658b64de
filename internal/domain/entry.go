package domain

import "time"

type EntryStatus string

const (
	StatusPending     EntryStatus = "pending"
	StatusParsed      EntryStatus = "parsed"
	StatusNeedsReview EntryStatus = "needs_review"
	StatusFailed      EntryStatus = "failed"
)

func (s EntryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusParsed, StatusNeedsReview, StatusFailed:
		return true
	}
	return false
}

// WorkRecord is a free-text time entry together with whatever the parser
// (or a human) has derived from it. Nil pointers are unset fields.
type WorkRecord struct {
	ID        string
	UserInput string

	DurationMinutes   *int
	WorkTypeID        *string
	TimeCodeID        *string
	ParsedDescription *string
	EntryDate         *time.Time

	ConfidenceDuration *float64
	ConfidenceWorkType *float64
	ConfidenceTimeCode *float64
	ConfidenceOverall  *float64

	Status     EntryStatus
	ParseError *string
	ParseNotes *string

	ManuallyCorrected bool
	Locked            bool
	CorrectedAt       *time.Time

	CreatedAt time.Time
	ParsedAt  *time.Time
	UpdatedAt time.Time
}

// ResetForReparse clears everything the parser or a human derived from the
// input and puts the record back in the queue.
func (r *WorkRecord) ResetForReparse() {
	r.DurationMinutes = nil
	r.WorkTypeID = nil
	r.TimeCodeID = nil
	r.ParsedDescription = nil
	r.ConfidenceDuration = nil
	r.ConfidenceWorkType = nil
	r.ConfidenceTimeCode = nil
	r.ConfidenceOverall = nil
	r.Status = StatusPending
	r.ParseError = nil
	r.ParseNotes = nil
	r.ManuallyCorrected = false
	r.CorrectedAt = nil
	r.ParsedAt = nil
}
