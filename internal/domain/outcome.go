package domain

// ParseContext is everything the generator sees besides the entry text.
type ParseContext struct {
	TimeCodes []CategorizationOption
	WorkTypes []CategorizationOption
	Retrieved []RetrievedContext
}

// ParseOutcome is the result of one generation call. When Error is set every
// other field is zero.
type ParseOutcome struct {
	DurationMinutes   *int
	WorkTypeID        *string
	TimeCodeID        *string
	ParsedDescription *string

	ConfidenceDuration float64
	ConfidenceWorkType float64
	ConfidenceTimeCode float64
	ConfidenceOverall  float64

	Notes *string
	Error string
}

func (o ParseOutcome) Failed() bool {
	return o.Error != ""
}

func FailedOutcome(msg string) ParseOutcome {
	return ParseOutcome{Error: msg}
}
