package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrRuleScope = errors.New("context rule must belong to exactly one of project or time code")

// ContextRule is a free-text categorization hint attached to a project or a
// time code. Embedding is nil until the rule has been embedded.
type ContextRule struct {
	ID         string
	ProjectID  *string
	TimeCodeID *string
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r ContextRule) ValidateScope() error {
	hasProject := r.ProjectID != nil && *r.ProjectID != ""
	hasTimeCode := r.TimeCodeID != nil && *r.TimeCodeID != ""
	if hasProject == hasTimeCode {
		return ErrRuleScope
	}
	return nil
}

// Source names the owner of the rule, e.g. "time_code:PROJ-001".
func (r ContextRule) Source() string {
	if r.TimeCodeID != nil && *r.TimeCodeID != "" {
		return fmt.Sprintf("time_code:%s", *r.TimeCodeID)
	}
	if r.ProjectID != nil && *r.ProjectID != "" {
		return fmt.Sprintf("project:%s", *r.ProjectID)
	}
	return "unscoped"
}

// RetrievedContext is a rule scored against one query. Never persisted.
type RetrievedContext struct {
	Rule       ContextRule
	Similarity float64
}
