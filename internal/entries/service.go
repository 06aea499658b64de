package entries

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tact/internal/domain"
	"tact/internal/storage/sqlite"
)

var (
	ErrEntryLocked      = errors.New("entry is locked")
	ErrInvalidRuleScope = domain.ErrRuleScope
	ErrEmptyInput       = errors.New("entry text is empty")
	ErrEmptyRule        = errors.New("context rule content is empty")
	ErrInvalidStatus    = errors.New("invalid entry status")
	ErrInvalidDuration  = errors.New("duration must be positive")
)

// DocumentEmbedder embeds rule content before it is stored.
type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, content string) ([]float32, error)
}

// Service is the human-facing side of entries and context rules. The worker
// owns the automatic path; everything here is an explicit operator action.
type Service struct {
	store    *sqlite.Store
	embedder DocumentEmbedder
	now      func() time.Time
}

// NewService wires the store and an optional embedder. Without an embedder
// rules are stored unembedded and left to the backfill job.
func NewService(store *sqlite.Store, embedder DocumentEmbedder) *Service {
	return &Service{store: store, embedder: embedder, now: time.Now}
}

// Create queues text for parsing. entryDate defaults to today.
func (s *Service) Create(ctx context.Context, text string, entryDate *time.Time) (domain.WorkRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.WorkRecord{}, ErrEmptyInput
	}
	date := s.today()
	if entryDate != nil {
		date = dateOnly(*entryDate)
	}
	rec := domain.WorkRecord{UserInput: text, EntryDate: &date}
	if err := s.store.CreateEntry(ctx, &rec); err != nil {
		return domain.WorkRecord{}, err
	}
	log.Printf("entries created entry=%s date=%s", rec.ID, date.Format(time.DateOnly))
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.WorkRecord, error) {
	return s.store.GetEntry(ctx, id)
}

func (s *Service) List(ctx context.Context, f sqlite.EntryFilter) ([]domain.WorkRecord, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	return s.store.ListEntries(ctx, f)
}

// EntryUpdate carries a human edit. Nil fields are left alone; an empty
// string clears an optional id or the description.
type EntryUpdate struct {
	UserInput       *string
	DurationMinutes *int
	WorkTypeID      *string
	TimeCodeID      *string
	Description     *string
	EntryDate       *time.Time
	Status          *domain.EntryStatus
	Locked          *bool
}

func (u EntryUpdate) empty() bool {
	return u.UserInput == nil && u.DurationMinutes == nil && u.WorkTypeID == nil &&
		u.TimeCodeID == nil && u.Description == nil && u.EntryDate == nil &&
		u.Status == nil && u.Locked == nil
}

// corrects reports whether the edit touches the record's content. Toggling
// the lock alone is not a correction worth learning from.
func (u EntryUpdate) corrects() bool {
	return u.UserInput != nil || u.DurationMinutes != nil || u.WorkTypeID != nil ||
		u.TimeCodeID != nil || u.Description != nil || u.EntryDate != nil || u.Status != nil
}

func (u EntryUpdate) unlocks() bool {
	return u.Locked != nil && !*u.Locked
}

// Update applies a human correction. Any edit marks the record manually
// corrected. Unless the edit only toggles the lock, a record that ends up
// with a time code also gets a context rule so later parses learn from it,
// including a status-only approval of the parser's own categorization.
func (s *Service) Update(ctx context.Context, id string, upd EntryUpdate) (domain.WorkRecord, error) {
	if err := s.validateUpdate(ctx, upd); err != nil {
		return domain.WorkRecord{}, err
	}

	var rec domain.WorkRecord
	err := s.store.WithTx(ctx, func(tx *sqlite.Store) error {
		var err error
		rec, err = tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if upd.empty() {
			return nil
		}
		if rec.Locked && !upd.unlocks() {
			return fmt.Errorf("entry %s: %w", id, ErrEntryLocked)
		}
		applyUpdate(&rec, upd)
		now := s.now().UTC()
		rec.ManuallyCorrected = true
		rec.CorrectedAt = &now
		return tx.UpdateEntry(ctx, &rec)
	})
	if err != nil {
		return domain.WorkRecord{}, err
	}
	if upd.empty() {
		return rec, nil
	}
	log.Printf("entries corrected entry=%s status=%s locked=%t", rec.ID, rec.Status, rec.Locked)

	if upd.corrects() && rec.TimeCodeID != nil {
		if _, err := s.learnFromCorrection(ctx, rec); err != nil {
			log.Printf("entries learning rule failed entry=%s: %v", rec.ID, err)
		}
	}
	return rec, nil
}

func (s *Service) validateUpdate(ctx context.Context, upd EntryUpdate) error {
	if upd.UserInput != nil && strings.TrimSpace(*upd.UserInput) == "" {
		return ErrEmptyInput
	}
	if upd.DurationMinutes != nil && *upd.DurationMinutes <= 0 {
		return ErrInvalidDuration
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *upd.Status)
	}
	if upd.TimeCodeID != nil && *upd.TimeCodeID != "" {
		if _, err := s.store.GetTimeCode(ctx, *upd.TimeCodeID); err != nil {
			return err
		}
	}
	if upd.WorkTypeID != nil && *upd.WorkTypeID != "" {
		if _, err := s.store.GetWorkType(ctx, *upd.WorkTypeID); err != nil {
			return err
		}
	}
	return nil
}

func applyUpdate(rec *domain.WorkRecord, upd EntryUpdate) {
	if upd.UserInput != nil {
		rec.UserInput = strings.TrimSpace(*upd.UserInput)
	}
	if upd.DurationMinutes != nil {
		v := *upd.DurationMinutes
		rec.DurationMinutes = &v
	}
	if upd.WorkTypeID != nil {
		rec.WorkTypeID = optional(*upd.WorkTypeID)
	}
	if upd.TimeCodeID != nil {
		rec.TimeCodeID = optional(*upd.TimeCodeID)
	}
	if upd.Description != nil {
		rec.ParsedDescription = optional(*upd.Description)
	}
	if upd.EntryDate != nil {
		d := dateOnly(*upd.EntryDate)
		rec.EntryDate = &d
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.Locked != nil {
		rec.Locked = *upd.Locked
	}
}

// Reparse clears everything derived from the input and queues the entry
// again, whatever its prior state. The lock guards human field edits only
// and survives the reset.
func (s *Service) Reparse(ctx context.Context, id string) (domain.WorkRecord, error) {
	var rec domain.WorkRecord
	err := s.store.WithTx(ctx, func(tx *sqlite.Store) error {
		var err error
		rec, err = tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		rec.ResetForReparse()
		return tx.UpdateEntry(ctx, &rec)
	})
	if err != nil {
		return domain.WorkRecord{}, err
	}
	log.Printf("entries reparse queued entry=%s", rec.ID)
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	log.Printf("entries deleted entry=%s", id)
	return nil
}

// CorrectionRuleContent summarizes a corrected entry as a context rule.
func CorrectionRuleContent(rec domain.WorkRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entry %q was categorized as time code %s", rec.UserInput, derefOr(rec.TimeCodeID, "none"))

	var details []string
	if rec.WorkTypeID != nil {
		details = append(details, "work type "+*rec.WorkTypeID)
	}
	if rec.DurationMinutes != nil {
		details = append(details, fmt.Sprintf("%d minutes", *rec.DurationMinutes))
	}
	if len(details) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(details, ", "))
	}
	if rec.ParsedDescription != nil && *rec.ParsedDescription != "" {
		fmt.Fprintf(&b, ": %s", *rec.ParsedDescription)
	}
	return b.String()
}

func (s *Service) learnFromCorrection(ctx context.Context, rec domain.WorkRecord) (domain.ContextRule, error) {
	rule, err := s.AddRule(ctx, "", *rec.TimeCodeID, CorrectionRuleContent(rec))
	if err != nil {
		return rule, err
	}
	log.Printf("entries learned rule=%s entry=%s time_code=%s", rule.ID, rec.ID, *rec.TimeCodeID)
	return rule, nil
}

func (s *Service) today() time.Time {
	return dateOnly(s.now())
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
