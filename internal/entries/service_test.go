package entries

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tact/internal/domain"
	"tact/internal/storage/sqlite"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedDocument(ctx context.Context, content string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.6, 0.8}, nil
}

func newTestService(t *testing.T, emb DocumentEmbedder) (*Service, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "entries-test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.UpsertProject(ctx, domain.Project{ID: "alpha", Name: "Project Alpha", Active: true}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := st.UpsertTimeCode(ctx, domain.TimeCode{ID: "PROJ-001", ProjectID: "alpha", Name: "Alpha dev", Active: true}); err != nil {
		t.Fatalf("UpsertTimeCode failed: %v", err)
	}
	if err := st.UpsertWorkType(ctx, domain.WorkType{ID: "development", Name: "Development", Active: true}); err != nil {
		t.Fatalf("UpsertWorkType failed: %v", err)
	}

	svc := NewService(st, emb)
	svc.now = func() time.Time { return time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC) }
	return svc, st
}

func TestCreateDefaultsEntryDate(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "  2h dev on alpha ", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.Status != domain.StatusPending || rec.UserInput != "2h dev on alpha" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.EntryDate == nil || rec.EntryDate.Format(time.DateOnly) != "2026-03-04" {
		t.Fatalf("expected entry date today, got %v", rec.EntryDate)
	}

	explicit := time.Date(2026, 1, 2, 18, 0, 0, 0, time.UTC)
	rec, err = svc.Create(ctx, "meeting", &explicit)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.EntryDate.Format(time.DateOnly) != "2026-01-02" {
		t.Fatalf("expected explicit date, got %v", rec.EntryDate)
	}

	if _, err := svc.Create(ctx, "   ", nil); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if _, err := svc.List(context.Background(), sqlite.EntryFilter{Status: "done"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUpdateMarksCorrectedAndLearns(t *testing.T) {
	emb := &fakeEmbedder{}
	svc, st := newTestService(t, emb)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "2h coding on alpha", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	minutes := 120
	code := "PROJ-001"
	wt := "development"
	status := domain.StatusParsed
	updated, err := svc.Update(ctx, rec.ID, EntryUpdate{
		DurationMinutes: &minutes,
		TimeCodeID:      &code,
		WorkTypeID:      &wt,
		Status:          &status,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.ManuallyCorrected || updated.CorrectedAt == nil {
		t.Fatalf("expected correction flags, got %+v", updated)
	}
	if updated.Status != domain.StatusParsed || *updated.DurationMinutes != 120 {
		t.Fatalf("update not applied: %+v", updated)
	}

	rules, err := st.ListContextRules(ctx, sqlite.ContextRuleFilter{TimeCodeID: "PROJ-001"})
	if err != nil {
		t.Fatalf("ListContextRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected one learned rule, got %d", len(rules))
	}
	want := `Entry "2h coding on alpha" was categorized as time code PROJ-001 (work type development, 120 minutes)`
	if rules[0].Content != want {
		t.Fatalf("unexpected rule content:\n got: %s\nwant: %s", rules[0].Content, want)
	}
	if len(rules[0].Embedding) != 2 || emb.calls != 1 {
		t.Fatalf("expected rule embedded immediately, embedding=%v calls=%d", rules[0].Embedding, emb.calls)
	}
}

func TestStatusOnlyApprovalLearns(t *testing.T) {
	emb := &fakeEmbedder{}
	svc, st := newTestService(t, emb)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "standup with alpha team", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	minutes := 15
	code := "PROJ-001"
	rec.DurationMinutes = &minutes
	rec.TimeCodeID = &code
	rec.Status = domain.StatusNeedsReview
	if err := st.UpdateEntry(ctx, &rec); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}

	lock := true
	if _, err := svc.Update(ctx, rec.ID, EntryUpdate{Locked: &lock}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	unlock := false
	if _, err := svc.Update(ctx, rec.ID, EntryUpdate{Locked: &unlock}); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if emb.calls != 0 {
		t.Fatalf("lock toggles must not learn, embed calls=%d", emb.calls)
	}

	approved := domain.StatusParsed
	if _, err := svc.Update(ctx, rec.ID, EntryUpdate{Status: &approved}); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	rules, err := st.ListContextRules(ctx, sqlite.ContextRuleFilter{TimeCodeID: "PROJ-001"})
	if err != nil {
		t.Fatalf("ListContextRules failed: %v", err)
	}
	want := `Entry "standup with alpha team" was categorized as time code PROJ-001 (15 minutes)`
	if len(rules) != 1 || rules[0].Content != want {
		t.Fatalf("expected one learned rule %q, got %+v", want, rules)
	}
}

func TestUpdateWithoutTimeCodeDoesNotLearn(t *testing.T) {
	svc, st := newTestService(t, &fakeEmbedder{})
	ctx := context.Background()

	rec, _ := svc.Create(ctx, "call with client", nil)
	minutes := 30
	if _, err := svc.Update(ctx, rec.ID, EntryUpdate{DurationMinutes: &minutes}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	rules, err := st.ListContextRules(ctx, sqlite.ContextRuleFilter{})
	if err != nil {
		t.Fatalf("ListContextRules failed: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected no rules without a time code, got %d", len(rules))
	}
}

func TestUpdateValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	rec, _ := svc.Create(ctx, "something", nil)

	unknown := "NOPE"
	zero := 0
	bad := domain.EntryStatus("done")
	blank := " "
	tests := []struct {
		name string
		upd  EntryUpdate
		want error
	}{
		{name: "unknown time code", upd: EntryUpdate{TimeCodeID: &unknown}, want: sqlite.ErrNotFound},
		{name: "unknown work type", upd: EntryUpdate{WorkTypeID: &unknown}, want: sqlite.ErrNotFound},
		{name: "zero duration", upd: EntryUpdate{DurationMinutes: &zero}, want: ErrInvalidDuration},
		{name: "bad status", upd: EntryUpdate{Status: &bad}, want: ErrInvalidStatus},
		{name: "blank input", upd: EntryUpdate{UserInput: &blank}, want: ErrEmptyInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Update(ctx, rec.ID, tt.upd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := svc.Update(ctx, "missing", EntryUpdate{}); !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing entry, got %v", err)
	}
}

func TestLockedEntryRejectsEditsButNotReparse(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	rec, _ := svc.Create(ctx, "1h review", nil)

	lock := true
	if _, err := svc.Update(ctx, rec.ID, EntryUpdate{Locked: &lock}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	minutes := 60
	if _, err := svc.Update(ctx, rec.ID, EntryUpdate{DurationMinutes: &minutes}); !errors.Is(err, ErrEntryLocked) {
		t.Fatalf("expected ErrEntryLocked on edit, got %v", err)
	}
	reparsed, err := svc.Reparse(ctx, rec.ID)
	if err != nil {
		t.Fatalf("reparse of a locked entry failed: %v", err)
	}
	if reparsed.Status != domain.StatusPending || !reparsed.Locked {
		t.Fatalf("expected pending entry that stays locked, got %+v", reparsed)
	}

	unlock := false
	got, err := svc.Update(ctx, rec.ID, EntryUpdate{Locked: &unlock, DurationMinutes: &minutes})
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if got.Locked || *got.DurationMinutes != 60 {
		t.Fatalf("unexpected record after unlock: %+v", got)
	}
}

func TestReparseResetsRecord(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()
	rec, _ := svc.Create(ctx, "2h coding on alpha", nil)

	minutes := 120
	status := domain.StatusParsed
	if _, err := svc.Update(ctx, rec.ID, EntryUpdate{DurationMinutes: &minutes, Status: &status}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := svc.Reparse(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Reparse %d failed: %v", i, err)
		}
		if got.Status != domain.StatusPending || got.ManuallyCorrected || got.DurationMinutes != nil {
			t.Fatalf("reparse %d did not reset: %+v", i, got)
		}
	}

	stored, err := st.GetEntry(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if stored.Status != domain.StatusPending || stored.CorrectedAt != nil || stored.ConfidenceOverall != nil {
		t.Fatalf("stored record not reset: %+v", stored)
	}

	if _, err := svc.Reparse(ctx, "missing"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteEntry(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	rec, _ := svc.Create(ctx, "lunch", nil)

	if err := svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Get(ctx, rec.ID); !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.Delete(ctx, rec.ID); !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCorrectionRuleContent(t *testing.T) {
	code := "PROJ-001"
	desc := "Implemented login"
	rec := domain.WorkRecord{UserInput: "login work", TimeCodeID: &code, ParsedDescription: &desc}
	got := CorrectionRuleContent(rec)
	want := `Entry "login work" was categorized as time code PROJ-001: Implemented login`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestAddRuleScopeAndOwner(t *testing.T) {
	svc, _ := newTestService(t, &fakeEmbedder{})
	ctx := context.Background()

	tests := []struct {
		name       string
		projectID  string
		timeCodeID string
		content    string
		want       error
	}{
		{name: "both owners", projectID: "alpha", timeCodeID: "PROJ-001", content: "x", want: ErrInvalidRuleScope},
		{name: "no owner", content: "x", want: ErrInvalidRuleScope},
		{name: "empty content", projectID: "alpha", content: "  ", want: ErrEmptyRule},
		{name: "missing project", projectID: "beta", content: "x", want: sqlite.ErrNotFound},
		{name: "missing time code", timeCodeID: "PROJ-999", content: "x", want: sqlite.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.AddRule(ctx, tt.projectID, tt.timeCodeID, tt.content); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	rule, err := svc.AddRule(ctx, "alpha", "", "standups belong to alpha")
	if err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	if rule.Source() != "project:alpha" || rule.Embedding == nil {
		t.Fatalf("unexpected rule: %+v", rule)
	}
}

func TestRuleEmbeddingFailureLeavesRuleForBackfill(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("embedding server down")}
	svc, st := newTestService(t, emb)
	ctx := context.Background()

	rule, err := svc.AddRule(ctx, "", "PROJ-001", "code review is PROJ-001")
	if err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	if rule.Embedding != nil {
		t.Fatalf("expected no embedding")
	}
	pending, err := st.ListUnembeddedContextRules(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnembeddedContextRules failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != rule.ID {
		t.Fatalf("expected rule queued for backfill, got %+v", pending)
	}

	emb.err = nil
	updated, err := svc.UpdateRule(ctx, rule.ID, "code review and pairing are PROJ-001")
	if err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}
	if updated.Embedding == nil || !strings.Contains(updated.Content, "pairing") {
		t.Fatalf("expected re-embedded updated rule, got %+v", updated)
	}

	if err := svc.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	rules, err := svc.ListRules(ctx, sqlite.ContextRuleFilter{TimeCodeID: "PROJ-001"})
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected no rules after delete, got %d", len(rules))
	}
}
