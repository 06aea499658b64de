package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tact/internal/domain"
)

const entryColumns = `id, user_input, duration_minutes, work_type_id, time_code_id, parsed_description, entry_date,
	confidence_duration, confidence_work_type, confidence_time_code, confidence_overall,
	status, parse_error, parse_notes, manually_corrected, locked, corrected_at,
	created_at, parsed_at, updated_at`

// EntryFilter narrows ListEntries. Zero values mean "no constraint".
type EntryFilter struct {
	Status     domain.EntryStatus
	TimeCodeID string
	WorkTypeID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// CreateEntry inserts rec as a new pending entry, assigning its id and
// timestamps.
func (s *Store) CreateEntry(ctx context.Context, rec *domain.WorkRecord) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = domain.StatusPending
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO time_entries (id, user_input, entry_date, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserInput, nullable(rec.EntryDate), string(rec.Status), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (domain.WorkRecord, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM time_entries WHERE id = ?`, id)
	rec, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkRecord{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// ListPendingEntries returns up to limit pending entries. Order is not
// specified.
func (s *Store) ListPendingEntries(ctx context.Context, limit int) ([]domain.WorkRecord, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE status = ? LIMIT ?`,
		string(domain.StatusPending), limit,
	)
}

func (s *Store) ListEntries(ctx context.Context, f EntryFilter) ([]domain.WorkRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.TimeCodeID != "" {
		where = append(where, "time_code_id = ?")
		args = append(args, f.TimeCodeID)
	}
	if f.WorkTypeID != "" {
		where = append(where, "work_type_id = ?")
		args = append(args, f.WorkTypeID)
	}
	if f.From != nil {
		where = append(where, "entry_date >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		where = append(where, "entry_date <= ?")
		args = append(args, f.To.UTC())
	}

	query := `SELECT ` + entryColumns + ` FROM time_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY entry_date, created_at, id"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	return s.queryEntries(ctx, query, args...)
}

// UpdateEntry writes every mutable column of rec and refreshes UpdatedAt.
func (s *Store) UpdateEntry(ctx context.Context, rec *domain.WorkRecord) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE time_entries SET
			user_input = ?, duration_minutes = ?, work_type_id = ?, time_code_id = ?,
			parsed_description = ?, entry_date = ?,
			confidence_duration = ?, confidence_work_type = ?, confidence_time_code = ?, confidence_overall = ?,
			status = ?, parse_error = ?, parse_notes = ?,
			manually_corrected = ?, locked = ?, corrected_at = ?, parsed_at = ?, updated_at = ?
		 WHERE id = ?`,
		rec.UserInput, nullable(rec.DurationMinutes), nullable(rec.WorkTypeID), nullable(rec.TimeCodeID),
		nullable(rec.ParsedDescription), nullable(rec.EntryDate),
		nullable(rec.ConfidenceDuration), nullable(rec.ConfidenceWorkType),
		nullable(rec.ConfidenceTimeCode), nullable(rec.ConfidenceOverall),
		string(rec.Status), nullable(rec.ParseError), nullable(rec.ParseNotes),
		rec.ManuallyCorrected, rec.Locked, nullable(rec.CorrectedAt), nullable(rec.ParsedAt), now,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update entry %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", rec.ID, ErrNotFound)
	}
	rec.UpdatedAt = now
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM time_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]domain.WorkRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorkRecord
	for rows.Next() {
		rec, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanEntry(row rowScanner) (domain.WorkRecord, error) {
	var (
		rec                                 domain.WorkRecord
		duration                            sql.NullInt64
		workTypeID, timeCodeID, description sql.NullString
		parseError, parseNotes              sql.NullString
		entryDate, correctedAt, parsedAt    sql.NullTime
		confDuration, confWorkType          sql.NullFloat64
		confTimeCode, confOverall           sql.NullFloat64
		status                              string
	)
	err := row.Scan(
		&rec.ID, &rec.UserInput, &duration, &workTypeID, &timeCodeID, &description, &entryDate,
		&confDuration, &confWorkType, &confTimeCode, &confOverall,
		&status, &parseError, &parseNotes, &rec.ManuallyCorrected, &rec.Locked, &correctedAt,
		&rec.CreatedAt, &parsedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.WorkRecord{}, err
	}

	rec.DurationMinutes = intPtr(duration)
	rec.WorkTypeID = stringPtr(workTypeID)
	rec.TimeCodeID = stringPtr(timeCodeID)
	rec.ParsedDescription = stringPtr(description)
	rec.EntryDate = timePtr(entryDate)
	rec.ConfidenceDuration = floatPtr(confDuration)
	rec.ConfidenceWorkType = floatPtr(confWorkType)
	rec.ConfidenceTimeCode = floatPtr(confTimeCode)
	rec.ConfidenceOverall = floatPtr(confOverall)
	rec.Status = domain.EntryStatus(status)
	rec.ParseError = stringPtr(parseError)
	rec.ParseNotes = stringPtr(parseNotes)
	rec.CorrectedAt = timePtr(correctedAt)
	rec.ParsedAt = timePtr(parsedAt)
	return rec, nil
}
