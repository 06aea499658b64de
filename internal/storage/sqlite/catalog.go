package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tact/internal/domain"
)

func (s *Store) UpsertProject(ctx context.Context, p domain.Project) error {
	now := time.Now().UTC()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO projects (id, name, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active, updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Active, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := s.q.QueryRowContext(ctx, `SELECT id, name, active FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, active FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertTimeCode(ctx context.Context, tc domain.TimeCode) error {
	keywords, err := json.Marshal(nonNilStrings(tc.Keywords))
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	now := time.Now().UTC()
	var projectID any
	if tc.ProjectID != "" {
		projectID = tc.ProjectID
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO time_codes (id, project_id, name, description, keywords, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, name = excluded.name, description = excluded.description,
			keywords = excluded.keywords, active = excluded.active, updated_at = excluded.updated_at`,
		tc.ID, projectID, tc.Name, tc.Description, string(keywords), tc.Active, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert time code %s: %w", tc.ID, err)
	}
	return nil
}

func (s *Store) GetTimeCode(ctx context.Context, id string) (domain.TimeCode, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, keywords, active FROM time_codes WHERE id = ?`, id)
	tc, err := scanTimeCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tc, fmt.Errorf("time code %s: %w", id, ErrNotFound)
	}
	return tc, err
}

func (s *Store) ListTimeCodes(ctx context.Context) ([]domain.TimeCode, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, project_id, name, description, keywords, active FROM time_codes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TimeCode
	for rows.Next() {
		tc, err := scanTimeCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ActiveTimeCodeOptions returns the active time codes in the shape the
// generator is shown.
func (s *Store) ActiveTimeCodeOptions(ctx context.Context) ([]domain.CategorizationOption, error) {
	codes, err := s.ListTimeCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list time codes: %w", err)
	}
	var out []domain.CategorizationOption
	for _, tc := range codes {
		if !tc.Active {
			continue
		}
		out = append(out, domain.CategorizationOption{
			ID:          tc.ID,
			Name:        tc.Name,
			Description: tc.Description,
			Keywords:    tc.Keywords,
		})
	}
	return out, nil
}

func (s *Store) UpsertWorkType(ctx context.Context, wt domain.WorkType) error {
	now := time.Now().UTC()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO work_types (id, name, description, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			active = excluded.active, updated_at = excluded.updated_at`,
		wt.ID, wt.Name, wt.Description, wt.Active, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert work type %s: %w", wt.ID, err)
	}
	return nil
}

func (s *Store) GetWorkType(ctx context.Context, id string) (domain.WorkType, error) {
	var wt domain.WorkType
	err := s.q.QueryRowContext(ctx, `SELECT id, name, description, active FROM work_types WHERE id = ?`, id).
		Scan(&wt.ID, &wt.Name, &wt.Description, &wt.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return wt, fmt.Errorf("work type %s: %w", id, ErrNotFound)
	}
	return wt, err
}

func (s *Store) ListWorkTypes(ctx context.Context) ([]domain.WorkType, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, description, active FROM work_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorkType
	for rows.Next() {
		var wt domain.WorkType
		if err := rows.Scan(&wt.ID, &wt.Name, &wt.Description, &wt.Active); err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (s *Store) ActiveWorkTypeOptions(ctx context.Context) ([]domain.CategorizationOption, error) {
	types, err := s.ListWorkTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list work types: %w", err)
	}
	var out []domain.CategorizationOption
	for _, wt := range types {
		if !wt.Active {
			continue
		}
		out = append(out, domain.CategorizationOption{
			ID:          wt.ID,
			Name:        wt.Name,
			Description: wt.Description,
		})
	}
	return out, nil
}

func scanTimeCode(row rowScanner) (domain.TimeCode, error) {
	var (
		tc        domain.TimeCode
		projectID sql.NullString
		keywords  string
	)
	if err := row.Scan(&tc.ID, &projectID, &tc.Name, &tc.Description, &keywords, &tc.Active); err != nil {
		return tc, err
	}
	tc.ProjectID = projectID.String
	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &tc.Keywords); err != nil {
			return tc, fmt.Errorf("time code %s keywords: %w", tc.ID, err)
		}
	}
	return tc, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
