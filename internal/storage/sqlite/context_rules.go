package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"tact/internal/domain"
)

const ruleColumns = `id, project_id, time_code_id, content, embedding, created_at, updated_at`

// ContextRuleFilter selects rules owned by one project or one time code.
// Both empty lists every rule.
type ContextRuleFilter struct {
	ProjectID  string
	TimeCodeID string
}

func (s *Store) CreateContextRule(ctx context.Context, rule *domain.ContextRule) error {
	if err := rule.ValidateScope(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO context_documents (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, nullable(rule.ProjectID), nullable(rule.TimeCodeID), rule.Content,
		encodeVector(rule.Embedding), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert context rule: %w", err)
	}
	return nil
}

func (s *Store) GetContextRule(ctx context.Context, id string) (domain.ContextRule, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM context_documents WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rule, fmt.Errorf("context rule %s: %w", id, ErrNotFound)
	}
	return rule, err
}

func (s *Store) ListContextRules(ctx context.Context, f ContextRuleFilter) ([]domain.ContextRule, error) {
	switch {
	case f.ProjectID != "":
		return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM context_documents WHERE project_id = ? ORDER BY created_at, id`, f.ProjectID)
	case f.TimeCodeID != "":
		return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM context_documents WHERE time_code_id = ? ORDER BY created_at, id`, f.TimeCodeID)
	default:
		return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM context_documents ORDER BY created_at, id`)
	}
}

// ListEmbeddedContextRules returns every rule that carries a cached vector.
func (s *Store) ListEmbeddedContextRules(ctx context.Context) ([]domain.ContextRule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM context_documents WHERE embedding IS NOT NULL`)
}

func (s *Store) ListUnembeddedContextRules(ctx context.Context, limit int) ([]domain.ContextRule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM context_documents WHERE embedding IS NULL ORDER BY created_at LIMIT ?`, limit)
}

// UpdateContextRule rewrites content and embedding. Ownership never changes.
func (s *Store) UpdateContextRule(ctx context.Context, rule *domain.ContextRule) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE context_documents SET content = ?, embedding = ?, updated_at = ? WHERE id = ?`,
		rule.Content, encodeVector(rule.Embedding), now, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update context rule %s: %w", rule.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context rule %s: %w", rule.ID, ErrNotFound)
	}
	rule.UpdatedAt = now
	return nil
}

func (s *Store) SetContextRuleEmbedding(ctx context.Context, id string, vec []float32) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE context_documents SET embedding = ?, updated_at = ? WHERE id = ?`,
		encodeVector(vec), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set embedding %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteContextRule(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM context_documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete context rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]domain.ContextRule, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ContextRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanRule(row rowScanner) (domain.ContextRule, error) {
	var (
		rule                  domain.ContextRule
		projectID, timeCodeID sql.NullString
		blob                  []byte
	)
	err := row.Scan(&rule.ID, &projectID, &timeCodeID, &rule.Content, &blob, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return rule, err
	}
	rule.ProjectID = stringPtr(projectID)
	rule.TimeCodeID = stringPtr(timeCodeID)
	if blob != nil {
		vec, err := decodeVector(blob)
		if err != nil {
			return rule, fmt.Errorf("context rule %s: %w", rule.ID, err)
		}
		rule.Embedding = vec
	}
	return rule, nil
}

// encodeVector stores a vector as little-endian float32s; nil stays NULL.
func encodeVector(vec []float32) any {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
