package entries

import (
	"context"
	"fmt"
	"log"
	"strings"

	"tact/internal/domain"
	"tact/internal/storage/sqlite"
)

// AddRule stores a context rule owned by exactly one of projectID or
// timeCodeID. The owner must exist. If embedding fails the rule is kept
// without a vector and the backfill job embeds it later.
func (s *Service) AddRule(ctx context.Context, projectID, timeCodeID, content string) (domain.ContextRule, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ContextRule{}, ErrEmptyRule
	}
	rule := domain.ContextRule{
		ProjectID:  optional(projectID),
		TimeCodeID: optional(timeCodeID),
		Content:    content,
	}
	if err := rule.ValidateScope(); err != nil {
		return domain.ContextRule{}, ErrInvalidRuleScope
	}
	if err := s.ensureOwner(ctx, rule); err != nil {
		return domain.ContextRule{}, err
	}

	rule.Embedding = s.embed(ctx, content)
	if err := s.store.CreateContextRule(ctx, &rule); err != nil {
		return domain.ContextRule{}, err
	}
	log.Printf("entries rule added rule=%s source=%s embedded=%t", rule.ID, rule.Source(), rule.Embedding != nil)
	return rule, nil
}

// UpdateRule replaces a rule's content and re-embeds it.
func (s *Service) UpdateRule(ctx context.Context, id, content string) (domain.ContextRule, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ContextRule{}, ErrEmptyRule
	}
	rule, err := s.store.GetContextRule(ctx, id)
	if err != nil {
		return domain.ContextRule{}, err
	}
	rule.Content = content
	rule.Embedding = s.embed(ctx, content)
	if err := s.store.UpdateContextRule(ctx, &rule); err != nil {
		return domain.ContextRule{}, err
	}
	log.Printf("entries rule updated rule=%s embedded=%t", rule.ID, rule.Embedding != nil)
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.DeleteContextRule(ctx, id); err != nil {
		return err
	}
	log.Printf("entries rule deleted rule=%s", id)
	return nil
}

func (s *Service) ListRules(ctx context.Context, f sqlite.ContextRuleFilter) ([]domain.ContextRule, error) {
	return s.store.ListContextRules(ctx, f)
}

func (s *Service) ensureOwner(ctx context.Context, rule domain.ContextRule) error {
	if rule.ProjectID != nil {
		if _, err := s.store.GetProject(ctx, *rule.ProjectID); err != nil {
			return fmt.Errorf("rule owner: %w", err)
		}
		return nil
	}
	if _, err := s.store.GetTimeCode(ctx, *rule.TimeCodeID); err != nil {
		return fmt.Errorf("rule owner: %w", err)
	}
	return nil
}

func (s *Service) embed(ctx context.Context, content string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.EmbedDocument(ctx, content)
	if err != nil {
		log.Printf("entries embedding failed, leaving rule for backfill: %v", err)
		return nil
	}
	return vec
}
