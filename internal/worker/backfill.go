package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tact/internal/domain"
)

const backfillBatchSize = 50

// BackfillStore is the context-rule side of the store.
type BackfillStore interface {
	ListUnembeddedContextRules(ctx context.Context, limit int) ([]domain.ContextRule, error)
	SetContextRuleEmbedding(ctx context.Context, id string, vec []float32) error
}

// DocumentEmbedder produces the normalized vector stored with a rule.
type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, content string) ([]float32, error)
}

// BackfillEmbeddings embeds rules that were saved without a vector, for
// example because the embedding server was down when they were written.
func BackfillEmbeddings(ctx context.Context, st BackfillStore, emb DocumentEmbedder) (int, error) {
	rules, err := st.ListUnembeddedContextRules(ctx, backfillBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unembedded rules: %w", err)
	}
	done := 0
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		vec, err := emb.EmbedDocument(ctx, rule.Content)
		if err != nil {
			return done, fmt.Errorf("embed rule %s: %w", rule.ID, err)
		}
		if err := st.SetContextRuleEmbedding(ctx, rule.ID, vec); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// StartEmbeddingBackfill runs BackfillEmbeddings on schedule until ctx is
// cancelled. An empty schedule disables the job.
func StartEmbeddingBackfill(ctx context.Context, schedule string, st BackfillStore, emb DocumentEmbedder) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		log.Println("embedding backfill disabled (embedding_backfill_schedule not set)")
		return nil
	}

	cronParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid embedding_backfill_schedule '%s': %w", schedule, err)
	}
	log.Printf("embedding backfill scheduled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			select {
			case <-ctx.Done():
				log.Printf("embedding backfill stopped")
				return
			case <-time.After(next.Sub(now)):
			}

			n, err := BackfillEmbeddings(ctx, st, emb)
			if err != nil {
				log.Printf("embedding backfill error embedded=%d: %v", n, err)
				continue
			}
			if n > 0 {
				log.Printf("embedding backfill complete embedded=%d", n)
			}
		}
	}()
	return nil
}
