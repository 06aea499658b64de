package rag

import (
	"context"
	"log"
	"math"
	"sort"

	"tact/internal/domain"
)

// RuleSource lists the context rules that already carry a vector.
type RuleSource interface {
	ListEmbeddedContextRules(ctx context.Context) ([]domain.ContextRule, error)
}

// Engine ranks stored context rules against a query by cosine similarity.
// Stored and query vectors are unit length, so similarity is a dot product
// over a linear scan.
type Engine struct {
	embedder Embedder
}

func NewEngine(embedder Embedder) *Engine {
	return &Engine{embedder: embedder}
}

// EmbedDocument returns the normalized vector to persist for a rule.
func (e *Engine) EmbedDocument(ctx context.Context, content string) ([]float32, error) {
	vec, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}
	return Normalize(vec), nil
}

// Retrieve returns at most topK rules scoring at least minSimilarity against
// the normalized query vector q, highest first. Retrieval is best-effort: a
// storage failure is logged and yields an empty result. q comes from
// EmbedDocument so callers can embed before opening a transaction.
func (e *Engine) Retrieve(ctx context.Context, src RuleSource, q []float32, topK int, minSimilarity float64) []domain.RetrievedContext {
	if len(q) == 0 || topK <= 0 {
		return nil
	}
	rules, err := src.ListEmbeddedContextRules(ctx)
	if err != nil {
		log.Printf("rag retrieve failed, continuing without context: list embedded rules: %v", err)
		return nil
	}

	var results []domain.RetrievedContext
	skipped := 0
	for _, rule := range rules {
		if len(rule.Embedding) != len(q) {
			skipped++
			continue
		}
		sim := Dot(q, rule.Embedding)
		if sim >= minSimilarity {
			results = append(results, domain.RetrievedContext{Rule: rule, Similarity: sim})
		}
	}
	if skipped > 0 {
		log.Printf("rag skipped rules with mismatched dimension count=%d query_dim=%d", skipped, len(q))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Normalize scales v to unit length. A zero vector is returned as zeros.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
