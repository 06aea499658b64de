package parser

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"tact/internal/domain"
	"tact/internal/integrations/llm"
	"tact/internal/rag"
)

const (
	DefaultConfidenceThreshold = 0.7
	ConfidenceThresholdKey     = "confidence_threshold"
)

// Retriever is the read side of the RAG engine. Embedding is split from
// ranking so the network call never runs inside a store transaction.
type Retriever interface {
	EmbedDocument(ctx context.Context, content string) ([]float32, error)
	Retrieve(ctx context.Context, src rag.RuleSource, q []float32, topK int, minSimilarity float64) []domain.RetrievedContext
}

// Query is an entry's text with its retrieval vector. Vector is nil when
// retrieval is disabled or the embedding failed.
type Query struct {
	Text   string
	Vector []float32
}

// ContextStore is what BuildContext reads: embedded rules and the active
// catalogs.
type ContextStore interface {
	rag.RuleSource
	ActiveTimeCodeOptions(ctx context.Context) ([]domain.CategorizationOption, error)
	ActiveWorkTypeOptions(ctx context.Context) ([]domain.CategorizationOption, error)
}

// ResultStore is what ApplyResult needs to persist an outcome.
type ResultStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	UpdateEntry(ctx context.Context, rec *domain.WorkRecord) error
}

type Options struct {
	TopK              int
	MinSimilarity     float64
	DefaultThreshold  float64
	RoundingIncrement int
}

// Parser turns pending entries into parsed, needs_review or failed ones.
// BuildContext and ApplyResult touch storage; RequestParse only talks to the
// generation backend.
type Parser struct {
	provider  llm.Provider
	retriever Retriever
	opts      Options
	now       func() time.Time
}

func New(provider llm.Provider, retriever Retriever, opts Options) *Parser {
	if opts.DefaultThreshold <= 0 || opts.DefaultThreshold > 1 {
		opts.DefaultThreshold = DefaultConfidenceThreshold
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Parser{
		provider:  provider,
		retriever: retriever,
		opts:      opts,
		now:       time.Now,
	}
}

// PrepareQuery embeds text for retrieval. It must be called before any
// transaction is opened. A failed embedding is logged and the entry is
// parsed without retrieved context.
func (p *Parser) PrepareQuery(ctx context.Context, text string) Query {
	q := Query{Text: text}
	if p.retriever == nil {
		return q
	}
	vec, err := p.retriever.EmbedDocument(ctx, text)
	if err != nil {
		log.Printf("parser query embedding failed, continuing without context: %v", err)
		return q
	}
	q.Vector = vec
	return q
}

// BuildContext reads the rules and catalogs for q from st. It does no
// network I/O.
func (p *Parser) BuildContext(ctx context.Context, st ContextStore, q Query) (domain.ParseContext, error) {
	var pc domain.ParseContext
	if p.retriever != nil && len(q.Vector) > 0 {
		pc.Retrieved = p.retriever.Retrieve(ctx, st, q.Vector, p.opts.TopK, p.opts.MinSimilarity)
	}

	var err error
	if pc.TimeCodes, err = st.ActiveTimeCodeOptions(ctx); err != nil {
		return pc, fmt.Errorf("load time codes: %w", err)
	}
	if pc.WorkTypes, err = st.ActiveWorkTypeOptions(ctx); err != nil {
		return pc, fmt.Errorf("load work types: %w", err)
	}
	return pc, nil
}

func (p *Parser) RequestParse(ctx context.Context, text string, pc domain.ParseContext) domain.ParseOutcome {
	return p.provider.Parse(ctx, text, pc)
}

// ApplyResult moves rec out of pending according to out and writes it.
func (p *Parser) ApplyResult(ctx context.Context, st ResultStore, rec *domain.WorkRecord, out domain.ParseOutcome, pc domain.ParseContext) error {
	threshold := ConfidenceThreshold(ctx, st, p.opts.DefaultThreshold)
	p.apply(rec, out, pc, threshold)

	if err := st.UpdateEntry(ctx, rec); err != nil {
		return fmt.Errorf("save entry %s: %w", rec.ID, err)
	}
	log.Printf("parser applied entry=%s status=%s duration=%s time_code=%s work_type=%s conf_duration=%.2f conf_time_code=%.2f threshold=%.2f",
		rec.ID, rec.Status, fmtInt(rec.DurationMinutes), fmtStr(rec.TimeCodeID), fmtStr(rec.WorkTypeID),
		out.ConfidenceDuration, out.ConfidenceTimeCode, threshold)
	return nil
}

func (p *Parser) apply(rec *domain.WorkRecord, out domain.ParseOutcome, pc domain.ParseContext, threshold float64) {
	if out.Failed() {
		msg := out.Error
		rec.Status = domain.StatusFailed
		rec.ParseError = &msg
		return
	}

	var extraNotes []string
	timeCodeID, confTimeCode := resolveField("time_code_id", out.TimeCodeID, out.ConfidenceTimeCode, pc.TimeCodes, &extraNotes)
	workTypeID, confWorkType := resolveField("work_type_id", out.WorkTypeID, out.ConfidenceWorkType, pc.WorkTypes, &extraNotes)

	confDuration := out.ConfidenceDuration
	confOverall := out.ConfidenceOverall
	now := p.now().UTC()

	rec.DurationMinutes = RoundDuration(out.DurationMinutes, p.opts.RoundingIncrement)
	rec.TimeCodeID = timeCodeID
	rec.WorkTypeID = workTypeID
	rec.ParsedDescription = out.ParsedDescription
	rec.ConfidenceDuration = &confDuration
	rec.ConfidenceTimeCode = &confTimeCode
	rec.ConfidenceWorkType = &confWorkType
	rec.ConfidenceOverall = &confOverall
	rec.ParseError = nil
	rec.ParseNotes = ComposeNotes(out.Notes, pc.Retrieved, extraNotes)
	rec.ParsedAt = &now
	rec.Status = DecideStatus(rec.TimeCodeID, confTimeCode, rec.DurationMinutes, confDuration, threshold)
}

// resolveField snaps a generated id onto the catalog. Ids that cannot be
// resolved are dropped with zero confidence and a note.
func resolveField(field string, id *string, conf float64, options []domain.CategorizationOption, notes *[]string) (*string, float64) {
	if id == nil {
		return nil, conf
	}
	resolved, ok := resolveOptionID(*id, options)
	if !ok {
		*notes = append(*notes, fmt.Sprintf("Dropped unknown %s %q returned by the model.", field, *id))
		return nil, 0
	}
	if resolved != *id {
		*notes = append(*notes, fmt.Sprintf("Resolved %s %q to %q.", field, *id, resolved))
	}
	return &resolved, conf
}

// DecideStatus is parsed only when both the time code and the duration are
// present and meet the threshold.
func DecideStatus(timeCodeID *string, confTimeCode float64, duration *int, confDuration float64, threshold float64) domain.EntryStatus {
	hasTimeCode := timeCodeID != nil && confTimeCode >= threshold
	hasDuration := duration != nil && confDuration >= threshold
	if hasTimeCode && hasDuration {
		return domain.StatusParsed
	}
	return domain.StatusNeedsReview
}

// ConfidenceThreshold reads the durable override, falling back to def when
// the row is absent, unreadable or out of range.
func ConfidenceThreshold(ctx context.Context, st ResultStore, def float64) float64 {
	raw, ok, err := st.GetSetting(ctx, ConfidenceThresholdKey)
	if err != nil {
		log.Printf("parser threshold lookup failed, using default=%.2f: %v", def, err)
		return def
	}
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 || v > 1 {
		log.Printf("parser invalid %s=%q, using default=%.2f", ConfidenceThresholdKey, raw, def)
		return def
	}
	return v
}

const noteContentLimit = 80

// ComposeNotes joins the model's reasoning, the best retrieved rule and any
// resolution notes. It returns nil when there is nothing to say.
func ComposeNotes(modelNotes *string, retrieved []domain.RetrievedContext, extra []string) *string {
	var parts []string
	if modelNotes != nil && strings.TrimSpace(*modelNotes) != "" {
		parts = append(parts, strings.TrimSpace(*modelNotes))
	}
	if best, ok := topRetrieved(retrieved); ok {
		parts = append(parts, fmt.Sprintf("RAG context used: %s %q (similarity %.2f)",
			best.Rule.Source(), truncate(best.Rule.Content, noteContentLimit), best.Similarity))
	}
	parts = append(parts, extra...)
	if len(parts) == 0 {
		return nil
	}
	notes := strings.Join(parts, "\n")
	return &notes
}

func topRetrieved(retrieved []domain.RetrievedContext) (domain.RetrievedContext, bool) {
	if len(retrieved) == 0 {
		return domain.RetrievedContext{}, false
	}
	best := retrieved[0]
	for _, rc := range retrieved[1:] {
		if rc.Similarity > best.Similarity {
			best = rc
		}
	}
	return best, true
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func fmtInt(p *int) string {
	if p == nil {
		return "null"
	}
	return strconv.Itoa(*p)
}

func fmtStr(p *string) string {
	if p == nil {
		return "null"
	}
	return *p
}
