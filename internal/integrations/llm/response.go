package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tact/internal/domain"
)

// outputSchema is the structured object every backend must return. Only
// confidence_overall is mandatory.
var outputSchema = map[string]any{
	"type":     "object",
	"required": []string{"confidence_overall"},
	"properties": map[string]any{
		"duration_minutes":     map[string]any{"type": []string{"number", "null"}},
		"time_code_id":         map[string]any{"type": []string{"string", "null"}},
		"work_type_id":         map[string]any{"type": []string{"string", "null"}},
		"parsed_description":   map[string]any{"type": []string{"string", "null"}},
		"confidence_duration":  map[string]any{"type": []string{"number", "null"}},
		"confidence_time_code": map[string]any{"type": []string{"number", "null"}},
		"confidence_work_type": map[string]any{"type": []string{"number", "null"}},
		"confidence_overall":   map[string]any{"type": "number"},
		"notes":                map[string]any{"type": []string{"string", "null"}},
	},
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(outputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("parse_outcome.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("parse_outcome.json")
})

type rawOutcome struct {
	DurationMinutes    *float64 `json:"duration_minutes"`
	TimeCodeID         *string  `json:"time_code_id"`
	WorkTypeID         *string  `json:"work_type_id"`
	ParsedDescription  *string  `json:"parsed_description"`
	Description        *string  `json:"description"`
	ConfidenceDuration *float64 `json:"confidence_duration"`
	ConfidenceTimeCode *float64 `json:"confidence_time_code"`
	ConfidenceWorkType *float64 `json:"confidence_work_type"`
	ConfidenceOverall  *float64 `json:"confidence_overall"`
	Notes              *string  `json:"notes"`
}

// decodeOutcome turns backend text into an outcome. Anything that is not a
// single schema-valid object becomes an error outcome.
func decodeOutcome(responseText string) domain.ParseOutcome {
	body, err := extractObject(responseText)
	if err != nil {
		return domain.FailedOutcome(err.Error())
	}

	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return domain.FailedOutcome(fmt.Sprintf("invalid JSON response: %v", err))
	}
	schema, err := compiledSchema()
	if err != nil {
		return domain.FailedOutcome(fmt.Sprintf("output schema: %v", err))
	}
	if err := schema.Validate(generic); err != nil {
		return domain.FailedOutcome(fmt.Sprintf("response does not match schema: %v", err))
	}

	var raw rawOutcome
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.FailedOutcome(fmt.Sprintf("failed to extract fields: %v", err))
	}

	out := domain.ParseOutcome{
		TimeCodeID:         trimmedOrNil(raw.TimeCodeID),
		WorkTypeID:         trimmedOrNil(raw.WorkTypeID),
		ParsedDescription:  trimmedOrNil(raw.ParsedDescription),
		ConfidenceDuration: clamp(raw.ConfidenceDuration),
		ConfidenceTimeCode: clamp(raw.ConfidenceTimeCode),
		ConfidenceWorkType: clamp(raw.ConfidenceWorkType),
		ConfidenceOverall:  clamp(raw.ConfidenceOverall),
		Notes:              trimmedOrNil(raw.Notes),
	}
	if out.ParsedDescription == nil {
		out.ParsedDescription = trimmedOrNil(raw.Description)
	}
	if raw.DurationMinutes != nil {
		// Backends sometimes return means, e.g. 127.5.
		minutes := int(math.Round(*raw.DurationMinutes))
		if minutes >= 0 {
			out.DurationMinutes = &minutes
		}
	}
	return out
}

// extractObject strips markdown fences and any chatter around the single
// JSON object in text.
func extractObject(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	return []byte(text[start : end+1]), nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}

func clamp(f *float64) float64 {
	if f == nil || math.IsNaN(*f) {
		return 0
	}
	return math.Max(0, math.Min(1, *f))
}
