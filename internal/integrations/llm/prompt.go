package llm

import (
	"fmt"
	"strings"

	"tact/internal/domain"
)

// BuildPrompts renders the system and user text for one entry.
func BuildPrompts(text string, pc domain.ParseContext) (string, string) {
	return buildSystemPrompt(pc), buildUserPrompt(text)
}

func buildSystemPrompt(pc domain.ParseContext) string {
	var b strings.Builder

	b.WriteString("You are a time entry parser. Your job is to extract structured information from natural language time entries.\n\n")

	b.WriteString("Available Time Codes:\n")
	writeOptions(&b, pc.TimeCodes)
	b.WriteString("\nAvailable Work Types:\n")
	writeOptions(&b, pc.WorkTypes)

	if len(pc.Retrieved) > 0 {
		b.WriteString("\nRelevant context rules (these take priority over keyword matching):\n")
		for _, rc := range pc.Retrieved {
			fmt.Fprintf(&b, "- [%s] %s\n", rc.Rule.Source(), strings.TrimSpace(rc.Rule.Content))
		}
	}

	b.WriteString(`
Instructions:
1. Extract the duration in minutes. "2h" = 120, "30 min" = 30, "1h30m" = 90. A bare "m" always means minutes, never hours.
2. Match a time_code_id from the available list. When a context rule above applies, follow it instead of generic keyword matching.
3. Match a work_type_id from the available list.
4. Write a clean parsed_description of the work done.
5. Give confidence scores between 0.0 and 1.0 for each field and overall.
6. Put a short explanation of your reasoning in notes.

Respond with exactly one JSON object in this format and no text outside it:
{
  "duration_minutes": <integer or null>,
  "time_code_id": "<string or null>",
  "work_type_id": "<string or null>",
  "parsed_description": "<string or null>",
  "confidence_duration": <float 0-1>,
  "confidence_time_code": <float 0-1>,
  "confidence_work_type": <float 0-1>,
  "confidence_overall": <float 0-1>,
  "notes": "<string or null>"
}

If you cannot determine a field, set it to null explicitly (do not omit it) and give it a low confidence.`)

	return b.String()
}

func writeOptions(b *strings.Builder, options []domain.CategorizationOption) {
	if len(options) == 0 {
		b.WriteString("(none defined)\n")
		return
	}
	for _, o := range options {
		fmt.Fprintf(b, "- %s: %s", o.ID, o.Name)
		if o.Description != "" {
			fmt.Fprintf(b, " - %s", o.Description)
		}
		if len(o.Keywords) > 0 {
			fmt.Fprintf(b, " (keywords: %s)", strings.Join(o.Keywords, ", "))
		}
		b.WriteString("\n")
	}
}

func buildUserPrompt(text string) string {
	return fmt.Sprintf("Parse this time entry:\n%q", text)
}
