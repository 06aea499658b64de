package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"tact/internal/domain"
)

type entryView struct {
	ID                 string             `json:"id"`
	UserInput          string             `json:"user_input"`
	DurationMinutes    *int               `json:"duration_minutes"`
	WorkTypeID         *string            `json:"work_type_id"`
	TimeCodeID         *string            `json:"time_code_id"`
	ParsedDescription  *string            `json:"parsed_description"`
	EntryDate          *string            `json:"entry_date"`
	ConfidenceDuration *float64           `json:"confidence_duration"`
	ConfidenceWorkType *float64           `json:"confidence_work_type"`
	ConfidenceTimeCode *float64           `json:"confidence_time_code"`
	ConfidenceOverall  *float64           `json:"confidence_overall"`
	Status             domain.EntryStatus `json:"status"`
	ParseError         *string            `json:"parse_error"`
	ParseNotes         *string            `json:"parse_notes"`
	ManuallyCorrected  bool               `json:"manually_corrected"`
	Locked             bool               `json:"locked"`
	CreatedAt          time.Time          `json:"created_at"`
	ParsedAt           *time.Time         `json:"parsed_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func newEntryView(r domain.WorkRecord) entryView {
	v := entryView{
		ID:                 r.ID,
		UserInput:          r.UserInput,
		DurationMinutes:    r.DurationMinutes,
		WorkTypeID:         r.WorkTypeID,
		TimeCodeID:         r.TimeCodeID,
		ParsedDescription:  r.ParsedDescription,
		ConfidenceDuration: r.ConfidenceDuration,
		ConfidenceWorkType: r.ConfidenceWorkType,
		ConfidenceTimeCode: r.ConfidenceTimeCode,
		ConfidenceOverall:  r.ConfidenceOverall,
		Status:             r.Status,
		ParseError:         r.ParseError,
		ParseNotes:         r.ParseNotes,
		ManuallyCorrected:  r.ManuallyCorrected,
		Locked:             r.Locked,
		CreatedAt:          r.CreatedAt,
		ParsedAt:           r.ParsedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.EntryDate != nil {
		d := r.EntryDate.Format(time.DateOnly)
		v.EntryDate = &d
	}
	return v
}

type ruleView struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Content    string    `json:"content"`
	Embedded   bool      `json:"embedded"`
	Dimensions int       `json:"dimensions"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newRuleView(r domain.ContextRule) ruleView {
	return ruleView{
		ID:         r.ID,
		Source:     r.Source(),
		Content:    r.Content,
		Embedded:   r.Embedding != nil,
		Dimensions: len(r.Embedding),
		UpdatedAt:  r.UpdatedAt,
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeEntryTable(w io.Writer, recs []domain.WorkRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tSTATUS\tMIN\tTIME CODE\tWORK TYPE\tINPUT")
	for _, r := range recs {
		date := "-"
		if r.EntryDate != nil {
			date = r.EntryDate.Format(time.DateOnly)
		}
		status := string(r.Status)
		if r.Locked {
			status += " (locked)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, date, status, intOrDash(r.DurationMinutes), strOrDash(r.TimeCodeID), strOrDash(r.WorkTypeID), oneLine(r.UserInput))
	}
	return tw.Flush()
}

func writeEntryDetail(w io.Writer, r domain.WorkRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) { fmt.Fprintf(tw, "%s:\t%s\n", k, v) }
	row("id", r.ID)
	row("input", r.UserInput)
	row("status", string(r.Status))
	if r.EntryDate != nil {
		row("date", r.EntryDate.Format(time.DateOnly))
	}
	row("duration", intOrDash(r.DurationMinutes)+" ("+confOrDash(r.ConfidenceDuration)+")")
	row("time code", strOrDash(r.TimeCodeID)+" ("+confOrDash(r.ConfidenceTimeCode)+")")
	row("work type", strOrDash(r.WorkTypeID)+" ("+confOrDash(r.ConfidenceWorkType)+")")
	row("description", strOrDash(r.ParsedDescription))
	row("overall", confOrDash(r.ConfidenceOverall))
	if r.ParseError != nil {
		row("error", *r.ParseError)
	}
	if r.ParseNotes != nil {
		row("notes", oneLine(*r.ParseNotes))
	}
	row("corrected", strconv.FormatBool(r.ManuallyCorrected))
	row("locked", strconv.FormatBool(r.Locked))
	return tw.Flush()
}

func writeRuleTable(w io.Writer, rules []domain.ContextRule) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tEMBEDDED\tCONTENT")
	for _, r := range rules {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.ID, r.Source(), r.Embedding != nil, oneLine(r.Content))
	}
	return tw.Flush()
}

func intOrDash(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

func strOrDash(p *string) string {
	if p == nil || *p == "" {
		return "-"
	}
	return *p
}

func confOrDash(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return &t, nil
}
