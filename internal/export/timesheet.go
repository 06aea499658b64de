package export

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"tact/internal/domain"
	"tact/internal/storage/sqlite"
)

const (
	SheetName = "Timesheet"
	pageSize  = 500
)

var headers = []string{"Date", "Time Code", "Work Type", "Minutes", "Hours", "Description", "Status", "Input"}

// EntryLister is the read side of the entry store.
type EntryLister interface {
	ListEntries(ctx context.Context, f sqlite.EntryFilter) ([]domain.WorkRecord, error)
}

// Filter selects entries by entry date (inclusive, date-only). An empty
// Status exports parsed entries only.
type Filter struct {
	From   *time.Time
	To     *time.Time
	Status domain.EntryStatus
}

// CollectEntries pages through every entry matching f.
func CollectEntries(ctx context.Context, src EntryLister, f Filter) ([]domain.WorkRecord, error) {
	status := f.Status
	if status == "" {
		status = domain.StatusParsed
	}
	filter := sqlite.EntryFilter{
		Status: status,
		From:   dateOnly(f.From),
		To:     dateOnly(f.To),
		Limit:  pageSize,
	}

	var out []domain.WorkRecord
	for {
		page, err := src.ListEntries(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		filter.Offset += pageSize
	}
}

// WriteTimesheet writes recs as an XLSX workbook with a single "Timesheet"
// sheet and a total row.
func WriteTimesheet(w io.Writer, recs []domain.WorkRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}

	row := 2
	totalMinutes := 0
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(SheetName, cell, v)
		}
		if r.EntryDate != nil {
			write(1, r.EntryDate.Format(time.DateOnly))
		}
		write(2, deref(r.TimeCodeID))
		write(3, deref(r.WorkTypeID))
		if r.DurationMinutes != nil {
			write(4, *r.DurationMinutes)
			write(5, hours(*r.DurationMinutes))
			totalMinutes += *r.DurationMinutes
		}
		write(6, deref(r.ParsedDescription))
		write(7, string(r.Status))
		write(8, r.UserInput)
		row++
	}

	totalLabel, _ := excelize.CoordinatesToCellName(1, row)
	totalMin, _ := excelize.CoordinatesToCellName(4, row)
	totalHours, _ := excelize.CoordinatesToCellName(5, row)
	_ = f.SetCellValue(SheetName, totalLabel, "Total")
	_ = f.SetCellValue(SheetName, totalMin, totalMinutes)
	_ = f.SetCellValue(SheetName, totalHours, hours(totalMinutes))

	_ = f.SetColWidth(SheetName, "A", "A", 12)
	_ = f.SetColWidth(SheetName, "B", "C", 18)
	_ = f.SetColWidth(SheetName, "D", "E", 10)
	_ = f.SetColWidth(SheetName, "F", "F", 48)
	_ = f.SetColWidth(SheetName, "G", "G", 14)
	_ = f.SetColWidth(SheetName, "H", "H", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	log.Printf("export timesheet rows=%d minutes=%d", len(recs), totalMinutes)
	return nil
}

func hours(minutes int) float64 {
	return math.Round(float64(minutes)/60*100) / 100
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}
