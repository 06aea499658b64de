package parser

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"tact/internal/domain"
)

const maxIDEditDistance = 2

// resolveOptionID maps an id produced by the generator onto an active
// option: exact match, then case-insensitive, then the single closest id
// within maxIDEditDistance edits. Ties are treated as unresolvable.
func resolveOptionID(id string, options []domain.CategorizationOption) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	for _, o := range options {
		if o.ID == id {
			return o.ID, true
		}
	}
	for _, o := range options {
		if strings.EqualFold(o.ID, id) {
			return o.ID, true
		}
	}

	best, bestDist, tied := "", maxIDEditDistance+1, false
	lower := strings.ToLower(id)
	for _, o := range options {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(o.ID))
		switch {
		case d < bestDist:
			best, bestDist, tied = o.ID, d, false
		case d == bestDist:
			tied = true
		}
	}
	if best == "" || tied {
		return "", false
	}
	return best, true
}

// RoundDuration snaps minutes up to the next multiple of increment. An
// increment of zero leaves the value alone.
func RoundDuration(minutes *int, increment int) *int {
	if minutes == nil {
		return nil
	}
	v := *minutes
	if increment > 0 && v > 0 {
		v = (v + increment - 1) / increment * increment
	}
	return &v
}
