package slackbot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"tact/internal/domain"
	"tact/internal/httpx"
)

const inputPreviewLimit = 200

// ReviewNotifier posts entries that need a human to a review channel.
type ReviewNotifier struct {
	api       *slack.Client
	channelID string
}

func NewReviewNotifier(token, channelID string, opts ...slack.Option) *ReviewNotifier {
	opts = append([]slack.Option{slack.OptionHTTPClient(httpx.ExternalHTTPClient())}, opts...)
	return &ReviewNotifier{
		api:       slack.New(token, opts...),
		channelID: channelID,
	}
}

// NotifyOutcome is a no-op for entries that parsed cleanly.
func (n *ReviewNotifier) NotifyOutcome(ctx context.Context, rec domain.WorkRecord) error {
	if rec.Status != domain.StatusNeedsReview && rec.Status != domain.StatusFailed {
		return nil
	}
	fallback, blocks := reviewMessage(rec)
	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("post review message: %w", err)
	}
	log.Printf("slack review posted entry=%s status=%s channel=%s", rec.ID, rec.Status, n.channelID)
	return nil
}

func reviewMessage(rec domain.WorkRecord) (string, []slack.Block) {
	var title string
	switch rec.Status {
	case domain.StatusFailed:
		title = "Time entry could not be parsed"
	default:
		title = "Time entry needs review"
	}
	fallback := fmt.Sprintf("%s: %s", title, preview(rec.UserInput))

	var lines []string
	lines = append(lines, fmt.Sprintf("*Input:* %s", preview(rec.UserInput)))
	if rec.Status == domain.StatusFailed {
		if rec.ParseError != nil {
			lines = append(lines, fmt.Sprintf("*Error:* %s", *rec.ParseError))
		}
	} else {
		lines = append(lines,
			fmt.Sprintf("*Duration:* %s (%s)", minutesText(rec.DurationMinutes), confidenceText(rec.ConfidenceDuration)),
			fmt.Sprintf("*Time code:* %s (%s)", valueText(rec.TimeCodeID), confidenceText(rec.ConfidenceTimeCode)),
			fmt.Sprintf("*Work type:* %s (%s)", valueText(rec.WorkTypeID), confidenceText(rec.ConfidenceWorkType)),
		)
		if rec.ParseNotes != nil {
			lines = append(lines, fmt.Sprintf("*Notes:* %s", *rec.ParseNotes))
		}
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false),
			nil, nil,
		),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Entry `%s` - fix with `tact entry edit %s`", rec.ID, rec.ID), false, false),
		),
	}
	return fallback, blocks
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= inputPreviewLimit {
		return s
	}
	return string(r[:inputPreviewLimit]) + "..."
}

func minutesText(p *int) string {
	if p == nil {
		return "unknown"
	}
	return strconv.Itoa(*p) + " min"
}

func valueText(p *string) string {
	if p == nil {
		return "unknown"
	}
	return *p
}

func confidenceText(p *float64) string {
	if p == nil {
		return "confidence n/a"
	}
	return fmt.Sprintf("confidence %.2f", *p)
}
