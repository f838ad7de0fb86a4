package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	rollingDays      = 5
	rollingStaleness = 24 * time.Hour
	rollingLimit     = 20
)

const rollingSystem = `You generate concise rolling summaries of development
activity. Focus on facts: what changed, what was decided, what's next. No
filler, no encouragement, no questions.`

// RollingStale reports whether the rolling summary needs regeneration.
func (p *Pipeline) RollingStale() (bool, error) {
	latest, err := p.store.LatestRollingSummary()
	if err != nil {
		return false, err
	}
	if latest == nil {
		return true, nil
	}
	return time.Since(latest.CreatedAt) > rollingStaleness, nil
}

// RefreshRolling regenerates the multi-day rolling summary from recent
// sessions. It returns the summary text, or "" when there is nothing to
// summarize.
func (p *Pipeline) RefreshRolling(ctx context.Context) (string, error) {
	cutoff := time.Now().AddDate(0, 0, -rollingDays)
	sessions, err := p.store.SessionsSince(cutoff, rollingLimit)
	if err != nil {
		return "", fmt.Errorf("load recent sessions: %w", err)
	}
	if len(sessions) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&sb, "- %s | %s\n", s.Date, s.Title)
		if s.Header != "" {
			fmt.Fprintf(&sb, "  Tags: %s\n", s.Header)
		}
		if s.Summary != "" {
			fmt.Fprintf(&sb, "  Summary: %s\n", clipText(s.Summary, 200))
		}
		fmt.Fprintf(&sb, "  (%d messages, %d words)\n", s.MessageCount, s.WordCount)
		sb.WriteByte('\n')
	}

	today := time.Now().Format("2006-01-02")
	prompt := fmt.Sprintf(
		"Summarize the last %d days of activity from these %d sessions. Today is %s.\n\n"+
			"Write a concise rolling summary (3-6 paragraphs) covering:\n"+
			"1. What was worked on and accomplished\n"+
			"2. Key decisions made\n"+
			"3. Current state / what's in progress\n\n"+
			"Be specific: use project names, file names, tools mentioned. "+
			"Write in third person ('The user worked on...'). No bullet points.\n\n"+
			"Sessions:\n%s",
		rollingDays, len(sessions), today, sb.String())

	summary, err := p.completer.Complete(ctx, prompt, rollingSystem, 1024)
	if err != nil {
		return "", fmt.Errorf("rolling summary completion: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", nil
	}

	if err := p.store.AddRollingSummary(summary, rollingDays, len(sessions)); err != nil {
		return "", fmt.Errorf("store rolling summary: %w", err)
	}
	return summary, nil
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
