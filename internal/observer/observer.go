// Package observer converts queued raw records into stored rows: tool-call
// records become structured, embedded observations, and captured prompts
// become embedded prompt rows. Titles and summaries are derived purely from
// tool metadata, so the pipeline is reproducible without any model call.
package observer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/memorable-dev/memorable/internal/domain"
	"github.com/memorable-dev/memorable/internal/embedding"
	"github.com/memorable-dev/memorable/internal/store"
)

// Tools whose consecutive calls get merged into one observation.
var mergeableTools = map[string]bool{"Read": true, "Grep": true, "Glob": true}

const (
	batchLimit      = 50
	mergeWindow     = 60 * time.Second
	minResponseSize = 20
)

// Pipeline processes the tool-call queue into observations.
type Pipeline struct {
	store      *store.Store
	embedder   embedding.Embedder
	maxRetries int
}

// New creates an observation Pipeline. A nil embedder degrades search
// coverage (observations store without vectors) but never blocks the
// pipeline.
func New(s *store.Store, embedder embedding.Embedder, maxRetries int) *Pipeline {
	return &Pipeline{store: s, embedder: embedder, maxRetries: maxRetries}
}

// ProcessPending drains the pending tool-call and prompt queues and returns
// the number of rows written. Per-item failures mark the item for retry and
// never abort the batch.
func (p *Pipeline) ProcessPending(ctx context.Context) (int, error) {
	processed, err := p.processToolCalls(ctx)
	if err != nil {
		return processed, err
	}
	n, err := p.processPrompts(ctx)
	return processed + n, err
}

func (p *Pipeline) processToolCalls(ctx context.Context) (int, error) {
	pending, err := p.store.PendingToolCalls(batchLimit, p.maxRetries)
	if err != nil {
		return 0, fmt.Errorf("load pending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	groups := groupRecords(pending)
	processed := 0

	for _, group := range groups {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		if err := p.processGroup(ctx, group); err != nil {
			log.Printf("[observer] item %d: %v", group.lead.ID, err)
			for _, id := range group.ids {
				if markErr := p.store.MarkToolCallError(id); markErr != nil {
					log.Printf("[observer] mark error %d: %v", id, markErr)
				}
			}
			continue
		}
		processed++
	}

	return processed, nil
}

// processPrompts drains the prompt queue: each raw utterance becomes one
// prompt row, embedded best-effort like observations.
func (p *Pipeline) processPrompts(ctx context.Context) (int, error) {
	pending, err := p.store.PendingPrompts(batchLimit, p.maxRetries)
	if err != nil {
		return 0, fmt.Errorf("load pending prompts: %w", err)
	}

	processed := 0
	for _, item := range pending {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if strings.TrimSpace(item.Text) == "" {
			if err := p.store.MarkPrompt(item.ID, domain.StatusSkipped); err != nil {
				log.Printf("[observer] mark prompt %d: %v", item.ID, err)
			}
			continue
		}

		prompt := &domain.Prompt{
			SessionID: item.SessionID,
			Text:      item.Text,
			Embedding: p.embed(ctx, item.Text),
		}
		if _, err := p.store.AddPrompt(prompt); err != nil {
			log.Printf("[observer] prompt %d: %v", item.ID, err)
			if markErr := p.store.MarkPromptError(item.ID); markErr != nil {
				log.Printf("[observer] mark prompt error %d: %v", item.ID, markErr)
			}
			continue
		}
		if err := p.store.MarkPrompt(item.ID, domain.StatusProcessed); err != nil {
			return processed, fmt.Errorf("mark prompt %d: %w", item.ID, err)
		}
		processed++
	}
	return processed, nil
}

// group is one or more queue records merged into a single observation.
type group struct {
	lead     domain.ToolCallRecord
	ids      []int64
	input    string
	response string
}

// groupRecords merges bursts of consecutive read/search calls in the same
// session so a file-browsing spree becomes one observation instead of
// twenty.
func groupRecords(pending []domain.ToolCallRecord) []group {
	var groups []group
	var current *group

	for _, item := range pending {
		if current != nil &&
			current.lead.Tool == item.Tool &&
			mergeableTools[item.Tool] &&
			current.lead.SessionID == item.SessionID &&
			item.CreatedAt.Sub(current.lead.CreatedAt) < mergeWindow {
			current.ids = append(current.ids, item.ID)
			current.input += "\n" + clip(item.Input, 200)
			current.response += "\n" + clip(item.Response, 200)
			continue
		}
		if current != nil {
			groups = append(groups, *current)
		}
		current = &group{
			lead:     item,
			ids:      []int64{item.ID},
			input:    item.Input,
			response: item.Response,
		}
	}
	if current != nil {
		groups = append(groups, *current)
	}
	return groups
}

func (p *Pipeline) processGroup(ctx context.Context, g group) error {
	if skipTools[g.lead.Tool] || len(strings.TrimSpace(g.response)) < minResponseSize {
		return p.markAll(g.ids, domain.StatusSkipped)
	}

	desc := describe(g.lead.Tool, g.lead.Input, g.response)

	obs := &domain.Observation{
		// Deterministic id from the lead queue record: reprocessing after
		// a crash mid-run cannot produce a second row.
		ID:        fmt.Sprintf("tc-%d", g.lead.ID),
		SessionID: g.lead.SessionID,
		Type:      classify(desc.Summary),
		Title:     desc.Title,
		Summary:   desc.Summary,
		Files:     desc.Files,
		Tool:      g.lead.Tool,
		Embedding: p.embed(ctx, desc.Title+". "+desc.Summary),
	}

	if _, err := p.store.AddObservation(obs); err != nil {
		return fmt.Errorf("store observation: %w", err)
	}

	// Terminal status only after the observation row is durable.
	return p.markAll(g.ids, domain.StatusProcessed)
}

// embed returns nil on any embedding failure: coverage degrades, the item
// still completes.
func (p *Pipeline) embed(ctx context.Context, text string) []float32 {
	if p.embedder == nil {
		return nil
	}
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("[observer] embed failed: %v", err)
		return nil
	}
	return vec
}

func (p *Pipeline) markAll(ids []int64, status domain.QueueStatus) error {
	for _, id := range ids {
		if err := p.store.MarkToolCall(id, status); err != nil {
			return fmt.Errorf("mark %d: %w", id, err)
		}
	}
	return nil
}
