// Package summarize turns idle transcripts into immutable session records.
// Preconditions gate every model call: short or mostly-autonomous sessions
// are skipped outright rather than summarized badly.
package summarize

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/memorable-dev/memorable/internal/config"
	"github.com/memorable-dev/memorable/internal/domain"
	"github.com/memorable-dev/memorable/internal/embedding"
	"github.com/memorable-dev/memorable/internal/llm"
	"github.com/memorable-dev/memorable/internal/store"
	"github.com/memorable-dev/memorable/internal/transcript"
)

const summarySystem = `You summarize development sessions for a personal memory
system. Given a compressed conversation, respond with JSON only:
{"summary": "...", "header": "..."}
The summary is 2-4 sentences of what happened: what was built, fixed, or
decided, with specific project and file names. The header is a compact
comma-separated tag line (3-6 tags) for scanning, like "auth, jwt, bugfix".`

// summaryResponse is the shape the completion call must return.
type summaryResponse struct {
	Summary string `json:"summary"`
	Header  string `json:"header"`
}

// Pipeline converts queued transcripts into Session records.
type Pipeline struct {
	store     *store.Store
	completer llm.Completer
	embedder  embedding.Embedder

	minMessages     int
	minHumanWords   int
	minHumanRatio   float64
	compressionRate float64
	maxRetries      int
}

// New returns a summarization pipeline wired to the store and model clients.
// The embedder may be nil; session observations then go in without vectors.
func New(st *store.Store, completer llm.Completer, embedder embedding.Embedder, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:           st,
		completer:       completer,
		embedder:        embedder,
		minMessages:     cfg.MinMessages,
		minHumanWords:   cfg.MinHumanWords,
		minHumanRatio:   cfg.MinHumanRatio,
		compressionRate: cfg.CompressionRate,
		maxRetries:      cfg.MaxRetries,
	}
}

// ProcessPending summarizes every queued transcript, oldest first. A failure
// on one item marks it for retry and moves on.
func (p *Pipeline) ProcessPending(ctx context.Context) (int, error) {
	items, err := p.store.PendingTranscripts(50, p.maxRetries)
	if err != nil {
		return 0, fmt.Errorf("load pending transcripts: %w", err)
	}

	done := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := p.Summarize(ctx, item); err != nil {
			log.Printf("[summarize] %s: %v", filepath.Base(item.Path), err)
			if markErr := p.store.MarkTranscriptError(item.ID, err.Error()); markErr != nil {
				return done, markErr
			}
			continue
		}
		done++
	}
	return done, nil
}

// Summarize processes one queued transcript end to end. Precondition
// failures mark the item skipped, not errored; only model and storage
// failures are retryable.
func (p *Pipeline) Summarize(ctx context.Context, item domain.TranscriptRecord) error {
	conv, err := transcript.Parse(item.Path)
	if err != nil {
		return err
	}

	if reason := p.checkPreconditions(conv); reason != "" {
		return p.store.MarkTranscript(item.ID, domain.StatusSkipped, reason)
	}

	// Same content already summarized under another path; no model call.
	if known, err := p.store.HasSessionHash(item.Hash); err != nil {
		return err
	} else if known {
		return p.store.MarkTranscript(item.ID, domain.StatusSkipped, "duplicate content")
	}

	written, err := p.writeSession(ctx, item, conv)
	if err != nil {
		return err
	}
	if !written {
		// Another run already stored this content hash.
		return p.store.MarkTranscript(item.ID, domain.StatusSkipped, "duplicate content")
	}
	return p.store.MarkTranscript(item.ID, domain.StatusProcessed, "")
}

// checkPreconditions returns a skip reason, or "" when the conversation is
// worth summarizing.
func (p *Pipeline) checkPreconditions(conv *transcript.Conversation) string {
	if n := conv.MessageCount(); n < p.minMessages {
		return fmt.Sprintf("too few messages (%d)", n)
	}
	human := conv.HumanWords()
	if human < p.minHumanWords {
		return fmt.Sprintf("too few human words (%d)", human)
	}
	total := conv.TotalWords()
	if total > 0 && float64(human)/float64(total) < p.minHumanRatio {
		return "autonomous session"
	}
	return ""
}

func (p *Pipeline) writeSession(ctx context.Context, item domain.TranscriptRecord, conv *transcript.Conversation) (bool, error) {
	compressed := Compress(conv.Format(), p.compressionRate)

	var resp summaryResponse
	if err := p.completer.CompleteJSON(ctx, compressed, summarySystem, &resp); err != nil {
		return false, fmt.Errorf("summary completion: %w", err)
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return false, fmt.Errorf("summary completion: empty summary")
	}

	sess := &domain.Session{
		ID:             uuid.NewString(),
		Date:           conv.Date.Format("2006-01-02"),
		Title:          conv.Title(),
		Summary:        resp.Summary,
		Header:         resp.Header,
		MessageCount:   conv.MessageCount(),
		WordCount:      conv.TotalWords(),
		HumanWordCount: conv.HumanWords(),
		SourceHash:     item.Hash,
	}
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, sess.Title+". "+sess.Summary)
		if err != nil {
			log.Printf("[summarize] embed session: %v", err)
		} else {
			sess.Embedding = vec
		}
	}
	written, err := p.store.AddSession(sess)
	if err != nil {
		return false, fmt.Errorf("store session: %w", err)
	}
	if written {
		p.addSessionObservation(ctx, sess)
	}
	return written, nil
}

// addSessionObservation makes the finished session retrievable through the
// same search path as tool-call observations. Best effort; the session
// record itself is already durable.
func (p *Pipeline) addSessionObservation(ctx context.Context, sess *domain.Session) {
	obs := &domain.Observation{
		ID:        "session-" + sess.SourceHash,
		SessionID: sess.ID,
		Type:      domain.ObsSessionSummary,
		Title:     sess.Title,
		Summary:   sess.Summary,
	}
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, obs.Title+". "+obs.Summary)
		if err != nil {
			log.Printf("[summarize] embed session observation: %v", err)
		} else {
			obs.Embedding = vec
		}
	}
	if _, err := p.store.AddObservation(obs); err != nil {
		log.Printf("[summarize] store session observation: %v", err)
	}
}
