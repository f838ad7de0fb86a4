// Package kg extracts knowledge-graph entities and relationships from
// observation text. Three tiers propose candidates, a structural filter
// drops obvious noise, and a single model call per batch decides what is
// durable enough to keep.
package kg

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/memorable-dev/memorable/internal/domain"
	"github.com/memorable-dev/memorable/internal/foundation"
	"github.com/memorable-dev/memorable/internal/gazetteer"
	"github.com/memorable-dev/memorable/internal/llm"
	"github.com/memorable-dev/memorable/internal/ner"
	"github.com/memorable-dev/memorable/internal/store"
)

const batchLimit = 200

const filterSystem = `You curate a personal knowledge graph. You receive candidate
entities extracted from a developer's work session. Keep only entities that are
durable, specific, named things worth remembering across months: people, projects,
named technologies, organizations, services. Reject generic programming vocabulary,
one-off identifiers, and anything too vague to be useful later.
Respond with JSON only: {"keep": ["name", ...]} using the exact candidate names.`

// filterResponse is the shape the batch filter call must return.
type filterResponse struct {
	Keep []string `json:"keep"`
}

// Pipeline runs candidate extraction over new observations and stores the
// survivors in the graph.
type Pipeline struct {
	store      *store.Store
	gaz        *gazetteer.Gazetteer
	foundation foundation.Extractor
	ner        ner.Extractor
	completer  llm.Completer
}

// New returns a Pipeline. The foundation and ner extractors are optional
// sidecars and may be nil; the gazetteer tier always runs.
func New(st *store.Store, gaz *gazetteer.Gazetteer, fnd foundation.Extractor, nr ner.Extractor, completer llm.Completer) *Pipeline {
	return &Pipeline{
		store:      st,
		gaz:        gaz,
		foundation: fnd,
		ner:        nr,
		completer:  completer,
	}
}

// ProcessRecent extracts from observations created since the last successful
// run. The watermark is persisted and only advances on success, so a failed
// batch filter is retried whole on the next run rather than stored
// unfiltered, and extraction resumes where it left off across restarts.
func (p *Pipeline) ProcessRecent(ctx context.Context) (int, error) {
	since, err := p.store.ExtractionWatermark()
	if err != nil {
		return 0, fmt.Errorf("load watermark: %w", err)
	}

	observations, err := p.store.ObservationsSince(since, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("load observations: %w", err)
	}
	if len(observations) == 0 {
		return 0, nil
	}

	texts := make([]string, 0, len(observations))
	for _, obs := range observations {
		texts = append(texts, obs.Title+". "+obs.Summary)
	}

	approved, err := p.Extract(ctx, texts)
	if err != nil {
		return 0, err
	}

	last := observations[len(observations)-1].CreatedAt
	if err := p.store.SetExtractionWatermark(last); err != nil {
		return len(approved), fmt.Errorf("advance watermark: %w", err)
	}
	return len(approved), nil
}

// Extract runs the full pipeline over a batch of texts: tiered candidate
// generation, structural validity checks, one batch filter call, storage,
// and a gazetteer rebuild. It returns the approved entities.
func (p *Pipeline) Extract(ctx context.Context, texts []string) ([]domain.Candidate, error) {
	snap := p.gaz.Current()
	candidates, rels := p.generate(ctx, snap, texts)
	if len(candidates) == 0 {
		return nil, nil
	}

	approved, err := p.filter(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("batch filter: %w", err)
	}
	if len(approved) == 0 {
		return nil, nil
	}

	byName := make(map[string]domain.Candidate, len(approved))
	for _, cand := range approved {
		priority := domain.DefaultExtractionPriority
		if snap.Contains(cand.Name) {
			priority++
		}
		if err := p.store.UpsertEntity(cand.Name, cand.Type, cand.Description, priority); err != nil {
			return nil, fmt.Errorf("store entity %q: %w", cand.Name, err)
		}
		byName[strings.ToLower(cand.Name)] = cand
	}

	p.storeRelationships(snap, rels, byName)

	names, err := p.store.EntityNames(1)
	if err != nil {
		log.Printf("[kg] gazetteer rebuild: %v", err)
	} else {
		p.gaz.Rebuild(names)
	}
	return approved, nil
}

// Record writes a manually asserted fact straight into the graph, bypassing
// the filter. Priority comes from the caller; the store still refuses to
// touch sacred rows.
func (p *Pipeline) Record(name string, typ domain.EntityType, description string, priority int) error {
	if !domain.EntityTypes[typ] {
		typ = domain.EntityConcept
	}
	if err := p.store.UpsertEntity(name, typ, description, priority); err != nil {
		return err
	}
	if names, err := p.store.EntityNames(1); err == nil {
		p.gaz.Rebuild(names)
	}
	return nil
}

// generate runs the three candidate tiers over each text. Sidecar failures
// degrade to the remaining tiers; they never fail the batch.
func (p *Pipeline) generate(ctx context.Context, snap *gazetteer.Snapshot, texts []string) ([]domain.Candidate, []domain.CandidateRelationship) {
	seen := map[string]bool{}
	var candidates []domain.Candidate
	var rels []domain.CandidateRelationship

	add := func(cands []domain.Candidate) {
		for _, cand := range cands {
			cand.Name = strings.TrimSpace(cand.Name)
			// Gazetteer hits are already-confirmed names; only new
			// proposals go through the structural checks.
			if cand.Source != domain.SourceGazetteer && !isValidEntity(cand.Name) {
				continue
			}
			key := strings.ToLower(cand.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, cand)
		}
	}

	for _, text := range texts {
		add(snap.Lookup(text))

		if p.foundation != nil {
			cands, candRels, err := p.foundation.ExtractCandidates(ctx, text)
			if err != nil {
				log.Printf("[kg] foundation tier: %v", err)
			} else {
				add(cands)
				rels = append(rels, candRels...)
			}
		}

		if p.ner != nil {
			cands, err := p.ner.ExtractEntities(ctx, text)
			if err != nil {
				log.Printf("[kg] ner tier: %v", err)
			} else {
				add(cands)
			}
		}
	}
	return candidates, rels
}

// filter makes the single batch call that decides which candidates survive.
func (p *Pipeline) filter(ctx context.Context, candidates []domain.Candidate) ([]domain.Candidate, error) {
	var sb strings.Builder
	sb.WriteString("Candidate entities:\n")
	for _, cand := range candidates {
		fmt.Fprintf(&sb, "- %s (%s)", cand.Name, cand.Type)
		if cand.Description != "" {
			fmt.Fprintf(&sb, ": %s", clipDescription(cand.Description))
		}
		sb.WriteByte('\n')
	}

	var resp filterResponse
	if err := p.completer.CompleteJSON(ctx, sb.String(), filterSystem, &resp); err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(resp.Keep))
	for _, name := range resp.Keep {
		keep[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var approved []domain.Candidate
	for _, cand := range candidates {
		if keep[strings.ToLower(cand.Name)] {
			approved = append(approved, cand)
		}
	}
	return approved, nil
}

// storeRelationships writes foundation-proposed edges whose endpoints are
// both known, either approved this batch or already in the graph.
func (p *Pipeline) storeRelationships(snap *gazetteer.Snapshot, rels []domain.CandidateRelationship, approved map[string]domain.Candidate) {
	resolve := func(name string) (domain.EntityType, bool) {
		if cand, ok := approved[strings.ToLower(name)]; ok {
			return cand.Type, true
		}
		return snap.Type(name)
	}

	for _, rel := range rels {
		srcType, srcOK := resolve(rel.Source)
		tgtType, tgtOK := resolve(rel.Target)
		if !srcOK || !tgtOK {
			continue
		}
		confidence := rel.Confidence
		if confidence == 0 {
			confidence = 1.0
		}
		err := p.store.AddRelationship(&domain.Relationship{
			SourceName: rel.Source,
			SourceType: srcType,
			Type:       normalizeRelType(rel.Predicate),
			TargetName: rel.Target,
			TargetType: tgtType,
			Confidence: confidence,
		})
		if err != nil {
			log.Printf("[kg] store relationship %s -> %s: %v", rel.Source, rel.Target, err)
		}
	}
}

func clipDescription(s string) string {
	if len(s) <= 120 {
		return s
	}
	return s[:120]
}
