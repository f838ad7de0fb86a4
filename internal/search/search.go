// Package search implements hybrid retrieval over sessions, observations,
// and prompts: a cheap keyword pass plus a semantic pass over stored
// embeddings, fused into one ranked list.
package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/memorable-dev/memorable/internal/domain"
	"github.com/memorable-dev/memorable/internal/embedding"
	"github.com/memorable-dev/memorable/internal/store"
)

// Result is one ranked hit. Exactly one of Session, Observation, Prompt is
// set, matching Kind.
type Result struct {
	Kind        string              `json:"kind"` // "session", "observation", "prompt"
	ID          string              `json:"id"`
	Score       float64             `json:"score"`
	Keyword     bool                `json:"keyword_match"`
	Similarity  float64             `json:"similarity,omitempty"`
	Session     *domain.Session     `json:"session,omitempty"`
	Observation *domain.Observation `json:"observation,omitempty"`
	Prompt      *domain.Prompt      `json:"prompt,omitempty"`
	createdAt   time.Time
}

// Engine runs hybrid queries. The embedder may be nil, which degrades to
// keyword-only search.
type Engine struct {
	store    *store.Store
	embedder embedding.Embedder

	semanticWeight    float64
	keywordBonus      float64
	distanceThreshold float64
}

// New returns a search engine with the given fusion weights and semantic
// distance cutoff.
func New(st *store.Store, embedder embedding.Embedder, semanticWeight, keywordBonus, distanceThreshold float64) *Engine {
	return &Engine{
		store:             st,
		embedder:          embedder,
		semanticWeight:    semanticWeight,
		keywordBonus:      keywordBonus,
		distanceThreshold: distanceThreshold,
	}
}

// Search runs both passes over every record kind and returns the fused
// top results. Records matched by neither pass are excluded. Embedding
// failures degrade to keyword-only rather than failing the query.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	var queryVec []float32
	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			log.Printf("[search] embed query: %v", err)
		} else {
			queryVec = vec
		}
	}

	results, err := e.collect(query, queryVec)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].createdAt.After(results[j].createdAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) collect(query string, queryVec []float32) ([]Result, error) {
	needle := strings.ToLower(query)
	seen := map[string]bool{}
	var results []Result

	add := func(r Result, texts []string, vec []float32) {
		if seen[r.Kind+":"+r.ID] {
			return
		}
		keyword := false
		for _, t := range texts {
			if strings.Contains(strings.ToLower(t), needle) {
				keyword = true
				break
			}
		}
		similarity := 0.0
		if queryVec != nil && vec != nil {
			dist := embedding.CosineDistance(queryVec, vec)
			if dist <= e.distanceThreshold {
				similarity = embedding.SimilarityScore(dist)
			}
		}
		score := e.fuse(similarity, keyword)
		if score <= 0 {
			return
		}
		seen[r.Kind+":"+r.ID] = true
		r.Keyword = keyword
		r.Similarity = similarity
		r.Score = score
		results = append(results, r)
	}

	sessions, err := e.store.RecentSessions(500)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	for i := range sessions {
		s := &sessions[i]
		add(Result{Kind: "session", ID: s.ID, Session: s, createdAt: s.CreatedAt},
			[]string{s.Title, s.Summary, s.Header}, s.Embedding)
	}

	observations, err := e.store.AllObservations()
	if err != nil {
		return nil, fmt.Errorf("search observations: %w", err)
	}
	for i := range observations {
		o := &observations[i]
		add(Result{Kind: "observation", ID: o.ID, Observation: o, createdAt: o.CreatedAt},
			[]string{o.Title, o.Summary}, o.Embedding)
	}

	prompts, err := e.store.AllPrompts()
	if err != nil {
		return nil, fmt.Errorf("search prompts: %w", err)
	}
	for i := range prompts {
		p := &prompts[i]
		add(Result{Kind: "prompt", ID: p.ID, Prompt: p, createdAt: p.CreatedAt},
			[]string{p.Text}, p.Embedding)
	}

	return results, nil
}

// fuse combines the two signals. Monotonic in both: adding a keyword match
// never lowers a score, and a higher similarity never ranks below a lower
// one at equal keyword state.
func (e *Engine) fuse(similarity float64, keyword bool) float64 {
	score := e.semanticWeight * similarity
	if keyword {
		score += e.keywordBonus
	}
	return score
}
