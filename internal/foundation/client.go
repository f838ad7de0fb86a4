// Package foundation provides the low-cost candidate-extraction tier,
// consumed as a local foundation-model sidecar over HTTP. It is fast and
// free but over-generates; the batch filter downstream cleans up after it.
package foundation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/memorable-dev/memorable/internal/domain"
)

// Extractor is the foundation-tier capability consumed by the extraction
// pipeline.
type Extractor interface {
	ExtractCandidates(ctx context.Context, text string) ([]domain.Candidate, []domain.CandidateRelationship, error)
}

// Client calls a local foundation-model sidecar.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client for the sidecar at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ExtractCandidates asks the sidecar for entity and relationship proposals.
// Untyped output is validated and coerced at this boundary: entries with an
// unknown type become concepts, entries with no name are dropped.
func (c *Client) ExtractCandidates(ctx context.Context, text string) ([]domain.Candidate, []domain.CandidateRelationship, error) {
	reqBody := map[string]string{"text": text}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/candidates", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("foundation error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp candidateResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var candidates []domain.Candidate
	for _, e := range apiResp.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		typ := domain.EntityType(strings.ToLower(strings.TrimSpace(e.Type)))
		if !domain.EntityTypes[typ] {
			typ = domain.EntityConcept
		}
		candidates = append(candidates, domain.Candidate{
			Name:        name,
			Type:        typ,
			Description: strings.TrimSpace(e.Description),
			Source:      domain.SourceFoundation,
		})
	}

	var rels []domain.CandidateRelationship
	for _, r := range apiResp.Relationships {
		source := strings.TrimSpace(r.Source)
		target := strings.TrimSpace(r.Target)
		pred := strings.TrimSpace(r.Predicate)
		if source == "" || target == "" || pred == "" || strings.EqualFold(source, target) {
			continue
		}
		rels = append(rels, domain.CandidateRelationship{
			Source:     source,
			Predicate:  pred,
			Target:     target,
			Confidence: r.Confidence,
		})
	}

	return candidates, rels, nil
}

type candidateResponse struct {
	Entities []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"entities"`
	Relationships []struct {
		Source     string  `json:"source"`
		Predicate  string  `json:"predicate"`
		Target     string  `json:"target"`
		Confidence float64 `json:"confidence"`
	} `json:"relationships"`
}
