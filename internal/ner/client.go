// Package ner provides the zero-shot named-entity-recognition fallback
// tier, consumed as a local HTTP sidecar (a GLiNER-style tagger).
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/memorable-dev/memorable/internal/domain"
)

// Extractor is the NER capability consumed by the extraction pipeline.
type Extractor interface {
	ExtractEntities(ctx context.Context, text string) ([]domain.Candidate, error)
}

// Client calls a local NER sidecar over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client for the sidecar at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// sidecarLabel maps the tagger's label set onto our entity types.
var sidecarLabel = map[string]domain.EntityType{
	"person":               domain.EntityPerson,
	"technology":           domain.EntityTechnology,
	"project":              domain.EntityProject,
	"programming language": domain.EntityLanguage,
	"company":              domain.EntityOrganization,
	"framework":            domain.EntityTechnology,
	"hardware":             domain.EntityTechnology,
}

// ExtractEntities runs a zero-shot NER pass over text. Malformed sidecar
// output is coerced; entries that cannot be coerced are dropped, never
// propagated as errors.
func (c *Client) ExtractEntities(ctx context.Context, text string) ([]domain.Candidate, error) {
	labels := make([]string, 0, len(sidecarLabel))
	for l := range sidecarLabel {
		labels = append(labels, l)
	}

	reqBody := extractRequest{Text: text, Labels: labels, Threshold: 0.4}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/extract", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp extractResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var candidates []domain.Candidate
	for _, e := range apiResp.Entities {
		if e.Text == "" {
			continue
		}
		typ, ok := sidecarLabel[e.Label]
		if !ok {
			typ = domain.EntityConcept
		}
		candidates = append(candidates, domain.Candidate{
			Name:   e.Text,
			Type:   typ,
			Source: domain.SourceNER,
		})
	}
	return candidates, nil
}

type extractRequest struct {
	Text      string   `json:"text"`
	Labels    []string `json:"labels"`
	Threshold float64  `json:"threshold"`
}

type extractResponse struct {
	Entities []struct {
		Text  string `json:"text"`
		Label string `json:"label"`
	} `json:"entities"`
}
