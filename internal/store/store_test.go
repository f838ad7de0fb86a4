package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/memorable-dev/memorable/internal/domain"
)

// setupStore creates a fresh database in a temp directory.
func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddSessionDedup(t *testing.T) {
	s := setupStore(t)

	first := &domain.Session{ID: "a", Date: "2026-08-01", Title: "First", SourceHash: "hash1"}
	written, err := s.AddSession(first)
	if err != nil {
		t.Fatalf("AddSession: %v", err)
	}
	if !written {
		t.Fatal("first write should succeed")
	}

	dup := &domain.Session{ID: "b", Date: "2026-08-02", Title: "Duplicate", SourceHash: "hash1"}
	written, err = s.AddSession(dup)
	if err != nil {
		t.Fatalf("AddSession duplicate: %v", err)
	}
	if written {
		t.Error("duplicate source hash should not be written")
	}

	sessions, err := s.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].Title != "First" {
		t.Errorf("Title = %q, want %q", sessions[0].Title, "First")
	}
}

func TestAddObservationIdempotence(t *testing.T) {
	s := setupStore(t)

	obs := &domain.Observation{
		ID:        "tc-7",
		SessionID: "sess",
		Type:      domain.ObsChange,
		Title:     "Edited server/kg.py",
		Summary:   "replaced 1 chars with 1 chars",
	}
	if _, err := s.AddObservation(obs); err != nil {
		t.Fatalf("AddObservation: %v", err)
	}
	// A crash between write and queue mark replays the same record.
	if _, err := s.AddObservation(obs); err != nil {
		t.Fatalf("AddObservation replay: %v", err)
	}

	all, err := s.AllObservations()
	if err != nil {
		t.Fatalf("AllObservations: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d observations, want 1", len(all))
	}
}

func TestObservationEmbeddingRoundtrip(t *testing.T) {
	s := setupStore(t)

	vec := []float32{0.1, -0.5, 2.25}
	obs := &domain.Observation{
		SessionID: "sess",
		Type:      domain.ObsDiscovery,
		Title:     "Read main.go",
		Summary:   "read",
		Embedding: vec,
	}
	if _, err := s.AddObservation(obs); err != nil {
		t.Fatalf("AddObservation: %v", err)
	}

	all, err := s.AllObservations()
	if err != nil {
		t.Fatalf("AllObservations: %v", err)
	}
	got := all[0].Embedding
	if len(got) != len(vec) {
		t.Fatalf("embedding length = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestUpsertEntitySacredImmutable(t *testing.T) {
	s := setupStore(t)

	err := s.UpsertEntity("Postgres", domain.EntityTechnology, "the database of choice", domain.SacredPriority)
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	// An automated batch proposing the same pair at a lower priority must
	// leave the sacred row untouched.
	err = s.UpsertEntity("postgres", domain.EntityTechnology, "some db", domain.DefaultExtractionPriority)
	if err != nil {
		t.Fatalf("UpsertEntity lower: %v", err)
	}

	entities, err := s.QueryEntities(EntityQuery{Name: "Postgres"})
	if err != nil {
		t.Fatalf("QueryEntities: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("got %d entities, want 1", len(entities))
	}
	e := entities[0]
	if e.Priority != domain.SacredPriority {
		t.Errorf("Priority = %d, want %d", e.Priority, domain.SacredPriority)
	}
	if e.Description != "the database of choice" {
		t.Errorf("Description = %q, overwritten on sacred row", e.Description)
	}
}

func TestUpsertEntityPriorityNeverLowered(t *testing.T) {
	s := setupStore(t)

	if err := s.UpsertEntity("memorable", domain.EntityProject, "", 7); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	if err := s.UpsertEntity("memorable", domain.EntityProject, "memory system", 5); err != nil {
		t.Fatalf("UpsertEntity again: %v", err)
	}

	entities, err := s.QueryEntities(EntityQuery{Name: "memorable"})
	if err != nil {
		t.Fatalf("QueryEntities: %v", err)
	}
	if entities[0].Priority != 7 {
		t.Errorf("Priority = %d, want 7", entities[0].Priority)
	}
	if entities[0].Description != "memory system" {
		t.Errorf("Description = %q, want %q", entities[0].Description, "memory system")
	}
}

func TestToolQueueRetries(t *testing.T) {
	s := setupStore(t)

	id, err := s.EnqueueToolCall("sess", "Bash", `{"command":"ls"}`, "main.go")
	if err != nil {
		t.Fatalf("EnqueueToolCall: %v", err)
	}

	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		pending, err := s.PendingToolCalls(10, maxRetries)
		if err != nil {
			t.Fatalf("PendingToolCalls: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("attempt %d: got %d pending, want 1", i, len(pending))
		}
		if err := s.MarkToolCallError(id); err != nil {
			t.Fatalf("MarkToolCallError: %v", err)
		}
	}

	pending, err := s.PendingToolCalls(10, maxRetries)
	if err != nil {
		t.Fatalf("PendingToolCalls: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("exhausted item still pending after %d retries", maxRetries)
	}
}

func TestToolQueueTruncation(t *testing.T) {
	s := setupStore(t)

	big := make([]byte, 10000)
	for i := range big {
		big[i] = 'x'
	}
	id, err := s.EnqueueToolCall("sess", "Read", string(big), string(big))
	if err != nil {
		t.Fatalf("EnqueueToolCall: %v", err)
	}
	_ = id

	pending, err := s.PendingToolCalls(10, 3)
	if err != nil {
		t.Fatalf("PendingToolCalls: %v", err)
	}

	const marker = "\n[...truncated]"
	for _, payload := range []string{pending[0].Input, pending[0].Response} {
		if len(payload) != maxQueuePayload+len(marker) {
			t.Errorf("payload length = %d, want %d plus marker", len(payload), maxQueuePayload)
		}
		if !strings.HasSuffix(payload, marker) {
			t.Error("truncated payload missing marker")
		}
	}
}

func TestPromptQueueLifecycle(t *testing.T) {
	s := setupStore(t)

	id, err := s.EnqueuePrompt("sess", "refactor the session store")
	if err != nil {
		t.Fatalf("EnqueuePrompt: %v", err)
	}

	pending, err := s.PendingPrompts(10, 3)
	if err != nil {
		t.Fatalf("PendingPrompts: %v", err)
	}
	if len(pending) != 1 || pending[0].Text != "refactor the session store" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := s.MarkPrompt(id, domain.StatusProcessed); err != nil {
		t.Fatalf("MarkPrompt: %v", err)
	}
	pending, err = s.PendingPrompts(10, 3)
	if err != nil {
		t.Fatalf("PendingPrompts: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("processed prompt still pending: %+v", pending)
	}
}

func TestPromptQueueRetries(t *testing.T) {
	s := setupStore(t)

	id, err := s.EnqueuePrompt("sess", "some text")
	if err != nil {
		t.Fatalf("EnqueuePrompt: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.MarkPromptError(id); err != nil {
			t.Fatalf("MarkPromptError: %v", err)
		}
	}

	pending, err := s.PendingPrompts(10, 3)
	if err != nil {
		t.Fatalf("PendingPrompts: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("prompt with exhausted retries still pending: %+v", pending)
	}
}

func TestExtractionWatermark(t *testing.T) {
	s := setupStore(t)

	ts, err := s.ExtractionWatermark()
	if err != nil {
		t.Fatalf("ExtractionWatermark: %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("fresh store watermark = %v, want zero", ts)
	}

	want := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if err := s.SetExtractionWatermark(want); err != nil {
		t.Fatalf("SetExtractionWatermark: %v", err)
	}
	got, err := s.ExtractionWatermark()
	if err != nil {
		t.Fatalf("ExtractionWatermark: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("watermark = %v, want %v", got, want)
	}

	// Advancing overwrites the single row.
	later := want.Add(time.Hour)
	if err := s.SetExtractionWatermark(later); err != nil {
		t.Fatalf("SetExtractionWatermark: %v", err)
	}
	if got, _ := s.ExtractionWatermark(); !got.Equal(later) {
		t.Errorf("watermark = %v, want %v", got, later)
	}
}

func TestTranscriptQueueHashDedup(t *testing.T) {
	s := setupStore(t)

	if err := s.EnqueueTranscript("/tmp/a.jsonl", "abc123"); err != nil {
		t.Fatalf("EnqueueTranscript: %v", err)
	}
	if err := s.EnqueueTranscript("/tmp/a-moved.jsonl", "abc123"); err != nil {
		t.Fatalf("EnqueueTranscript duplicate: %v", err)
	}

	pending, err := s.PendingTranscripts(10, 3)
	if err != nil {
		t.Fatalf("PendingTranscripts: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending transcripts, want 1", len(pending))
	}

	known, err := s.HasTranscriptHash("abc123")
	if err != nil {
		t.Fatalf("HasTranscriptHash: %v", err)
	}
	if !known {
		t.Error("hash should be known after enqueue")
	}
}

func TestPromptSequence(t *testing.T) {
	s := setupStore(t)

	for _, text := range []string{"first", "second", "third"} {
		if _, err := s.AddPrompt(&domain.Prompt{SessionID: "sess", Text: text}); err != nil {
			t.Fatalf("AddPrompt(%q): %v", text, err)
		}
	}
	// A different session gets its own sequence.
	if _, err := s.AddPrompt(&domain.Prompt{SessionID: "other", Text: "hello"}); err != nil {
		t.Fatalf("AddPrompt other session: %v", err)
	}

	prompts, err := s.SessionPrompts("sess")
	if err != nil {
		t.Fatalf("SessionPrompts: %v", err)
	}
	if len(prompts) != 3 {
		t.Fatalf("got %d prompts, want 3", len(prompts))
	}
	for i, p := range prompts {
		if p.Seq != i+1 {
			t.Errorf("prompt %d: Seq = %d, want %d", i, p.Seq, i+1)
		}
	}
}

func TestRelationshipUpsert(t *testing.T) {
	s := setupStore(t)

	rel := &domain.Relationship{
		SourceName: "memorable",
		SourceType: domain.EntityProject,
		Type:       "uses",
		TargetName: "SQLite",
		TargetType: domain.EntityTechnology,
		Confidence: 0.9,
	}
	if err := s.AddRelationship(rel); err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}
	again := &domain.Relationship{
		SourceName: "memorable",
		SourceType: domain.EntityProject,
		Type:       "uses",
		TargetName: "SQLite",
		TargetType: domain.EntityTechnology,
		Confidence: 1.0,
	}
	if err := s.AddRelationship(again); err != nil {
		t.Fatalf("AddRelationship again: %v", err)
	}

	rels, err := s.Relationships("memorable", 10)
	if err != nil {
		t.Fatalf("Relationships: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("got %d relationships, want 1", len(rels))
	}
	if rels[0].Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0 after re-extraction", rels[0].Confidence)
	}
}

func TestEntityNamesLowercased(t *testing.T) {
	s := setupStore(t)

	if err := s.UpsertEntity("React Router", domain.EntityTechnology, "", 5); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	names, err := s.EntityNames(1)
	if err != nil {
		t.Fatalf("EntityNames: %v", err)
	}
	if _, ok := names["react router"]; !ok {
		t.Errorf("names = %v, want lowercased key", names)
	}
}
