package observer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/memorable-dev/memorable/internal/domain"
	"github.com/memorable-dev/memorable/internal/store"
)

type stubEmbedder struct {
	vec  []float32
	err  error
	seen int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.seen++
	return e.vec, e.err
}

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProcessPendingEditRecord(t *testing.T) {
	s := setupStore(t)
	emb := &stubEmbedder{vec: []float32{0.1, 0.2}}
	p := New(s, emb, 3)

	_, err := s.EnqueueToolCall("sess", "Edit",
		`{"file_path":"server/kg.py","old_string":"x","new_string":"y"}`,
		"The file has been updated successfully")
	if err != nil {
		t.Fatalf("EnqueueToolCall: %v", err)
	}

	n, err := p.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	all, err := s.AllObservations()
	if err != nil {
		t.Fatalf("AllObservations: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d observations, want 1", len(all))
	}
	obs := all[0]
	if obs.Type != domain.ObsChange {
		t.Errorf("Type = %q, want change", obs.Type)
	}
	if obs.Title != "Edited server/kg.py" {
		t.Errorf("Title = %q", obs.Title)
	}
	if obs.Embedding == nil {
		t.Error("embedding should be set when the embedder succeeds")
	}

	pending, err := s.PendingToolCalls(10, 3)
	if err != nil {
		t.Fatalf("PendingToolCalls: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("queue should be drained, %d left", len(pending))
	}
}

func TestProcessPendingEmbedFailureStillProcesses(t *testing.T) {
	s := setupStore(t)
	emb := &stubEmbedder{err: errors.New("service down")}
	p := New(s, emb, 3)

	if _, err := s.EnqueueToolCall("sess", "Write",
		`{"file_path":"notes.md"}`, "File written with enough content"); err != nil {
		t.Fatalf("EnqueueToolCall: %v", err)
	}

	if _, err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}

	all, err := s.AllObservations()
	if err != nil {
		t.Fatalf("AllObservations: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d observations, want 1", len(all))
	}
	if all[0].Embedding != nil {
		t.Error("embedding should be nil after embed failure")
	}
	pending, _ := s.PendingToolCalls(10, 3)
	if len(pending) != 0 {
		t.Error("item should be processed despite embed failure")
	}
}

func TestProcessPendingDrainsPromptQueue(t *testing.T) {
	s := setupStore(t)
	emb := &stubEmbedder{vec: []float32{0.5, 0.5}}
	p := New(s, emb, 3)

	if _, err := s.EnqueuePrompt("sess", "How do I rotate the API keys?"); err != nil {
		t.Fatalf("EnqueuePrompt: %v", err)
	}

	n, err := p.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d items, want 1", n)
	}

	prompts, err := s.SessionPrompts("sess")
	if err != nil {
		t.Fatalf("SessionPrompts: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("got %d prompts, want 1", len(prompts))
	}
	if prompts[0].Text != "How do I rotate the API keys?" {
		t.Errorf("prompt text = %q", prompts[0].Text)
	}
	if prompts[0].Embedding == nil {
		t.Error("prompt should carry the embedding from the pipeline")
	}
	if emb.seen != 1 {
		t.Errorf("embedder called %d times, want 1", emb.seen)
	}

	pending, _ := s.PendingPrompts(10, 3)
	if len(pending) != 0 {
		t.Errorf("prompt queue should be drained, %d left", len(pending))
	}
}

func TestProcessPendingPromptEmbedFailure(t *testing.T) {
	s := setupStore(t)
	emb := &stubEmbedder{err: errors.New("service down")}
	p := New(s, emb, 3)

	if _, err := s.EnqueuePrompt("sess", "deploy the staging branch"); err != nil {
		t.Fatalf("EnqueuePrompt: %v", err)
	}

	if _, err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}

	prompts, err := s.SessionPrompts("sess")
	if err != nil {
		t.Fatalf("SessionPrompts: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("got %d prompts, want 1", len(prompts))
	}
	if prompts[0].Embedding != nil {
		t.Error("embedding should be nil after embed failure")
	}
	pending, _ := s.PendingPrompts(10, 3)
	if len(pending) != 0 {
		t.Error("prompt should be processed despite embed failure")
	}
}

func TestProcessPendingSkipsBlankPrompt(t *testing.T) {
	s := setupStore(t)
	p := New(s, nil, 3)

	if _, err := s.EnqueuePrompt("sess", "   \n"); err != nil {
		t.Fatalf("EnqueuePrompt: %v", err)
	}

	if _, err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}

	prompts, _ := s.SessionPrompts("sess")
	if len(prompts) != 0 {
		t.Errorf("got %d prompts, want 0", len(prompts))
	}
	pending, _ := s.PendingPrompts(10, 3)
	if len(pending) != 0 {
		t.Errorf("blank prompt should leave the queue, %d left", len(pending))
	}
}

func TestProcessPendingSkipsTinyAndBookkeeping(t *testing.T) {
	s := setupStore(t)
	p := New(s, nil, 3)

	if _, err := s.EnqueueToolCall("sess", "TodoWrite", `{}`, "todo list updated, quite verbose"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EnqueueToolCall("sess", "Read", `{"file_path":"a.go"}`, "ok"); err != nil {
		t.Fatal(err)
	}

	if _, err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}

	all, _ := s.AllObservations()
	if len(all) != 0 {
		t.Errorf("got %d observations, want 0", len(all))
	}
	pending, _ := s.PendingToolCalls(10, 3)
	if len(pending) != 0 {
		t.Errorf("skipped items should leave the queue, %d left", len(pending))
	}
}

func TestGroupRecordsMergesReadBursts(t *testing.T) {
	s := setupStore(t)
	p := New(s, nil, 3)

	for _, f := range []string{"a.go", "b.go", "c.go"} {
		if _, err := s.EnqueueToolCall("sess", "Read",
			`{"file_path":"`+f+`"}`, "package main, contents of "+f); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.EnqueueToolCall("sess", "Edit",
		`{"file_path":"a.go","old_string":"x","new_string":"yy"}`,
		"The file has been updated successfully"); err != nil {
		t.Fatal(err)
	}

	n, err := p.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	// Three consecutive reads merge into one observation, plus the edit.
	if n != 2 {
		t.Fatalf("processed groups = %d, want 2", n)
	}
	all, _ := s.AllObservations()
	if len(all) != 2 {
		t.Fatalf("got %d observations, want 2", len(all))
	}
}

func TestProcessPendingReplaySafe(t *testing.T) {
	s := setupStore(t)
	p := New(s, nil, 3)

	id, err := s.EnqueueToolCall("sess", "Write", `{"file_path":"x.md"}`, "wrote the file with some content")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	// Simulate a crash after the observation write but before the queue
	// mark: the item comes back pending and is processed again.
	if err := s.MarkToolCall(id, domain.StatusPending); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending replay: %v", err)
	}

	all, _ := s.AllObservations()
	if len(all) != 1 {
		t.Fatalf("got %d observations after replay, want 1", len(all))
	}
}
