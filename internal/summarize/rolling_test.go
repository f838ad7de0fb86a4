package summarize

import (
	"context"
	"errors"
	"testing"

	"github.com/memorable-dev/memorable/internal/domain"
)

func addRecentSession(t *testing.T, p *Pipeline, id, title string) {
	t.Helper()
	_, err := p.store.AddSession(&domain.Session{
		ID:           id,
		Date:         "2026-08-28",
		Title:        title,
		Summary:      "Worked on " + title,
		MessageCount: 20,
		WordCount:    400,
		SourceHash:   "hash-" + id,
	})
	if err != nil {
		t.Fatalf("AddSession: %v", err)
	}
}

func TestRollingStaleWhenEmpty(t *testing.T) {
	p := newPipeline(setupStore(t), &fakeCompleter{})
	stale, err := p.RollingStale()
	if err != nil {
		t.Fatalf("RollingStale: %v", err)
	}
	if !stale {
		t.Error("no rolling summary yet should read as stale")
	}
}

func TestRefreshRollingNoSessions(t *testing.T) {
	completer := &fakeCompleter{}
	p := newPipeline(setupStore(t), completer)

	summary, err := p.RefreshRolling(context.Background())
	if err != nil {
		t.Fatalf("RefreshRolling: %v", err)
	}
	if summary != "" {
		t.Errorf("summary = %q, want empty with no sessions", summary)
	}
	if completer.calls != 0 {
		t.Errorf("completer called %d times with nothing to summarize", completer.calls)
	}
}

func TestRefreshRollingStoresSummary(t *testing.T) {
	completer := &fakeCompleter{}
	p := newPipeline(setupStore(t), completer)
	addRecentSession(t, p, "s1", "the auth refactor")
	addRecentSession(t, p, "s2", "search tuning")

	summary, err := p.RefreshRolling(context.Background())
	if err != nil {
		t.Fatalf("RefreshRolling: %v", err)
	}
	if summary == "" {
		t.Fatal("expected a summary")
	}
	if completer.calls != 1 {
		t.Errorf("completer calls = %d, want 1", completer.calls)
	}

	latest, err := p.store.LatestRollingSummary()
	if err != nil {
		t.Fatalf("LatestRollingSummary: %v", err)
	}
	if latest == nil || latest.Content != summary {
		t.Errorf("stored summary does not match returned one: %+v", latest)
	}
	if latest.SessionCount != 2 {
		t.Errorf("SessionCount = %d, want 2", latest.SessionCount)
	}

	stale, err := p.RollingStale()
	if err != nil {
		t.Fatalf("RollingStale: %v", err)
	}
	if stale {
		t.Error("freshly written summary should not be stale")
	}
}

func TestRefreshRollingCompletionFailure(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("overloaded")}
	p := newPipeline(setupStore(t), completer)
	addRecentSession(t, p, "s1", "the auth refactor")

	if _, err := p.RefreshRolling(context.Background()); err == nil {
		t.Fatal("completion failure should propagate")
	}
	latest, err := p.store.LatestRollingSummary()
	if err != nil {
		t.Fatalf("LatestRollingSummary: %v", err)
	}
	if latest != nil {
		t.Errorf("nothing should be stored on failure, got %+v", latest)
	}
}
