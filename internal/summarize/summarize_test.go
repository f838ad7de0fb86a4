package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/memorable-dev/memorable/internal/config"
	"github.com/memorable-dev/memorable/internal/domain"
	"github.com/memorable-dev/memorable/internal/store"
	"github.com/memorable-dev/memorable/internal/transcript"
)

// fakeCompleter counts calls and returns a canned summary payload.
type fakeCompleter struct {
	err   error
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	b, _ := json.Marshal(map[string]string{
		"summary": "Fixed the login redirect and added a regression test.",
		"header":  "auth, bugfix",
	})
	return string(b), nil
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, prompt, system string, out any) error {
	raw, err := f.Complete(ctx, prompt, system, 0)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
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

// writeAndQueue builds a JSONL transcript with the given turns and queues it.
func writeAndQueue(t *testing.T, s *store.Store, turns [][2]string) domain.TranscriptRecord {
	t.Helper()
	var lines []string
	for _, turn := range turns {
		entry := map[string]any{
			"type": turn[0],
			"message": map[string]any{
				"role":    turn[0],
				"content": turn[1],
			},
		}
		b, _ := json.Marshal(entry)
		lines = append(lines, string(b))
	}
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		t.Fatal(err)
	}
	hash, err := transcript.HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueTranscript(path, hash); err != nil {
		t.Fatal(err)
	}
	pending, err := s.PendingTranscripts(10, 3)
	if err != nil || len(pending) == 0 {
		t.Fatalf("PendingTranscripts: %v", err)
	}
	return pending[len(pending)-1]
}

// longTurns builds a conversation that clears every precondition.
func longTurns() [][2]string {
	var turns [][2]string
	turns = append(turns, [2]string{"user", "can you fix the login redirect bug in the auth service? it has been broken since yesterday"})
	for i := 0; i < 10; i++ {
		turns = append(turns, [2]string{"user", fmt.Sprintf(
			"message %d: the redirect keeps dropping the return path after sign in, please check the handler code again", i)})
		turns = append(turns, [2]string{"assistant", fmt.Sprintf(
			"Working on it, iteration %d of the redirect handler rewrite.", i)})
	}
	return turns
}

func newPipeline(s *store.Store, completer *fakeCompleter) *Pipeline {
	cfg := config.Defaults()
	return New(s, completer, nil, &cfg)
}

func TestSummarizeShortSessionSkipped(t *testing.T) {
	s := setupStore(t)
	completer := &fakeCompleter{}
	p := newPipeline(s, completer)

	// 8 messages, about 40 human words: both preconditions fail.
	var turns [][2]string
	for i := 0; i < 4; i++ {
		turns = append(turns, [2]string{"user", "please check the build again for me now"})
		turns = append(turns, [2]string{"assistant", "Checking the build."})
	}
	item := writeAndQueue(t, s, turns)

	if err := p.Summarize(context.Background(), item); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if completer.calls != 0 {
		t.Errorf("completion called %d times for a skipped session", completer.calls)
	}
	sessions, _ := s.RecentSessions(10)
	if len(sessions) != 0 {
		t.Errorf("got %d sessions, want 0", len(sessions))
	}
	pending, _ := s.PendingTranscripts(10, 3)
	if len(pending) != 0 {
		t.Error("skipped item should leave the queue")
	}
}

func TestSummarizeWritesSession(t *testing.T) {
	s := setupStore(t)
	completer := &fakeCompleter{}
	p := newPipeline(s, completer)
	item := writeAndQueue(t, s, longTurns())

	if err := p.Summarize(context.Background(), item); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	sessions, err := s.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	sess := sessions[0]
	if sess.Summary != "Fixed the login redirect and added a regression test." {
		t.Errorf("Summary = %q", sess.Summary)
	}
	if sess.Header != "auth, bugfix" {
		t.Errorf("Header = %q", sess.Header)
	}
	if !strings.HasPrefix(sess.Title, "can you fix the login redirect bug in the auth service") {
		t.Errorf("Title = %q", sess.Title)
	}
	if sess.HumanWordCount < 100 {
		t.Errorf("HumanWordCount = %d, want >= 100", sess.HumanWordCount)
	}

	// The finished session is surfaced as an observation for search.
	observations, _ := s.AllObservations()
	if len(observations) != 1 {
		t.Fatalf("got %d observations, want 1", len(observations))
	}
	if observations[0].Type != domain.ObsSessionSummary {
		t.Errorf("observation type = %q", observations[0].Type)
	}
}

func TestSummarizeCompletionFailureRetries(t *testing.T) {
	s := setupStore(t)
	completer := &fakeCompleter{err: errors.New("overloaded")}
	p := newPipeline(s, completer)
	writeAndQueue(t, s, longTurns())

	done, err := p.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if done != 0 {
		t.Errorf("done = %d, want 0", done)
	}

	// The item is marked error with a bumped retry count, still eligible.
	pending, _ := s.PendingTranscripts(10, 3)
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1 retryable item", len(pending))
	}
	if pending[0].Status != domain.StatusError {
		t.Errorf("Status = %q, want error", pending[0].Status)
	}
	if pending[0].Retries != 1 {
		t.Errorf("Retries = %d, want 1", pending[0].Retries)
	}
	sessions, _ := s.RecentSessions(10)
	if len(sessions) != 0 {
		t.Error("no session should be written on completion failure")
	}
}

func TestSummarizeDuplicateContent(t *testing.T) {
	s := setupStore(t)
	completer := &fakeCompleter{}
	p := newPipeline(s, completer)

	item := writeAndQueue(t, s, longTurns())
	if err := p.Summarize(context.Background(), item); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	// Same content queued again under a different path.
	dup := domain.TranscriptRecord{ID: item.ID, Path: item.Path, Hash: item.Hash}
	if err := p.Summarize(context.Background(), dup); err != nil {
		t.Fatalf("Summarize duplicate: %v", err)
	}

	sessions, _ := s.RecentSessions(10)
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want 1", len(sessions))
	}
}
