package store

import (
	"fmt"
	"time"

	"github.com/memorable-dev/memorable/internal/domain"
)

// maxQueuePayload bounds raw payload size at enqueue time.
const maxQueuePayload = 3000

// EnqueueToolCall adds a raw tool invocation to the observation queue.
// Oversized payloads are truncated before storage.
func (s *Store) EnqueueToolCall(sessionID, tool, input, response string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO tool_queue (session_id, tool, input, response, status, created_at)
		 VALUES (?, ?, ?, ?, 'pending', ?)`,
		sessionID, tool, truncatePayload(input), truncatePayload(response), time.Now())
	if err != nil {
		return 0, fmt.Errorf("enqueue tool call: %w", err)
	}
	return res.LastInsertId()
}

// PendingToolCalls returns pending tool-queue items in arrival order,
// excluding items that exhausted their retries.
func (s *Store) PendingToolCalls(limit, maxRetries int) ([]domain.ToolCallRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, tool, input, response, status, retries, created_at
		 FROM tool_queue
		 WHERE (status = 'pending' OR status = 'error') AND retries < ?
		 ORDER BY id LIMIT ?`,
		maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("pending tool calls: %w", err)
	}
	defer rows.Close()

	var items []domain.ToolCallRecord
	for rows.Next() {
		var item domain.ToolCallRecord
		var status string
		err := rows.Scan(&item.ID, &item.SessionID, &item.Tool, &item.Input,
			&item.Response, &status, &item.Retries, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		item.Status = domain.QueueStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkToolCall sets the terminal status of one tool-queue item.
func (s *Store) MarkToolCall(id int64, status domain.QueueStatus) error {
	_, err := s.db.Exec(
		"UPDATE tool_queue SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("mark tool call: %w", err)
	}
	return nil
}

// MarkToolCallError records a failed attempt and bumps the retry counter.
func (s *Store) MarkToolCallError(id int64) error {
	_, err := s.db.Exec(
		"UPDATE tool_queue SET status = 'error', retries = retries + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark tool call error: %w", err)
	}
	return nil
}

// EnqueuePrompt adds a raw user utterance to the prompt queue. The capture
// hook posts here and returns immediately; embedding happens in the
// observation pipeline.
func (s *Store) EnqueuePrompt(sessionID, text string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO prompt_queue (session_id, text, status, created_at)
		 VALUES (?, ?, 'pending', ?)`,
		sessionID, truncatePayload(text), time.Now())
	if err != nil {
		return 0, fmt.Errorf("enqueue prompt: %w", err)
	}
	return res.LastInsertId()
}

// PendingPrompts returns pending prompt-queue items in arrival order,
// excluding items that exhausted their retries.
func (s *Store) PendingPrompts(limit, maxRetries int) ([]domain.PromptRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, text, status, retries, created_at
		 FROM prompt_queue
		 WHERE (status = 'pending' OR status = 'error') AND retries < ?
		 ORDER BY id LIMIT ?`,
		maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("pending prompts: %w", err)
	}
	defer rows.Close()

	var items []domain.PromptRecord
	for rows.Next() {
		var item domain.PromptRecord
		var status string
		err := rows.Scan(&item.ID, &item.SessionID, &item.Text, &status,
			&item.Retries, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan prompt record: %w", err)
		}
		item.Status = domain.QueueStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkPrompt sets the terminal status of one prompt-queue item.
func (s *Store) MarkPrompt(id int64, status domain.QueueStatus) error {
	_, err := s.db.Exec(
		"UPDATE prompt_queue SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("mark prompt: %w", err)
	}
	return nil
}

// MarkPromptError records a failed attempt and bumps the retry counter.
func (s *Store) MarkPromptError(id int64) error {
	_, err := s.db.Exec(
		"UPDATE prompt_queue SET status = 'error', retries = retries + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark prompt error: %w", err)
	}
	return nil
}

// EnqueueTranscript queues a transcript for summarization. Duplicate hashes
// are ignored, so re-scanning directories is safe.
func (s *Store) EnqueueTranscript(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO transcript_queue (path, hash, status, created_at)
		 VALUES (?, ?, 'pending', ?)
		 ON CONFLICT(hash) DO NOTHING`,
		path, hash, time.Now())
	if err != nil {
		return fmt.Errorf("enqueue transcript: %w", err)
	}
	return nil
}

// HasTranscriptHash reports whether a transcript hash was ever queued.
func (s *Store) HasTranscriptHash(hash string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM transcript_queue WHERE hash = ?", hash,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check transcript hash: %w", err)
	}
	return n > 0, nil
}

// PendingTranscripts returns transcripts eligible for summarization.
func (s *Store) PendingTranscripts(limit, maxRetries int) ([]domain.TranscriptRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, path, hash, status, retries, last_error, created_at
		 FROM transcript_queue
		 WHERE (status = 'pending' OR status = 'error') AND retries < ?
		 ORDER BY id LIMIT ?`,
		maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("pending transcripts: %w", err)
	}
	defer rows.Close()

	var items []domain.TranscriptRecord
	for rows.Next() {
		var item domain.TranscriptRecord
		var status string
		err := rows.Scan(&item.ID, &item.Path, &item.Hash, &status,
			&item.Retries, &item.LastError, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		item.Status = domain.QueueStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkTranscript sets the terminal status of one transcript-queue item.
func (s *Store) MarkTranscript(id int64, status domain.QueueStatus, lastError string) error {
	_, err := s.db.Exec(
		"UPDATE transcript_queue SET status = ?, last_error = ? WHERE id = ?",
		string(status), lastError, id)
	if err != nil {
		return fmt.Errorf("mark transcript: %w", err)
	}
	return nil
}

// MarkTranscriptError records a failed attempt and bumps the retry counter.
func (s *Store) MarkTranscriptError(id int64, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE transcript_queue
		 SET status = 'error', retries = retries + 1, last_error = ?
		 WHERE id = ?`,
		lastError, id)
	if err != nil {
		return fmt.Errorf("mark transcript error: %w", err)
	}
	return nil
}

func truncatePayload(s string) string {
	if len(s) <= maxQueuePayload {
		return s
	}
	return s[:maxQueuePayload] + "\n[...truncated]"
}
