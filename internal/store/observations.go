package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memorable-dev/memorable/internal/domain"
)

// AddObservation writes one observation row and returns its id. Inserting
// an id that already exists is a no-op, so pipelines that derive ids from
// their source records are idempotent across crash-retry.
func (s *Store) AddObservation(obs *domain.Observation) (string, error) {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO observations
		   (id, session_id, type, title, summary, files, tool, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		obs.ID, obs.SessionID, string(obs.Type), obs.Title, obs.Summary,
		filesJSON(obs.Files), obs.Tool, encodeVector(obs.Embedding), obs.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert observation: %w", err)
	}
	return obs.ID, nil
}

// RecentObservations returns observations newest first. An empty sessionID
// returns observations across all sessions.
func (s *Store) RecentObservations(sessionID string, limit int) ([]domain.Observation, error) {
	query := `SELECT id, session_id, type, title, summary, files, tool, embedding, created_at
	          FROM observations`
	args := []any{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent observations: %w", err)
	}
	defer rows.Close()
	return collectObservations(rows)
}

// ObservationsSince returns observations created after cutoff, oldest first.
func (s *Store) ObservationsSince(cutoff time.Time, limit int) ([]domain.Observation, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, type, title, summary, files, tool, embedding, created_at
		 FROM observations WHERE created_at > ? ORDER BY created_at LIMIT ?`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("observations since: %w", err)
	}
	defer rows.Close()
	return collectObservations(rows)
}

// AllObservations returns every observation, oldest first. The hybrid
// engine's semantic pass walks this at personal scale.
func (s *Store) AllObservations() ([]domain.Observation, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, type, title, summary, files, tool, embedding, created_at
		 FROM observations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("all observations: %w", err)
	}
	defer rows.Close()
	return collectObservations(rows)
}

func collectObservations(rows *sql.Rows) ([]domain.Observation, error) {
	var observations []domain.Observation
	for rows.Next() {
		var obs domain.Observation
		var typ, files string
		var emb []byte
		err := rows.Scan(&obs.ID, &obs.SessionID, &typ, &obs.Title, &obs.Summary,
			&files, &obs.Tool, &emb, &obs.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs.Type = domain.ObservationType(typ)
		obs.Files = parseFiles(files)
		obs.Embedding = decodeVector(emb)
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// AddPrompt writes one prompt row, assigning the next sequence number
// within its session.
func (s *Store) AddPrompt(p *domain.Prompt) (string, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if p.Seq == 0 {
		err = tx.QueryRow(
			"SELECT COALESCE(MAX(seq), 0) + 1 FROM prompts WHERE session_id = ?",
			p.SessionID,
		).Scan(&p.Seq)
		if err != nil {
			return "", fmt.Errorf("next prompt seq: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO prompts (id, session_id, seq, text, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Seq, p.Text, encodeVector(p.Embedding), p.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert prompt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit prompt: %w", err)
	}
	return p.ID, nil
}

// RecentPrompts returns prompts newest first; empty sessionID means all.
func (s *Store) RecentPrompts(sessionID string, limit int) ([]domain.Prompt, error) {
	query := `SELECT id, session_id, seq, text, embedding, created_at FROM prompts`
	args := []any{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent prompts: %w", err)
	}
	defer rows.Close()
	return collectPrompts(rows)
}

// SessionPrompts returns a session's prompts in sequence order.
func (s *Store) SessionPrompts(sessionID string) ([]domain.Prompt, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, seq, text, embedding, created_at
		 FROM prompts WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session prompts: %w", err)
	}
	defer rows.Close()
	return collectPrompts(rows)
}

// AllPrompts returns every prompt, oldest first.
func (s *Store) AllPrompts() ([]domain.Prompt, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, seq, text, embedding, created_at
		 FROM prompts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("all prompts: %w", err)
	}
	defer rows.Close()
	return collectPrompts(rows)
}

func collectPrompts(rows *sql.Rows) ([]domain.Prompt, error) {
	var prompts []domain.Prompt
	for rows.Next() {
		var p domain.Prompt
		var emb []byte
		err := rows.Scan(&p.ID, &p.SessionID, &p.Seq, &p.Text, &emb, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		p.Embedding = decodeVector(emb)
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// LastActivity returns the newest captured or derived record timestamp per
// session. The transcript scanner derives idle sessions from this.
func (s *Store) LastActivity() (map[string]time.Time, error) {
	rows, err := s.db.Query(`
		SELECT session_id, MAX(created_at) FROM (
			SELECT session_id, created_at FROM observations
			UNION ALL
			SELECT session_id, created_at FROM prompts
			UNION ALL
			SELECT session_id, created_at FROM tool_queue
			UNION ALL
			SELECT session_id, created_at FROM prompt_queue
		) GROUP BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("last activity: %w", err)
	}
	defer rows.Close()

	activity := make(map[string]time.Time)
	for rows.Next() {
		var sessionID, raw string
		if err := rows.Scan(&sessionID, &raw); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		// MAX() loses the column's declared type, so the driver hands the
		// timestamp back as text.
		ts, err := parseTimestamp(raw)
		if err != nil {
			continue
		}
		activity[sessionID] = ts
	}
	return activity, rows.Err()
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
