package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memorable-dev/memorable/internal/domain"
)

// AddSession writes a session record. Returns (false, nil) without writing
// when a session with the same source hash already exists; the write is a
// single statement so readers never see a partial row.
func (s *Store) AddSession(sess *domain.Session) (bool, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions
		   (id, date, title, summary, header, message_count, word_count,
		    human_word_count, source_hash, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_hash) DO NOTHING`,
		sess.ID, sess.Date, sess.Title, sess.Summary, sess.Header,
		sess.MessageCount, sess.WordCount, sess.HumanWordCount,
		sess.SourceHash, encodeVector(sess.Embedding), sess.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert session: %w", err)
	}

	var id string
	err = s.db.QueryRow(
		"SELECT id FROM sessions WHERE source_hash = ?", sess.SourceHash,
	).Scan(&id)
	if err != nil {
		return false, fmt.Errorf("verify session: %w", err)
	}
	return id == sess.ID, nil
}

// HasSessionHash reports whether a session with this source hash exists.
func (s *Store) HasSessionHash(hash string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sessions WHERE source_hash = ?", hash,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check session hash: %w", err)
	}
	return n > 0, nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(id string) (*domain.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, date, title, summary, header, message_count, word_count,
		        human_word_count, source_hash, embedding, created_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// RecentSessions returns sessions ordered by date descending.
func (s *Store) RecentSessions(limit int) ([]domain.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, date, title, summary, header, message_count, word_count,
		        human_word_count, source_hash, embedding, created_at
		 FROM sessions ORDER BY date DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// SessionsSince returns sessions dated on or after cutoff, newest first.
func (s *Store) SessionsSince(cutoff time.Time, limit int) ([]domain.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, date, title, summary, header, message_count, word_count,
		        human_word_count, source_hash, embedding, created_at
		 FROM sessions WHERE date >= ?
		 ORDER BY date DESC, created_at DESC LIMIT ?`,
		cutoff.Format("2006-01-02"), limit)
	if err != nil {
		return nil, fmt.Errorf("sessions since: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

type sessionScanner interface {
	Scan(dest ...any) error
}

func scanSession(row sessionScanner) (*domain.Session, error) {
	var sess domain.Session
	var emb []byte
	err := row.Scan(&sess.ID, &sess.Date, &sess.Title, &sess.Summary,
		&sess.Header, &sess.MessageCount, &sess.WordCount,
		&sess.HumanWordCount, &sess.SourceHash, &emb, &sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Embedding = decodeVector(emb)
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]domain.Session, error) {
	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// AddRollingSummary stores a new rolling summary.
func (s *Store) AddRollingSummary(content string, daysCovered, sessionCount int) error {
	_, err := s.db.Exec(
		`INSERT INTO rolling_summaries (content, days_covered, session_count, created_at)
		 VALUES (?, ?, ?, ?)`,
		content, daysCovered, sessionCount, time.Now())
	if err != nil {
		return fmt.Errorf("insert rolling summary: %w", err)
	}
	return nil
}

// LatestRollingSummary returns the newest rolling summary, or nil if none.
func (s *Store) LatestRollingSummary() (*domain.RollingSummary, error) {
	var rs domain.RollingSummary
	err := s.db.QueryRow(
		`SELECT id, content, days_covered, session_count, created_at
		 FROM rolling_summaries ORDER BY created_at DESC LIMIT 1`,
	).Scan(&rs.ID, &rs.Content, &rs.DaysCovered, &rs.SessionCount, &rs.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest rolling summary: %w", err)
	}
	return &rs, nil
}

// filesJSON round-trips observation file lists through their TEXT column.
func filesJSON(files []string) string {
	if len(files) == 0 {
		return "[]"
	}
	b, err := json.Marshal(files)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseFiles(raw string) []string {
	var files []string
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return nil
	}
	return files
}
