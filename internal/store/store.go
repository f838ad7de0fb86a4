// Package store provides SQLite persistence for sessions, observations,
// prompts, the knowledge graph, and the pending-work queues.
package store

import (
	"database/sql"
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// Store handles database operations.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats are aggregate record counts for the status surface.
type Stats struct {
	Sessions       int `json:"sessions"`
	Observations   int `json:"observations"`
	Prompts        int `json:"prompts"`
	Entities       int `json:"entities"`
	Relationships  int `json:"relationships"`
	SacredFacts    int `json:"sacred_facts"`
	PendingTools   int `json:"pending_tool_calls"`
	PendingPrompts int `json:"pending_prompts"`
	PendingScript  int `json:"pending_transcripts"`
	TotalWords     int `json:"total_words"`
}

// GetStats returns aggregate counts across all record kinds.
func (s *Store) GetStats() (*Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM sessions", &st.Sessions},
		{"SELECT COUNT(*) FROM observations", &st.Observations},
		{"SELECT COUNT(*) FROM prompts", &st.Prompts},
		{"SELECT COUNT(*) FROM entities", &st.Entities},
		{"SELECT COUNT(*) FROM relationships", &st.Relationships},
		{"SELECT COUNT(*) FROM entities WHERE priority >= 10", &st.SacredFacts},
		{"SELECT COUNT(*) FROM tool_queue WHERE status = 'pending'", &st.PendingTools},
		{"SELECT COUNT(*) FROM prompt_queue WHERE status = 'pending'", &st.PendingPrompts},
		{"SELECT COUNT(*) FROM transcript_queue WHERE status = 'pending'", &st.PendingScript},
		{"SELECT COALESCE(SUM(word_count), 0) FROM sessions", &st.TotalWords},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	return &st, nil
}

// encodeVector packs an embedding as a float32 little-endian BLOB.
// A nil vector stores as NULL.
func encodeVector(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a float32 BLOB; nil in, nil out.
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
