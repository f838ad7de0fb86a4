package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memorable-dev/memorable/internal/domain"
)

// UpsertEntity creates or refreshes a knowledge-graph node.
//
// Priority rules are enforced here so every write path inherits them:
// an existing row's priority is never lowered, and a priority-10 (sacred)
// row is never altered by any later write. Name matching is
// case-insensitive on the (name, type) pair.
func (s *Store) UpsertEntity(name string, typ domain.EntityType, description string, priority int) error {
	existing, err := s.findEntity(name, typ)
	if err != nil {
		return err
	}
	now := time.Now()

	if existing == nil {
		_, err := s.db.Exec(
			`INSERT INTO entities (id, name, type, priority, description, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, '{}', ?, ?)`,
			uuid.New().String(), name, string(typ), priority, description, now, now)
		if err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
		return nil
	}

	if existing.Sacred() {
		return nil
	}

	newPriority := existing.Priority
	if priority > newPriority {
		newPriority = priority
	}
	newDescription := existing.Description
	if description != "" {
		newDescription = description
	}

	_, err = s.db.Exec(
		"UPDATE entities SET priority = ?, description = ?, updated_at = ? WHERE id = ?",
		newPriority, newDescription, now, existing.ID)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	return nil
}

func (s *Store) findEntity(name string, typ domain.EntityType) (*domain.Entity, error) {
	var e domain.Entity
	var etype string
	err := s.db.QueryRow(
		`SELECT id, name, type, priority, description, metadata, created_at, updated_at
		 FROM entities WHERE lower(name) = lower(?) AND type = ?`,
		name, string(typ),
	).Scan(&e.ID, &e.Name, &etype, &e.Priority, &e.Description, &e.Metadata,
		&e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entity: %w", err)
	}
	e.Type = domain.EntityType(etype)
	return &e, nil
}

// EntityQuery filters QueryEntities. Zero values mean "no filter".
type EntityQuery struct {
	Name        string
	Type        domain.EntityType
	MinPriority int
	Limit       int
}

// QueryEntities returns graph nodes matching the filter, highest priority
// first.
func (s *Store) QueryEntities(q EntityQuery) ([]domain.Entity, error) {
	query := `SELECT id, name, type, priority, description, metadata, created_at, updated_at
	          FROM entities WHERE priority >= ?`
	args := []any{q.MinPriority}
	if q.Name != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+q.Name+"%")
	}
	if q.Type != "" {
		query += " AND type = ?"
		args = append(args, string(q.Type))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY priority DESC, name COLLATE NOCASE LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		var e domain.Entity
		var etype string
		err := rows.Scan(&e.ID, &e.Name, &etype, &e.Priority, &e.Description,
			&e.Metadata, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Type = domain.EntityType(etype)
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// EntityNames returns the lowercased names of all entities at or above the
// given priority. The gazetteer is rebuilt from this.
func (s *Store) EntityNames(minPriority int) (map[string]domain.EntityType, error) {
	rows, err := s.db.Query(
		"SELECT name, type FROM entities WHERE priority >= ?", minPriority)
	if err != nil {
		return nil, fmt.Errorf("entity names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]domain.EntityType)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("scan entity name: %w", err)
		}
		names[strings.ToLower(name)] = domain.EntityType(typ)
	}
	return names, rows.Err()
}

// ExtractionWatermark returns the persisted cutoff of the last successful
// extraction run, or the zero time when no run has completed yet.
func (s *Store) ExtractionWatermark() (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRow("SELECT watermark FROM extraction_state WHERE id = 1").Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("extraction watermark: %w", err)
	}
	return ts, nil
}

// SetExtractionWatermark durably advances the extraction cutoff.
func (s *Store) SetExtractionWatermark(ts time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO extraction_state (id, watermark) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET watermark = excluded.watermark`, ts)
	if err != nil {
		return fmt.Errorf("set extraction watermark: %w", err)
	}
	return nil
}

// AddRelationship stores a directed typed edge. Re-extraction of the same
// (source, type, target) triple replaces the row rather than duplicating it.
func (s *Store) AddRelationship(rel *domain.Relationship) error {
	if rel.ID == "" {
		rel.ID = uuid.New().String()
	}
	if rel.Confidence == 0 {
		rel.Confidence = 1.0
	}
	_, err := s.db.Exec(
		`INSERT INTO relationships
		   (id, source_name, source_type, type, target_name, target_type, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_name, type, target_name) DO UPDATE SET
		   confidence = excluded.confidence`,
		rel.ID, rel.SourceName, string(rel.SourceType), rel.Type,
		rel.TargetName, string(rel.TargetType), rel.Confidence, time.Now())
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

// Relationships returns edges touching the named entity.
// An empty name returns all edges up to limit.
func (s *Store) Relationships(name string, limit int) ([]domain.Relationship, error) {
	query := `SELECT id, source_name, source_type, type, target_name, target_type, confidence, created_at
	          FROM relationships`
	args := []any{}
	if name != "" {
		query += " WHERE source_name LIKE ? OR target_name LIKE ?"
		args = append(args, "%"+name+"%", "%"+name+"%")
	}
	if limit <= 0 {
		limit = 200
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("relationships: %w", err)
	}
	defer rows.Close()

	var rels []domain.Relationship
	for rows.Next() {
		var r domain.Relationship
		var stype, ttype string
		err := rows.Scan(&r.ID, &r.SourceName, &stype, &r.Type, &r.TargetName,
			&ttype, &r.Confidence, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.SourceType = domain.EntityType(stype)
		r.TargetType = domain.EntityType(ttype)
		rels = append(rels, r)
	}
	return rels, rows.Err()
}
