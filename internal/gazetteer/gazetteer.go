// Package gazetteer maintains a rebuildable lookup table of confirmed
// entity names. Lookups run against an immutable snapshot; a rebuild
// produces a new snapshot and swaps it in atomically, so pipelines never
// observe a half-built table.
package gazetteer

import (
	"sort"
	"strings"
	"sync"

	"github.com/memorable-dev/memorable/internal/domain"
)

// Snapshot is an immutable view of known entity names at one version.
type Snapshot struct {
	version int64
	names   map[string]domain.EntityType // lowercased name -> type
	ordered []string                     // longest-first, for lookup
}

// Version identifies the rebuild that produced this snapshot.
func (s *Snapshot) Version() int64 { return s.version }

// Len returns the number of known names.
func (s *Snapshot) Len() int { return len(s.names) }

// Contains reports whether name is a known entity (case-insensitive).
func (s *Snapshot) Contains(name string) bool {
	_, ok := s.names[strings.ToLower(name)]
	return ok
}

// Type returns the entity type of a known name (case-insensitive).
func (s *Snapshot) Type(name string) (domain.EntityType, bool) {
	typ, ok := s.names[strings.ToLower(name)]
	return typ, ok
}

// Lookup finds known entity names mentioned in text. Matching is
// case-insensitive substring; longer names are matched first so
// "React Router" wins over "React" when both are known.
func (s *Snapshot) Lookup(text string) []domain.Candidate {
	if len(s.names) == 0 {
		return nil
	}

	lower := strings.ToLower(text)
	var found []domain.Candidate
	seen := make(map[string]bool)
	for _, name := range s.ordered {
		if seen[name] || !strings.Contains(lower, name) {
			continue
		}
		seen[name] = true
		found = append(found, domain.Candidate{
			Name:   name,
			Type:   s.names[name],
			Source: domain.SourceGazetteer,
		})
	}
	return found
}

// Gazetteer holds the current snapshot. It is the only shared mutable
// state outside the store; Current and Rebuild are safe for concurrent use.
type Gazetteer struct {
	mu      sync.RWMutex
	current *Snapshot
}

// New returns a Gazetteer with an empty initial snapshot.
func New() *Gazetteer {
	return &Gazetteer{current: &Snapshot{names: map[string]domain.EntityType{}}}
}

// Current returns the active snapshot.
func (g *Gazetteer) Current() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// Rebuild constructs a new snapshot from the given names and swaps it in.
// Names shorter than two characters are ignored.
func (g *Gazetteer) Rebuild(names map[string]domain.EntityType) *Snapshot {
	snap := &Snapshot{names: make(map[string]domain.EntityType, len(names))}
	for name, typ := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if len(name) < 2 {
			continue
		}
		snap.names[name] = typ
		snap.ordered = append(snap.ordered, name)
	}
	sort.Slice(snap.ordered, func(i, j int) bool {
		if len(snap.ordered[i]) != len(snap.ordered[j]) {
			return len(snap.ordered[i]) > len(snap.ordered[j])
		}
		return snap.ordered[i] < snap.ordered[j]
	})

	g.mu.Lock()
	snap.version = g.current.version + 1
	g.current = snap
	g.mu.Unlock()
	return snap
}
