package kg

import (
	"regexp"
	"strings"

	"github.com/memorable-dev/memorable/internal/domain"
)

// noiseEntities are generic words extraction tiers still produce. They are
// never specific named things, so they drop before the batch filter ever
// sees them.
var noiseEntities = map[string]bool{
	// Generic programming terms
	"tool": true, "file": true, "code": true, "database": true,
	"function": true, "method": true, "class": true, "module": true,
	"script": true, "command": true, "server": true, "client": true,
	"system": true, "process": true, "plugin": true, "session": true,
	"framework": true, "library": true, "package": true, "schema": true,
	"pipeline": true, "daemon": true, "handler": true, "watcher": true,
	"processor": true,
	// Entity type names echoed back by models
	"person": true, "project": true, "technology": true,
	"organization": true, "concept": true, "service": true,
	// Generic action/state words
	"change": true, "update": true, "delete": true, "search": true,
	"build": true, "test": true, "error": true,
	// Memory-system internals
	"knowledge graph": true, "observations": true, "entities": true,
	"relationships": true,
	// Common CLI tools, not specific enough for the graph
	"git": true, "python": true, "npm": true, "bash": true,
}

var (
	fileExtRe = regexp.MustCompile(`\.(go|py|js|ts|json|md|txt|html|css|toml|yaml|yml|sql)$`)
	numericRe = regexp.MustCompile(`^[\d.:]+$`)
)

// isValidEntity applies structural validity checks to a candidate name.
// These catch code fragments, paths, and identifiers that slipped through
// an extraction tier.
func isValidEntity(name string) bool {
	lower := strings.ToLower(name)

	if len(name) < 2 {
		return false
	}
	if noiseEntities[lower] {
		return false
	}
	// Code fragments
	if strings.ContainsAny(name, "[](){}\"'`$=;") {
		return false
	}
	// Absolute or home-relative paths
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "~") {
		return false
	}
	// Dotted module references (server.db, os.path)
	if strings.Contains(name, ".") && !strings.Contains(name, " ") && name[0] >= 'a' && name[0] <= 'z' {
		return false
	}
	// Underscored identifiers
	if strings.Contains(name, "_") && !strings.Contains(name, " ") {
		return false
	}
	if fileExtRe.MatchString(lower) {
		return false
	}
	if numericRe.MatchString(name) {
		return false
	}
	// Multi-clause descriptions, not entity names
	words := strings.Fields(name)
	if len(words) > 5 {
		return false
	}
	// A short single lowercase word is almost never a real entity
	if len(words) == 1 && lower == name && len(name) < 5 {
		return false
	}

	return true
}

// relTypeAliases maps free-form predicates onto the closed relationship
// vocabulary. Keys are substring-matched against the lowercased predicate.
var relTypeAliases = []struct{ key, rel string }{
	{"build", "builds"}, {"built", "builds"},
	{"use", "uses"}, {"using", "uses"}, {"install", "uses"}, {"import", "uses"},
	{"create", "created"}, {"wrote", "created"}, {"write", "created"},
	{"made", "created"}, {"develop", "created"},
	{"own", "owns"}, {"maintain", "owns"},
	{"depend", "depends_on"}, {"require", "depends_on"}, {"need", "depends_on"},
	{"part", "part_of"}, {"belong", "part_of"}, {"inside", "part_of"},
	{"contain", "part_of"}, {"include", "part_of"},
	{"work", "works_with"}, {"collaborat", "works_with"},
	{"integrat", "works_with"}, {"connect", "works_with"},
	{"configur", "configured_in"}, {"config", "configured_in"},
	{"setup", "configured_in"}, {"set up", "configured_in"},
	{"deploy", "deployed_on"}, {"run on", "deployed_on"},
	{"host", "deployed_on"}, {"serve", "deployed_on"},
	{"switch", "related_to"}, {"replac", "related_to"},
}

// normalizeRelType maps a free-form predicate onto the closed vocabulary,
// defaulting to related_to.
func normalizeRelType(pred string) string {
	lower := strings.ToLower(strings.TrimSpace(pred))
	if domain.RelationshipTypes[lower] {
		return lower
	}
	for _, alias := range relTypeAliases {
		if strings.Contains(lower, alias.key) {
			return alias.rel
		}
	}
	return "related_to"
}
