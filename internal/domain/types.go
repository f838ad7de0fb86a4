package domain

import "time"

// ObservationType classifies what a captured activity event did.
type ObservationType string

const (
	ObsDiscovery      ObservationType = "discovery"
	ObsChange         ObservationType = "change"
	ObsBugfix         ObservationType = "bugfix"
	ObsFeature        ObservationType = "feature"
	ObsRefactor       ObservationType = "refactor"
	ObsDecision       ObservationType = "decision"
	ObsSessionSummary ObservationType = "session-summary"
)

// EntityType is the kind of a knowledge-graph node.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityProject      EntityType = "project"
	EntityTechnology   EntityType = "technology"
	EntityOrganization EntityType = "organization"
	EntityFile         EntityType = "file"
	EntityConcept      EntityType = "concept"
	EntityTool         EntityType = "tool"
	EntityService      EntityType = "service"
	EntityLanguage     EntityType = "language"
)

// EntityTypes is the closed set of valid entity types.
var EntityTypes = map[EntityType]bool{
	EntityPerson: true, EntityProject: true, EntityTechnology: true,
	EntityOrganization: true, EntityFile: true, EntityConcept: true,
	EntityTool: true, EntityService: true, EntityLanguage: true,
}

// RelationshipTypes is the closed vocabulary for graph edges.
var RelationshipTypes = map[string]bool{
	"uses": true, "builds": true, "created": true, "owns": true,
	"depends_on": true, "part_of": true, "works_with": true,
	"configured_in": true, "deployed_on": true, "related_to": true,
}

// QueueStatus is the lifecycle state of a pending work item.
type QueueStatus string

const (
	StatusPending   QueueStatus = "pending"
	StatusProcessed QueueStatus = "processed"
	StatusSkipped   QueueStatus = "skipped"
	StatusError     QueueStatus = "error"
)

// SacredPriority marks entities exempt from automated modification.
const SacredPriority = 10

// DefaultExtractionPriority is assigned to entities approved by the
// extraction pipeline. Known-name candidates get a one-point boost.
const DefaultExtractionPriority = 5

// Session is one finished unit of activity, written once and never mutated.
type Session struct {
	ID             string    `json:"id"`
	Date           string    `json:"date"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	Header         string    `json:"header,omitempty"`
	MessageCount   int       `json:"message_count"`
	WordCount      int       `json:"word_count"`
	HumanWordCount int       `json:"human_word_count"`
	SourceHash     string    `json:"source_hash"`
	Embedding      []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Observation is a structured record derived from one raw activity event.
type Observation struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      ObservationType `json:"type"`
	Title     string          `json:"title"`
	Summary   string          `json:"summary"`
	Files     []string        `json:"files,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Embedding []float32       `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
}

// Prompt is one captured human utterance within a session.
type Prompt struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCallRecord is a raw captured tool invocation waiting for the
// observation pipeline.
type ToolCallRecord struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"`
	Tool      string      `json:"tool"`
	Input     string      `json:"input"`
	Response  string      `json:"response"`
	Status    QueueStatus `json:"status"`
	Retries   int         `json:"retries"`
	CreatedAt time.Time   `json:"created_at"`
}

// PromptRecord is a raw captured user utterance waiting for the
// observation pipeline.
type PromptRecord struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Status    QueueStatus `json:"status"`
	Retries   int         `json:"retries"`
	CreatedAt time.Time   `json:"created_at"`
}

// TranscriptRecord is a queued transcript reference waiting for
// summarization.
type TranscriptRecord struct {
	ID        int64       `json:"id"`
	Path      string      `json:"path"`
	Hash      string      `json:"hash"`
	Status    QueueStatus `json:"status"`
	Retries   int         `json:"retries"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Entity is a knowledge-graph node, unique on (Name, Type).
type Entity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        EntityType `json:"type"`
	Priority    int        `json:"priority"`
	Description string     `json:"description,omitempty"`
	Metadata    string     `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Sacred reports whether the entity is exempt from automated writes.
func (e Entity) Sacred() bool { return e.Priority >= SacredPriority }

// Relationship is a directed typed edge between two entities.
type Relationship struct {
	ID         string     `json:"id"`
	SourceName string     `json:"source_name"`
	SourceType EntityType `json:"source_type"`
	Type       string     `json:"type"`
	TargetName string     `json:"target_name"`
	TargetType EntityType `json:"target_type"`
	Confidence float64    `json:"confidence"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CandidateSource identifies which extraction tier produced a candidate.
type CandidateSource string

const (
	SourceGazetteer  CandidateSource = "gazetteer"
	SourceFoundation CandidateSource = "foundation"
	SourceNER        CandidateSource = "ner"
)

// Candidate is an entity proposal from one extraction tier, validated and
// coerced at the tier boundary before it reaches the batch filter.
type Candidate struct {
	Name        string          `json:"name"`
	Type        EntityType      `json:"type"`
	Description string          `json:"description,omitempty"`
	Source      CandidateSource `json:"source"`
}

// CandidateRelationship is a relationship proposal from the foundation tier.
type CandidateRelationship struct {
	Source     string  `json:"source"`
	Predicate  string  `json:"predicate"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence,omitempty"`
}

// RollingSummary is a periodically regenerated digest of recent sessions.
type RollingSummary struct {
	ID           int64     `json:"id"`
	Content      string    `json:"content"`
	DaysCovered  int       `json:"days_covered"`
	SessionCount int       `json:"session_count"`
	CreatedAt    time.Time `json:"created_at"`
}
