// Package types defines the core data structures for the Sage assistant:
// entities, relationships, follow-ups, facts, and the per-request
// SearchContext that grounds every generated response.
package types

// Entity type constants. Every stored record is an Entity of exactly one
// of these types. The type is encoded in the ID prefix (e.g. "email_",
// "contact_") so a type conflict on an existing ID indicates an upstream
// ID-generation bug and is treated as fatal.
const (
	EntityTypeEmail    = "email"
	EntityTypeContact  = "contact"
	EntityTypeFollowup = "followup"
	EntityTypeMeeting  = "meeting"
	EntityTypeEvent    = "event"
	EntityTypeMemory   = "memory"
	EntityTypeFact     = "fact"
	EntityTypeDocument = "document"
	EntityTypeNote     = "note"
)

// ValidEntityTypes is a slice of all valid entity types for validation.
var ValidEntityTypes = []string{
	EntityTypeEmail,
	EntityTypeContact,
	EntityTypeFollowup,
	EntityTypeMeeting,
	EntityTypeEvent,
	EntityTypeMemory,
	EntityTypeFact,
	EntityTypeDocument,
	EntityTypeNote,
}

// IsValidEntityType checks if the given entity type is valid.
func IsValidEntityType(entityType string) bool {
	for _, validType := range ValidEntityTypes {
		if validType == entityType {
			return true
		}
	}
	return false
}

// Relationship type constants. Relationships are directed; traversal code
// must explicitly request reverse edges when it needs them.
const (
	// Correspondence edges
	RelFromContact = "from_contact" // email → contact that sent it
	RelToContact   = "to_contact"   // email → contact it was sent to
	RelInThread    = "in_thread"    // email → email (same thread)

	// Follow-up edges
	RelTracks       = "tracks"        // followup → outgoing email it tracks
	RelAboutContact = "about_contact" // followup → contact expected to reply

	// Calendar edges
	RelAttendedBy = "attended_by" // meeting/event → contact

	// Org structure (used for escalation contact resolution)
	RelReportsTo = "reports_to" // contact → supervisor contact

	// Knowledge edges
	RelMentions    = "mentions"     // memory/fact → contact or other entity
	RelSupersedes  = "supersedes"   // fact/memory → older fact/memory it replaces
	RelDerivedFrom = "derived_from" // fact → memory (conversation turn) it came from

	// Generic
	RelRelatesTo = "relates_to"
)

// ValidRelationshipTypes is a slice of all valid relationship types.
var ValidRelationshipTypes = []string{
	RelFromContact,
	RelToContact,
	RelInThread,
	RelTracks,
	RelAboutContact,
	RelAttendedBy,
	RelReportsTo,
	RelMentions,
	RelSupersedes,
	RelDerivedFrom,
	RelRelatesTo,
}

// IsValidRelationshipType checks if the given relationship type is valid.
func IsValidRelationshipType(relType string) bool {
	for _, validType := range ValidRelationshipTypes {
		if validType == relType {
			return true
		}
	}
	return false
}

// Intent represents the classified purpose of a user message. The intent
// biases the Search Component's enrichment strategy; it never restricts
// which entities may appear in a context.
type Intent string

const (
	IntentEmail    Intent = "email"
	IntentFollowup Intent = "followup"
	IntentMeeting  Intent = "meeting"
	IntentContact  Intent = "contact"
	IntentTodo     Intent = "todo"

	// IntentGeneral is the fallback when no pattern clears the minimum
	// score. Ties break toward general: broader context is safer than an
	// arbitrary specific intent.
	IntentGeneral Intent = "general"
)

// ValidIntents lists all intents the classifier may return.
var ValidIntents = []Intent{
	IntentEmail,
	IntentFollowup,
	IntentMeeting,
	IntentContact,
	IntentTodo,
	IntentGeneral,
}
