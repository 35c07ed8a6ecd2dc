// Package core holds the types and size/TTL constants shared across HDS's
// packages: the wire shape of a signed payload, a state entry, and a topic
// membership, plus the well-known field names the protocol reserves.
package core

// Size and TTL bounds, per the HDS wire protocol.
const (
	MinTTLSec        = 3600    // MIN_TTL_SEC
	MaxTTLSec        = 259200  // MAX_TTL_SEC
	MaxKeySize       = 1024    // MAX_KEY_SIZE
	MinKeySize       = 3
	MaxValueSize     = 65536   // MAX_VALUE_SIZE
	StateStorageLimit = 255    // STATE_STORAGE_LIMIT
)

// Well-known field and key names reserved by the protocol.
const (
	FieldTTL       = "hds.ttl"
	FieldSignature = "hds.signature"
	FieldExpired   = "hds.expired"

	KeyHost      = "hds.host"
	KeyName      = "hds.name"
	KeyTombstone = "hds.tombstone"
	KeyType      = "hds.type"

	KeyContactName  = "hds.contact.name"
	KeyContactEmail = "hds.contact.email"
	KeyDirectoryURL = "hds.directory.url"

	TypeDirectory = "hds.directory"
	TopicDirectory = "hds.directory"
)

// ProtectedKeys can never be evicted by the capacity-cap eviction routine
// (§4.2 "Eviction") and, for hds.tombstone, block all further writes once
// set (§3 "Tombstone").
var ProtectedKeys = map[string]bool{
	KeyHost:      true,
	KeyTombstone: true,
}

// Payload is a signed mapping from string names to JSON-compatible values.
// It is the wire shape of both state PUTs and topic PUTs (spec.md §3).
type Payload map[string]interface{}

// StateEntry is the stored representation of one (host, key) state value
// (spec.md §3 "State entry").
type StateEntry struct {
	Value       string
	TTL         int64
	LastUpdated int64 // milliseconds since epoch
	Signature   string
}

// Expired reports whether the entry is expired as of nowMs, per
// spec.md §3: "now − last_updated > ttl" (unified to milliseconds).
func (e StateEntry) Expired(nowMs int64) bool {
	return nowMs-e.LastUpdated > e.TTL*1000
}

// TopicMembership is the stored representation of one (topic, host)
// membership (spec.md §3 "Topic membership").
type TopicMembership struct {
	Subtopics []string
	Signature string
}

// HostState is the response shape for a host state read: the map of
// key -> entry plus the virtual hds.expired listing (spec.md §4.2).
type HostState struct {
	Entries map[string]StateEntry
	Expired []string
}
