package store

import (
	"encoding/json"

	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/db"
)

// hostModel is the row shape of the hosts table: the set of known hosts,
// maintained so prefix lookups (FindHost) and topic-freshness checks don't
// need to scan state_entries.
type hostModel struct {
	ServerKey string `db:"server_key"`
}

// stateEntryModel is one row of state_entries: the structured, column-per-
// field encoding spec.md §9 asks for in place of the original's lossy
// `:`-joined 4-tuple. Each field round-trips byte-exact regardless of its
// contents (including a signature or value containing ':').
type stateEntryModel struct {
	ServerKey   string `db:"server_key"`
	StateKey    string `db:"state_key"`
	Value       string `db:"value"`
	TTL         int64  `db:"ttl"`
	LastUpdated int64  `db:"last_updated_ms"` // milliseconds since epoch
	Signature   string `db:"signature"`
}

func (m stateEntryModel) toEntry() core.StateEntry {
	return core.StateEntry{
		Value:       m.Value,
		TTL:         m.TTL,
		LastUpdated: m.LastUpdated,
		Signature:   m.Signature,
	}
}

// topicModel is one row of topics: the distinct set of topic names that
// have ever had a membership stored, maintained as a side effect of
// StoreHostTopic the way boulder maintains distinct-name tables as a side
// effect of certificate issuance (sa/sa.go's issuedNames).
type topicModel struct {
	Topic string `db:"topic"`
}

// membershipModel is one row of topic_memberships. Subtopics is stored as
// a JSON array string rather than a delimited string so a subtopic
// containing the original encoding's delimiter can't corrupt parsing.
type membershipModel struct {
	Topic     string `db:"topic"`
	ServerKey string `db:"server_key"`
	Subtopics string `db:"subtopics"`
	Signature string `db:"signature"`
}

func encodeSubtopics(subtopics []string) (string, error) {
	if subtopics == nil {
		subtopics = []string{}
	}
	b, err := json.Marshal(subtopics)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSubtopics(s string) ([]string, error) {
	var out []string
	if s == "" {
		return []string{}, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DBMap is the full surface SQLStore needs from a database handle, per
// db.Map. borp's *borp.DbMap satisfies it.
type DBMap = db.Map
