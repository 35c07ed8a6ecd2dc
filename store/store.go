// Package store implements the HDS persistent store: host → state entries
// and topic → host → subtopics, with TTL expiry, tombstoning, per-host
// key-count caps with LRU-style eviction, and partial-identifier lookup
// (spec.md §4.2). Grounded on boulder's sa package, realized over SQL via
// borp rather than the original's ad hoc key/value backend (spec.md §3.1).
package store

import (
	"strings"

	"github.com/jmhodges/clock"

	"github.com/Half-Shot/hds/blog"
	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/hderr"
	"github.com/Half-Shot/hds/metrics"
)

// Store is the interface the Host Handler and HTTP Surface use to read and
// write HDS's persisted state. See spec.md §4.2 for the operation table.
type Store interface {
	GetTopics() ([]string, error)
	GetTopicHosts(topic string, subtopics []string) (map[string]core.TopicMembership, error)
	StoreHostTopic(host, topic string, subtopics []string, sig string) error

	GetHostState(hostPrefix string) (*core.HostState, string, error)
	StoreHostState(host, key, value string, ttl int64, sig string, lastUpdatedMs int64) error

	HasHostExpired(host string) (bool, error)
	IsHostTombstoned(host string) (bool, error)
	FindHost(prefix string) (string, error)
}

// SQLStore is the SQL-backed Store implementation.
type SQLStore struct {
	db    DBMap
	clk   clock.Clock
	log   blog.Logger
	stats metrics.Scope

	// StrictSubtopics switches the subtopic filter from the spec's chosen
	// positional-substring-containment match (spec.md §4.2, §9) to exact
	// positional equality. Off by default; documented as an alternative
	// mode per §9's note that the original codebase has both elsewhere.
	StrictSubtopics bool
}

// NewSQLStore constructs a Store over an already-opened borp.DbMap (or any
// DBMap, in tests).
func NewSQLStore(db DBMap, clk clock.Clock, log blog.Logger, stats metrics.Scope) *SQLStore {
	return &SQLStore{db: db, clk: clk, log: log, stats: stats}
}

func (s *SQLStore) nowMs() int64 {
	return s.clk.Now().UnixNano() / int64(1_000_000)
}

// ensureHost inserts a hosts row for server if one doesn't already exist.
// A host becomes "known" (spec.md §3 "Host record") the moment it has any
// stored state or topic entry.
func (s *SQLStore) ensureHost(server string) error {
	var existing hostModel
	err := s.db.SelectOne(&existing, "SELECT server_key FROM hosts WHERE server_key = ?", server)
	if err == nil {
		return nil
	}
	_, err = s.db.Exec("INSERT INTO hosts (server_key) VALUES (?)", server)
	if err != nil && !isDuplicateErr(err) {
		return err
	}
	return nil
}

// isDuplicateErr treats a unique-key violation on a best-effort insert
// (ensureHost, the topics row in StoreHostTopic, and the insert half of
// the state/membership upserts) as success: a concurrent writer winning the race is
// not a failure (spec.md §5 "operations independently atomic at the
// storage layer").
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

// IsHostTombstoned reports whether host has a stored hds.tombstone entry
// (spec.md §3 "Tombstone").
func (s *SQLStore) IsHostTombstoned(host string) (bool, error) {
	var m stateEntryModel
	err := s.db.SelectOne(&m,
		"SELECT server_key, state_key, value, ttl, last_updated_ms, signature FROM state_entries WHERE server_key = ? AND state_key = ?",
		host, core.KeyTombstone)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// HasHostExpired reports whether host's hds.host entry is expired, or
// absent (treated as expired — a host with no hds.host entry was never
// "live" per the state machine in spec.md §4.7).
func (s *SQLStore) HasHostExpired(host string) (bool, error) {
	var m stateEntryModel
	err := s.db.SelectOne(&m,
		"SELECT server_key, state_key, value, ttl, last_updated_ms, signature FROM state_entries WHERE server_key = ? AND state_key = ?",
		host, core.KeyHost)
	if err != nil {
		return true, nil
	}
	return m.toEntry().Expired(s.nowMs()), nil
}

// FindHost resolves prefix to the single host identifier that starts with
// it (spec.md §4.2 "Prefix lookup", property P8).
func (s *SQLStore) FindHost(prefix string) (string, error) {
	rows, err := s.db.Select(&[]hostModel{},
		"SELECT server_key FROM hosts WHERE server_key LIKE ?", escapeLikePrefix(prefix)+"%")
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(*hostModel)
		if !ok {
			continue
		}
		matches = append(matches, m.ServerKey)
	}
	switch len(matches) {
	case 0:
		return "", hderr.New(hderr.HostsNone, "no hosts match prefix %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", hderr.New(hderr.HostsConflict, "%d hosts match prefix %q", len(matches), prefix)
	}
}

// escapeLikePrefix escapes SQL LIKE wildcard characters in a caller-
// supplied prefix so a ServerKey prefix containing '%' or '_' can't widen
// the match beyond a literal prefix.
func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(prefix)
}
