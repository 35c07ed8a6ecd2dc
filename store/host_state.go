package store

import (
	"sort"

	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/hderr"
)

// GetHostState resolves hostPrefix (a full identifier or a leading prefix
// of one) and returns its full state, including the virtual hds.expired
// listing (spec.md §4.2 "Expiry", property P4).
func (s *SQLStore) GetHostState(hostPrefix string) (*core.HostState, string, error) {
	host, err := s.FindHost(hostPrefix)
	if err != nil {
		return nil, "", err
	}

	rows, err := s.db.Select(&[]stateEntryModel{},
		"SELECT server_key, state_key, value, ttl, last_updated_ms, signature FROM state_entries WHERE server_key = ?",
		host)
	if err != nil {
		return nil, "", err
	}

	now := s.nowMs()
	out := &core.HostState{
		Entries: make(map[string]core.StateEntry, len(rows)),
		Expired: []string{},
	}
	for _, r := range rows {
		m, ok := r.(*stateEntryModel)
		if !ok {
			continue
		}
		entry := m.toEntry()
		out.Entries[m.StateKey] = entry
		if entry.Expired(now) {
			out.Expired = append(out.Expired, m.StateKey)
		}
	}
	sort.Strings(out.Expired)
	return out, host, nil
}

// StoreHostState writes the (host, key) state entry, per spec.md §4.2 and
// invariant I5 (monotonic overwrite): value, ttl, signature, and
// last_updated are all replaced. Refuses tombstoned hosts and enforces the
// I3 capacity cap via evict (I2 is not checked here — StoreHostState does
// not validate sizes/types; that is the Host Handler's job per spec.md §4.3).
func (s *SQLStore) StoreHostState(host, key, value string, ttl int64, sig string, lastUpdatedMs int64) error {
	tombstoned, err := s.IsHostTombstoned(host)
	if err != nil {
		return err
	}
	if tombstoned && key != core.KeyTombstone {
		return hderr.New(hderr.HostTombstone, "host %s is tombstoned", host)
	}

	if err := s.ensureHost(host); err != nil {
		return err
	}

	if lastUpdatedMs == 0 {
		lastUpdatedMs = s.nowMs()
	}

	res, err := s.db.Exec(
		"UPDATE state_entries SET value = ?, ttl = ?, last_updated_ms = ?, signature = ? WHERE server_key = ? AND state_key = ?",
		value, ttl, lastUpdatedMs, sig, host, key)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		_, err := s.db.Exec(
			"INSERT INTO state_entries (server_key, state_key, value, ttl, last_updated_ms, signature) VALUES (?, ?, ?, ?, ?, ?)",
			host, key, value, ttl, lastUpdatedMs, sig)
		if err != nil && !isDuplicateErr(err) {
			return err
		}
	}

	return s.evict(host)
}

// evict enforces the STATE_STORAGE_LIMIT cap (spec.md §4.2 "Eviction",
// invariant I3, property P5): while the host has more than
// StateStorageLimit stored keys (every row counts, including hds.host —
// only the virtual hds.expired listing is excluded), remove the
// non-protected one with the smallest last_updated. hds.host and
// hds.tombstone are never chosen as the victim.
func (s *SQLStore) evict(host string) error {
	for {
		rows, err := s.db.Select(&[]stateEntryModel{},
			"SELECT server_key, state_key, value, ttl, last_updated_ms, signature FROM state_entries WHERE server_key = ?",
			host)
		if err != nil {
			return err
		}

		count := 0
		var oldestKey string
		var oldestTime int64
		haveOldest := false
		for _, r := range rows {
			m, ok := r.(*stateEntryModel)
			if !ok {
				continue
			}
			count++
			if core.ProtectedKeys[m.StateKey] {
				continue
			}
			if !haveOldest || m.LastUpdated < oldestTime {
				oldestKey = m.StateKey
				oldestTime = m.LastUpdated
				haveOldest = true
			}
		}

		if count <= core.StateStorageLimit || !haveOldest {
			return nil
		}

		if _, err := s.db.Exec(
			"DELETE FROM state_entries WHERE server_key = ? AND state_key = ?",
			host, oldestKey); err != nil {
			return err
		}
		if s.stats != nil {
			s.stats.Inc("store_evictions_total", 1)
		}
	}
}
