package store

import (
	"strings"

	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/hderr"
)

// GetTopics lists every known topic name.
func (s *SQLStore) GetTopics() ([]string, error) {
	rows, err := s.db.Select(&[]topicModel{}, "SELECT topic FROM topics ORDER BY topic")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(*topicModel)
		if !ok {
			continue
		}
		out = append(out, m.Topic)
	}
	return out, nil
}

// StoreHostTopic records host's membership of topic with the given
// subtopics (spec.md §4.2, invariant I1 applies before this is called —
// the Host Handler verifies the signature first).
func (s *SQLStore) StoreHostTopic(host, topic string, subtopics []string, sig string) error {
	tombstoned, err := s.IsHostTombstoned(host)
	if err != nil {
		return err
	}
	if tombstoned {
		return hderr.New(hderr.HostTombstone, "host %s is tombstoned", host)
	}

	if err := s.ensureHost(host); err != nil {
		return err
	}
	if _, err := s.db.Exec("INSERT INTO topics (topic) VALUES (?)", topic); err != nil && !isDuplicateErr(err) {
		return err
	}

	encoded, err := encodeSubtopics(subtopics)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		"UPDATE topic_memberships SET subtopics = ?, signature = ? WHERE topic = ? AND server_key = ?",
		encoded, sig, topic, host)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		if _, err := s.db.Exec(
			"INSERT INTO topic_memberships (topic, server_key, subtopics, signature) VALUES (?, ?, ?, ?)",
			topic, host, encoded, sig); err != nil && !isDuplicateErr(err) {
			return err
		}
	}
	return nil
}

// GetTopicHosts returns the hosts that belong to topic, filtered by
// freshness (invariant I4, property P7) and, if subtopics is non-empty,
// by the positional subtopic match described in spec.md §4.2/§9.
func (s *SQLStore) GetTopicHosts(topic string, subtopics []string) (map[string]core.TopicMembership, error) {
	rows, err := s.db.Select(&[]membershipModel{},
		"SELECT topic, server_key, subtopics, signature FROM topic_memberships WHERE topic = ?", topic)
	if err != nil {
		return nil, err
	}

	out := make(map[string]core.TopicMembership)
	for _, r := range rows {
		m, ok := r.(*membershipModel)
		if !ok {
			continue
		}

		fresh, err := s.topicHostIsFresh(m.ServerKey)
		if err != nil {
			return nil, err
		}
		if !fresh {
			continue
		}

		hostSubtopics, err := decodeSubtopics(m.Subtopics)
		if err != nil {
			return nil, err
		}

		if len(subtopics) > 0 && !s.matchSubtopics(subtopics, hostSubtopics) {
			continue
		}

		out[m.ServerKey] = core.TopicMembership{
			Subtopics: hostSubtopics,
			Signature: m.Signature,
		}
	}
	return out, nil
}

// topicHostIsFresh implements invariant I4: a host appears in a topic
// query only if its hds.host entry is present and not expired, and the
// host is not tombstoned.
func (s *SQLStore) topicHostIsFresh(host string) (bool, error) {
	tombstoned, err := s.IsHostTombstoned(host)
	if err != nil {
		return false, err
	}
	if tombstoned {
		return false, nil
	}
	var m stateEntryModel
	err = s.db.SelectOne(&m,
		"SELECT server_key, state_key, value, ttl, last_updated_ms, signature FROM state_entries WHERE server_key = ? AND state_key = ?",
		host, core.KeyHost)
	if err != nil {
		return false, nil
	}
	return !m.toEntry().Expired(s.nowMs()), nil
}

// matchSubtopics implements the query-path subtopic filter. The spec's
// canonical behavior (spec.md §4.2 "Subtopic filter semantics", §9) is
// positional substring containment: query[i] must be a substring of
// stored[i] at the same index, for every index in the query. When
// StrictSubtopics is set, positional equality is required instead.
func (s *SQLStore) matchSubtopics(query, stored []string) bool {
	if len(query) > len(stored) {
		return false
	}
	for i, q := range query {
		if s.StrictSubtopics {
			if q != stored[i] {
				return false
			}
			continue
		}
		if !strings.Contains(stored[i], q) {
			return false
		}
	}
	return true
}
