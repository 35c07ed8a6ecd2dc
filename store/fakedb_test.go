package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// fakeDB is an in-memory DBMap fake, grounded on the shape of
// db/mocks.go's OneSelector/Selector/Execer interfaces: it recognizes the
// small fixed set of queries SQLStore issues and operates on plain Go
// slices instead of a real database connection, the way boulder's own
// test suite substitutes lightweight fakes for gorp/borp in unit tests
// that don't need a live MySQL instance.
type fakeDB struct {
	hosts        map[string]bool
	stateEntries map[string]stateEntryModel // key: server_key + "\x00" + state_key
	topics       map[string]bool
	memberships  map[string]membershipModel // key: topic + "\x00" + server_key
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		hosts:        make(map[string]bool),
		stateEntries: make(map[string]stateEntryModel),
		topics:       make(map[string]bool),
		memberships:  make(map[string]membershipModel),
	}
}

func stateKey(server, key string) string { return server + "\x00" + key }
func membKey(topic, server string) string { return topic + "\x00" + server }

type fakeResult struct{ affected int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

func (db *fakeDB) SelectOne(holder interface{}, query string, args ...interface{}) error {
	q := strings.Join(strings.Fields(query), " ")
	switch {
	case strings.Contains(q, "FROM hosts WHERE server_key ="):
		server := args[0].(string)
		if !db.hosts[server] {
			return sql.ErrNoRows
		}
		*holder.(*hostModel) = hostModel{ServerKey: server}
		return nil
	case strings.Contains(q, "FROM state_entries WHERE server_key = ? AND state_key ="):
		server, key := args[0].(string), args[1].(string)
		m, ok := db.stateEntries[stateKey(server, key)]
		if !ok {
			return sql.ErrNoRows
		}
		*holder.(*stateEntryModel) = m
		return nil
	default:
		return fmt.Errorf("fakeDB: SelectOne unrecognized query: %s", q)
	}
}

func (db *fakeDB) Select(holder interface{}, query string, args ...interface{}) ([]interface{}, error) {
	q := strings.Join(strings.Fields(query), " ")
	switch {
	case strings.Contains(q, "FROM hosts WHERE server_key LIKE"):
		prefix := strings.TrimSuffix(args[0].(string), "%")
		prefix = strings.ReplaceAll(prefix, "\\%", "%")
		prefix = strings.ReplaceAll(prefix, "\\_", "_")
		prefix = strings.ReplaceAll(prefix, "\\\\", "\\")
		var out []interface{}
		for h := range db.hosts {
			if strings.HasPrefix(h, prefix) {
				m := hostModel{ServerKey: h}
				out = append(out, &m)
			}
		}
		return out, nil
	case strings.Contains(q, "FROM state_entries WHERE server_key ="):
		server := args[0].(string)
		var out []interface{}
		for _, m := range db.stateEntries {
			if m.ServerKey == server {
				mCopy := m
				out = append(out, &mCopy)
			}
		}
		return out, nil
	case strings.Contains(q, "FROM topics"):
		var out []interface{}
		for t := range db.topics {
			out = append(out, &topicModel{Topic: t})
		}
		return out, nil
	case strings.Contains(q, "FROM topic_memberships WHERE topic ="):
		topic := args[0].(string)
		var out []interface{}
		for _, m := range db.memberships {
			if m.Topic == topic {
				mCopy := m
				out = append(out, &mCopy)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("fakeDB: Select unrecognized query: %s", q)
	}
}

func (db *fakeDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	q := strings.Join(strings.Fields(query), " ")
	switch {
	case strings.HasPrefix(q, "INSERT INTO hosts"):
		server := args[0].(string)
		if db.hosts[server] {
			return nil, fmt.Errorf("duplicate entry for hosts")
		}
		db.hosts[server] = true
		return fakeResult{1}, nil

	case strings.HasPrefix(q, "UPDATE state_entries"):
		value, ttl, lastUpdated, sig := args[0].(string), args[1].(int64), args[2].(int64), args[3].(string)
		server, key := args[4].(string), args[5].(string)
		k := stateKey(server, key)
		m, ok := db.stateEntries[k]
		if !ok {
			return fakeResult{0}, nil
		}
		m.Value, m.TTL, m.LastUpdated, m.Signature = value, ttl, lastUpdated, sig
		db.stateEntries[k] = m
		return fakeResult{1}, nil

	case strings.HasPrefix(q, "INSERT INTO state_entries"):
		server, key, value := args[0].(string), args[1].(string), args[2].(string)
		ttl, lastUpdated, sig := args[3].(int64), args[4].(int64), args[5].(string)
		k := stateKey(server, key)
		if _, ok := db.stateEntries[k]; ok {
			return nil, fmt.Errorf("duplicate entry for state_entries")
		}
		db.stateEntries[k] = stateEntryModel{
			ServerKey: server, StateKey: key, Value: value,
			TTL: ttl, LastUpdated: lastUpdated, Signature: sig,
		}
		return fakeResult{1}, nil

	case strings.HasPrefix(q, "DELETE FROM state_entries"):
		server, key := args[0].(string), args[1].(string)
		delete(db.stateEntries, stateKey(server, key))
		return fakeResult{1}, nil

	case strings.HasPrefix(q, "INSERT INTO topics"):
		topic := args[0].(string)
		if db.topics[topic] {
			return nil, fmt.Errorf("duplicate entry for topics")
		}
		db.topics[topic] = true
		return fakeResult{1}, nil

	case strings.HasPrefix(q, "UPDATE topic_memberships"):
		subtopics, sig := args[0].(string), args[1].(string)
		topic, server := args[2].(string), args[3].(string)
		k := membKey(topic, server)
		m, ok := db.memberships[k]
		if !ok {
			return fakeResult{0}, nil
		}
		m.Subtopics, m.Signature = subtopics, sig
		db.memberships[k] = m
		return fakeResult{1}, nil

	case strings.HasPrefix(q, "INSERT INTO topic_memberships"):
		topic, server, subtopics, sig := args[0].(string), args[1].(string), args[2].(string), args[3].(string)
		k := membKey(topic, server)
		if _, ok := db.memberships[k]; ok {
			return nil, fmt.Errorf("duplicate entry for topic_memberships")
		}
		db.memberships[k] = membershipModel{Topic: topic, ServerKey: server, Subtopics: subtopics, Signature: sig}
		return fakeResult{1}, nil

	default:
		return nil, fmt.Errorf("fakeDB: Exec unrecognized query: %s", q)
	}
}
