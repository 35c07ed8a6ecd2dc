package httpsrv

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmhodges/clock"

	"github.com/Half-Shot/hds/blog"
	"github.com/Half-Shot/hds/canon"
	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/goodkey"
	"github.com/Half-Shot/hds/handler"
	"github.com/Half-Shot/hds/hderr"
	"github.com/Half-Shot/hds/metrics"
)

// fakeStore is a minimal in-memory store.Store, mirroring handler's own
// test fake but kept package-local per boulder's convention of each
// package owning its own lightweight mocks.
type fakeStore struct {
	entries map[string]map[string]core.StateEntry
	expired map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[string]map[string]core.StateEntry{}, expired: map[string]bool{}}
}

func (f *fakeStore) GetTopics() ([]string, error) { return nil, nil }
func (f *fakeStore) GetTopicHosts(topic string, subtopics []string) (map[string]core.TopicMembership, error) {
	return map[string]core.TopicMembership{}, nil
}
func (f *fakeStore) StoreHostTopic(host, topic string, subtopics []string, sig string) error {
	return nil
}

func (f *fakeStore) GetHostState(hostPrefix string) (*core.HostState, string, error) {
	entries, ok := f.entries[hostPrefix]
	if !ok {
		return &core.HostState{Entries: map[string]core.StateEntry{}}, hostPrefix, hderr.New(hderr.HostsNone, "no such host")
	}
	return &core.HostState{Entries: entries, Expired: []string{}}, hostPrefix, nil
}

func (f *fakeStore) StoreHostState(host, key, value string, ttl int64, sig string, lastUpdatedMs int64) error {
	if f.entries[host] == nil {
		f.entries[host] = map[string]core.StateEntry{}
	}
	f.entries[host][key] = core.StateEntry{Value: value, TTL: ttl, Signature: sig}
	return nil
}

func (f *fakeStore) HasHostExpired(host string) (bool, error) { return f.expired[host], nil }
func (f *fakeStore) IsHostTombstoned(host string) (bool, error) { return false, nil }
func (f *fakeStore) FindHost(prefix string) (string, error)     { return prefix, nil }

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serverKey, err := goodkey.EncodeServerKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("encode server key: %v", err)
	}

	clk := clock.NewFake()
	log := blog.New(clk, false)
	st := newFakeStore()
	h := handler.New(st, nil, log, metrics.NewNoopScope())
	srv := New(h, st, nil, log, metrics.NewNoopScope(), clk, serverKey)

	return httptest.NewServer(srv.Mux()), serverKey
}

// TestIdentify exercises scenario 1.
func TestIdentify(t *testing.T) {
	ts, serverKey := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/_hds/identify")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["hds.servername"] != serverKey {
		t.Fatalf("hds.servername = %q, want %q", body["hds.servername"], serverKey)
	}
	if body["hds.type"] != core.TypeDirectory {
		t.Fatalf("hds.type = %q", body["hds.type"])
	}
}

func putSigned(t *testing.T, serverURL, serverKey, clientServerKey string, priv *rsa.PrivateKey, key string, payload core.Payload) *http.Response {
	t.Helper()
	signed, err := canon.Sign(priv, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	body, err := canon.Encode(map[string]interface{}(signed))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, serverURL+"/_hds/hosts/"+clientServerKey+"/state/"+key, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// TestStateWriteAndRead exercises scenario 2.
func TestStateWriteAndRead(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	clientKey, err := goodkey.EncodeServerKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	resp := putSigned(t, ts.URL, "", clientKey, priv, core.KeyHost, core.Payload{core.FieldTTL: int64(60000), core.KeyHost: "example.com"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("hds.host PUT status = %d", resp.StatusCode)
	}

	resp = putSigned(t, ts.URL, "", clientKey, priv, "hds.test1", core.Payload{core.FieldTTL: int64(60000), "hds.test1": "foo"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("hds.test1 PUT status = %d", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/_hds/hosts/" + clientKey)
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", getResp.StatusCode)
	}
	var state map[string]interface{}
	if err := json.NewDecoder(getResp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state[core.KeyHost] != "example.com" || state["hds.test1"] != "foo" {
		t.Fatalf("unexpected state: %+v", state)
	}
	expired, ok := state[core.FieldExpired].([]interface{})
	if !ok || len(expired) != 0 {
		t.Fatalf("hds.expired = %+v, want empty list", state[core.FieldExpired])
	}
}

// TestBadSignatureRejected exercises scenario 4.
func TestBadSignatureRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	clientKey, err := goodkey.EncodeServerKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	signed, err := canon.Sign(priv, core.Payload{core.FieldTTL: int64(60000), "hds.test": "v"})
	if err != nil {
		t.Fatal(err)
	}
	signed[core.FieldSignature] = "notarealsig"
	body, err := canon.Encode(map[string]interface{}(signed))
	if err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/_hds/hosts/"+clientKey+"/state/hds.test", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var env map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env["hds.error"] != string(hderr.PayloadBadSignature) {
		t.Fatalf("hds.error = %q", env["hds.error"])
	}
}

// TestMissingContentTypeRejected exercises the headers.missing kind.
func TestMissingContentTypeRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/_hds/hosts/somehost/state/hds.test", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
