// Package federation implements the outbound Federation Client (spec.md
// §4.4): an HTTP client parameterized by this directory's own key pair,
// used both to push accepted writes to peer directories and to satisfy
// find_via_federation reads. Grounded on boulder's publisher package,
// which plays the equivalent role of fanning a locally-accepted object
// (a precertificate) out to a set of independent external services (CT
// logs) without letting any one of them block or fail the client.
package federation

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Half-Shot/hds/blog"
	"github.com/Half-Shot/hds/canon"
	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/hderr"
	"github.com/Half-Shot/hds/metrics"
)

// topicHostStore is the slice of store.Store federation needs in order to
// run the fan-out policy, kept narrow so this package doesn't import
// store and create a cycle (store never needs federation).
type topicHostStore interface {
	GetTopicHosts(topic string, subtopics []string) (map[string]core.TopicMembership, error)
	GetHostState(hostPrefix string) (*core.HostState, string, error)
}

// Client is the outbound Federation Client, identified by this
// directory's own RSA key pair (its own ServerKey).
type Client struct {
	ServerKey  string
	PrivateKey *rsa.PrivateKey
	HTTP       *http.Client
	Log        blog.Logger
	Stats      metrics.Scope

	// Paranoid enables client-side read filtering: drop keys listed under
	// hds.expired, per spec.md §4.4 "Paranoid mode on reads". The wire
	// shape GET /_hds/hosts/{host} returns is the flat key->value map
	// scenario 2 specifies, with no per-entry hds.signature/hds.ttl, so
	// there is nothing here to re-verify a signature against; per-entry
	// signature checking only applies where the original's nested
	// {value, hds.signature, hds.ttl} wire shape is available, which this
	// read path does not use.
	Paranoid bool
}

// New constructs a Client. httpClient may be nil, in which case a client
// with a conservative default timeout is used.
func New(priv *rsa.PrivateKey, serverKey string, httpClient *http.Client, log blog.Logger, stats metrics.Scope) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		ServerKey:  serverKey,
		PrivateKey: priv,
		HTTP:       httpClient,
		Log:        log,
		Stats:      stats,
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return out, resp.StatusCode, nil
}

// SendState builds, signs, and pushes a single state entry to a peer
// (spec.md §4.4 "send_state").
func (c *Client) SendState(ctx context.Context, peerBaseURL, key, value string, ttlSec int64) error {
	payload := core.Payload{
		core.FieldTTL: ttlSec,
		key:           value,
	}
	signed, err := canon.Sign(c.PrivateKey, payload)
	if err != nil {
		return err
	}
	return c.SendStatePayload(ctx, peerBaseURL, c.ServerKey, key, signed)
}

// SendStatePayload forwards a pre-signed state payload on behalf of some
// other host identity — used for federation pass-through, where the
// signature remains the originating host's, not this directory's
// (spec.md §4.4 "send_state_payload").
func (c *Client) SendStatePayload(ctx context.Context, peerBaseURL, hostIdentity, key string, payload core.Payload) error {
	body, err := canon.Encode(map[string]interface{}(payload))
	if err != nil {
		return err
	}
	url := joinURL(peerBaseURL, fmt.Sprintf("/_hds/hosts/%s/state/%s", hostIdentity, key))
	respBody, status, err := c.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	return statusToErr(status, respBody)
}

// PutTopic signs and pushes a topic membership to a peer (spec.md §4.4
// "put_topic").
func (c *Client) PutTopic(ctx context.Context, peerBaseURL, topic string, subtopics []string) error {
	list := make([]interface{}, len(subtopics))
	for i, s := range subtopics {
		list[i] = s
	}
	payload := core.Payload{topic: list}
	signed, err := canon.Sign(c.PrivateKey, payload)
	if err != nil {
		return err
	}
	return c.PutTopicPayload(ctx, peerBaseURL, c.ServerKey, topic, signed)
}

// PutTopicPayload forwards a pre-signed topic payload on behalf of
// another host identity (spec.md §4.4 "put_topic_payload").
func (c *Client) PutTopicPayload(ctx context.Context, peerBaseURL, hostIdentity, topic string, payload core.Payload) error {
	body, err := canon.Encode(map[string]interface{}(payload))
	if err != nil {
		return err
	}
	url := joinURL(peerBaseURL, fmt.Sprintf("/_hds/hosts/%s/topic/%s", hostIdentity, topic))
	respBody, status, err := c.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	return statusToErr(status, respBody)
}

// GetState reads a host's state from a peer directory (spec.md §4.4
// "get_state"). When Paranoid is set, keys listed under hds.expired are
// dropped from the result. The flat key->value wire shape this endpoint
// returns carries no per-entry signature, so there is nothing to
// re-verify here; a resolved HostState's entries therefore always carry
// an empty Signature/TTL — fine for read-through serving, but it means a
// host resolved this way cannot be re-federated with its original
// signatures intact.
func (c *Client) GetState(ctx context.Context, peerBaseURL, host string) (*core.HostState, error) {
	url := joinURL(peerBaseURL, "/_hds/hosts/"+host)
	respBody, status, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if err := statusToErr(status, respBody); err != nil {
		return nil, err
	}

	raw, err := canon.Decode(respBody)
	if err != nil {
		return nil, err
	}

	state := &core.HostState{Entries: map[string]core.StateEntry{}}
	expiredSet := map[string]bool{}
	if rawExpired, ok := raw[core.FieldExpired].([]interface{}); ok {
		for _, v := range rawExpired {
			if s, ok := v.(string); ok {
				expiredSet[s] = true
				state.Expired = append(state.Expired, s)
			}
		}
	}

	for k, v := range raw {
		if k == core.FieldExpired {
			continue
		}
		value, ok := v.(string)
		if !ok {
			continue
		}
		if c.Paranoid && expiredSet[k] {
			continue
		}
		entry := core.StateEntry{Value: value}
		state.Entries[k] = entry
	}

	return state, nil
}

// GetTopic reads topic membership from a peer (spec.md §4.4 "get_topic").
func (c *Client) GetTopic(ctx context.Context, peerBaseURL, topic string, subtopics []string) (map[string]core.TopicMembership, error) {
	path := "/_hds/topics/" + topic
	for _, s := range subtopics {
		path += "/" + s
	}
	url := joinURL(peerBaseURL, path)
	respBody, status, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if err := statusToErr(status, respBody); err != nil {
		return nil, err
	}

	var wire struct {
		Hosts map[string]struct {
			Signature string   `json:"hds.signature"`
			Subtopics []string `json:"subtopics"`
		} `json:"hosts"`
	}
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, err
	}
	out := make(map[string]core.TopicMembership, len(wire.Hosts))
	for host, m := range wire.Hosts {
		out[host] = core.TopicMembership{Subtopics: m.Subtopics, Signature: m.Signature}
	}
	return out, nil
}

// GetTopics lists all topics known to a peer (spec.md §4.4 "get_topics").
func (c *Client) GetTopics(ctx context.Context, peerBaseURL string) ([]string, error) {
	url := joinURL(peerBaseURL, "/_hds/topics")
	respBody, status, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if err := statusToErr(status, respBody); err != nil {
		return nil, err
	}
	var wire struct {
		Topics []string `json:"topics"`
	}
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, err
	}
	return wire.Topics, nil
}

// Identify queries a peer's own identity (spec.md §4.4 "identify").
func (c *Client) Identify(ctx context.Context, peerBaseURL string) (servername string, kind string, err error) {
	url := joinURL(peerBaseURL, "/_hds/identify")
	respBody, status, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	if err := statusToErr(status, respBody); err != nil {
		return "", "", err
	}
	var wire struct {
		ServerName string `json:"hds.servername"`
		Type       string `json:"hds.type"`
	}
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return "", "", err
	}
	return wire.ServerName, wire.Type, nil
}

// FederateTopic implements the fan-out policy of spec.md §4.4: on local
// acceptance of a topic write, enumerate peer directories under
// hds.directory, and for each peer still advertising a live
// hds.directory.url, forward first the originator's hds.host state, then
// the topic payload itself. Every peer is attempted independently; one
// peer's failure never aborts another's, and no failure here is ever
// returned to the original HTTP client — it is only logged (spec.md §7
// "Propagation").
func (c *Client) FederateTopic(ctx context.Context, hostStore topicHostStore, originator, topic string, topicPayload core.Payload) error {
	peers, err := hostStore.GetTopicHosts(core.TopicDirectory, nil)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return nil
	}

	originState, resolvedOriginator, err := hostStore.GetHostState(originator)
	if err != nil {
		return err
	}
	hostEntry, hasHost := originState.Entries[core.KeyHost]

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for peerHost := range peers {
		peerHost := peerHost
		g.Go(func() error {
			peerState, _, err := hostStore.GetHostState(peerHost)
			if err != nil {
				c.Log.Warning(fmt.Sprintf("federation: could not resolve peer %s: %s", peerHost, err))
				return nil
			}
			urlEntry, ok := peerState.Entries[core.KeyDirectoryURL]
			if !ok {
				return nil
			}
			for _, exp := range peerState.Expired {
				if exp == core.KeyDirectoryURL {
					ok = false
				}
			}
			if !ok {
				return nil
			}
			peerURL := urlEntry.Value

			if hasHost {
				hostPayload := core.Payload{
					core.FieldTTL:       hostEntry.TTL,
					core.FieldSignature: hostEntry.Signature,
					core.KeyHost:        hostEntry.Value,
				}
				if err := c.SendStatePayload(gctx, peerURL, resolvedOriginator, core.KeyHost, hostPayload); err != nil {
					c.Log.Warning(fmt.Sprintf("federation: push hds.host for %s to %s failed: %s", resolvedOriginator, peerHost, err))
				}
			}

			if err := c.PutTopicPayload(gctx, peerURL, resolvedOriginator, topic, topicPayload); err != nil {
				c.Log.Warning(fmt.Sprintf("federation: push topic %s for %s to %s failed: %s", topic, resolvedOriginator, peerHost, err))
			}
			return nil
		})
	}

	return g.Wait()
}

func statusToErr(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var env struct {
		Text string `json:"hds.error.text"`
		Kind string `json:"hds.error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Kind != "" {
		return hderr.New(hderr.Kind(env.Kind), "%s", env.Text)
	}
	return hderr.New(hderr.Unknown, "peer returned status %d", status)
}
