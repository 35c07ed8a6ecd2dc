package httpsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Half-Shot/hds/canon"
	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/hderr"
)

// dispatch parses the path under /_hds/ and routes to the matching
// handler, per the table in spec.md §6.
func (s *Server) dispatch(ctx context.Context, evt *requestEvent, w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/_hds/")
	path = strings.TrimSuffix(path, "/")
	segments := strings.Split(path, "/")
	if len(segments) == 1 && segments[0] == "" {
		segments = nil
	}

	switch {
	case len(segments) == 1 && segments[0] == "identify" && r.Method == http.MethodGet:
		s.handleIdentify(w, evt)

	case len(segments) == 1 && segments[0] == "topics" && r.Method == http.MethodGet:
		s.handleTopics(w, evt)

	case len(segments) >= 2 && segments[0] == "topics" && r.Method == http.MethodGet:
		s.handleTopicQuery(w, evt, segments[1], segments[2:])

	case len(segments) == 2 && segments[0] == "hosts" && r.Method == http.MethodGet:
		s.handleGetHostState(ctx, w, evt, segments[1])

	case len(segments) == 4 && segments[0] == "hosts" && segments[2] == "state" && r.Method == http.MethodPut:
		s.handlePutState(ctx, w, r, evt, segments[1], segments[3])

	case len(segments) == 4 && segments[0] == "hosts" && segments[2] == "topic" && r.Method == http.MethodPut:
		s.handlePutTopic(ctx, w, r, evt, segments[1], segments[3])

	case len(segments) == 1 && segments[0] == "register" && r.Method == http.MethodPost:
		s.handleRegister(ctx, w, r, evt)

	default:
		s.writeError(w, evt, hderr.New(hderr.HostMissing, "no such route"))
	}
}

func (s *Server) handleIdentify(w http.ResponseWriter, evt *requestEvent) {
	s.writeJSON(w, evt, http.StatusOK, map[string]string{
		"hds.servername": s.ServerKey,
		"hds.type":        core.TypeDirectory,
	})
}

func (s *Server) handleTopics(w http.ResponseWriter, evt *requestEvent) {
	topics, err := s.Store.GetTopics()
	if err != nil {
		s.writeError(w, evt, err)
		return
	}
	s.writeJSON(w, evt, http.StatusOK, map[string][]string{"topics": topics})
}

type wireMembership struct {
	Signature string   `json:"hds.signature"`
	Subtopics []string `json:"subtopics"`
}

func (s *Server) handleTopicQuery(w http.ResponseWriter, evt *requestEvent, topic string, subtopics []string) {
	hosts, err := s.Store.GetTopicHosts(topic, subtopics)
	if err != nil {
		s.writeError(w, evt, err)
		return
	}
	if len(hosts) == 0 {
		s.writeError(w, evt, hderr.New(hderr.TopicMissing, "no hosts found for topic %q", topic))
		return
	}
	out := make(map[string]wireMembership, len(hosts))
	for host, m := range hosts {
		out[host] = wireMembership{Signature: m.Signature, Subtopics: m.Subtopics}
	}
	s.writeJSON(w, evt, http.StatusOK, map[string]interface{}{"hosts": out})
}

func (s *Server) handleGetHostState(ctx context.Context, w http.ResponseWriter, evt *requestEvent, hostPrefix string) {
	state, _, err := s.Store.GetHostState(hostPrefix)
	if err != nil && !hderr.Is(err, hderr.HostsNone) {
		s.writeError(w, evt, err)
		return
	}
	if err == nil && len(state.Entries) > 0 {
		s.writeHostState(w, evt, state)
		return
	}

	// Local read came up empty; fall back to federation per spec.md §4.3
	// "find_via_federation".
	fedState, fedErr := s.Handler.FindViaFederation(ctx, hostPrefix)
	if fedErr != nil {
		s.writeError(w, evt, hderr.New(hderr.HostMissing, "host %s not found locally or via federation", hostPrefix))
		return
	}
	s.writeHostState(w, evt, fedState)
}

func (s *Server) writeHostState(w http.ResponseWriter, evt *requestEvent, state *core.HostState) {
	out := map[string]interface{}{}
	for k, e := range state.Entries {
		out[k] = e.Value
	}
	expired := state.Expired
	if expired == nil {
		expired = []string{}
	}
	out[core.FieldExpired] = expired
	s.writeJSON(w, evt, http.StatusOK, out)
}

func (s *Server) handlePutState(ctx context.Context, w http.ResponseWriter, r *http.Request, evt *requestEvent, serverKey, key string) {
	if err := requireJSON(r); err != nil {
		s.writeError(w, evt, err)
		return
	}
	body, err := readPayload(r)
	if err != nil {
		s.writeError(w, evt, err)
		return
	}
	if err := s.Handler.PutState(ctx, serverKey, key, body); err != nil {
		s.writeError(w, evt, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handlePutTopic(ctx context.Context, w http.ResponseWriter, r *http.Request, evt *requestEvent, serverKey, topic string) {
	if err := requireJSON(r); err != nil {
		s.writeError(w, evt, err)
		return
	}
	body, err := readPayload(r)
	if err != nil {
		s.writeError(w, evt, err)
		return
	}
	if err := s.Handler.PutTopic(ctx, serverKey, topic, body); err != nil {
		s.writeError(w, evt, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRegister(ctx context.Context, w http.ResponseWriter, r *http.Request, evt *requestEvent) {
	if err := requireJSON(r); err != nil {
		s.writeError(w, evt, err)
		return
	}
	var body struct {
		Host string `json:"host"`
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, evt, hderr.New(hderr.Unknown, "could not read body: %s", err))
		return
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Host == "" {
		s.writeError(w, evt, hderr.New(hderr.PayloadMissingKey, "missing host"))
		return
	}
	if s.Federation == nil {
		s.writeError(w, evt, hderr.New(hderr.FederationDisabled, "federation is disabled on this directory"))
		return
	}

	self, _, err := s.Store.GetHostState(s.ServerKey)
	if err != nil {
		s.writeError(w, evt, err)
		return
	}
	if hostEntry, ok := self.Entries[core.KeyHost]; ok {
		if err := s.Federation.SendState(ctx, body.Host, core.KeyHost, hostEntry.Value, hostEntry.TTL); err != nil {
			s.Log.Warning("registration push of hds.host to " + body.Host + " failed: " + err.Error())
		}
	}
	if err := s.Federation.PutTopic(ctx, body.Host, core.TopicDirectory, nil); err != nil {
		s.Log.Warning("registration of hds.directory membership with " + body.Host + " failed: " + err.Error())
	}
	w.WriteHeader(http.StatusCreated)
}

func readPayload(r *http.Request) (core.Payload, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, hderr.New(hderr.Unknown, "could not read body: %s", err)
	}
	decoded, err := canon.Decode(raw)
	if err != nil {
		return nil, hderr.New(hderr.PayloadBadType, "body is not valid JSON: %s", err)
	}
	return core.Payload(decoded), nil
}
