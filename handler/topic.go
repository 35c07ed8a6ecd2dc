package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/Half-Shot/hds/canon"
	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/hderr"
)

// PutTopic admits and stores a topic membership write, per spec.md §4.3
// "put_topic". Federation fan-out failures (step 5) never fail the
// client request — they are fired asynchronously and only logged.
func (h *Handler) PutTopic(ctx context.Context, serverKey, topic string, body core.Payload) error {
	if len(topic) > core.MaxKeySize {
		return hderr.New(hderr.PayloadKeyTooLong, "topic too long")
	}
	if len(topic) < core.MinKeySize {
		return hderr.New(hderr.PayloadKeyTooShort, "topic too short")
	}

	rawSubtopics, _ := body[topic]
	subtopics, err := decodeSubtopicList(rawSubtopics)
	if err != nil {
		return hderr.New(hderr.PayloadBadType, "%s must be an ordered list of strings", topic)
	}

	sig, ok := body[core.FieldSignature].(string)
	if !ok || sig == "" {
		return hderr.New(hderr.PayloadMissingKey, "missing hds.signature from payload")
	}

	if err := canon.Verify(serverKey, body); err != nil {
		return err
	}

	h.Log.Info(fmt.Sprintf("[%s] storing topic %s", shortID(serverKey), topic))
	if err := h.Store.StoreHostTopic(serverKey, topic, subtopics, sig); err != nil {
		return err
	}

	// Fan out to peers. This MUST NOT block or fail the client's request
	// (spec.md §4.3 step 5, §5 concurrency model).
	go func() {
		fanoutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if h.Federation == nil {
			return
		}
		if err := h.Federation.FederateTopic(fanoutCtx, h.Store, serverKey, topic, body); err != nil {
			h.Log.Warning(fmt.Sprintf("federation fan-out for topic %s from %s failed: %s", topic, shortID(serverKey), err))
		}
	}()

	return nil
}

func decodeSubtopicList(raw interface{}) ([]string, error) {
	if raw == nil {
		return []string{}, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, hderr.New(hderr.PayloadBadType, "not a list")
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, hderr.New(hderr.PayloadBadType, "subtopic entries must be strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// FindViaFederation implements spec.md §4.3 "find_via_federation": when a
// host's state is absent locally, ask every known peer directory (hosts
// under the hds.directory topic) for it, and return the first successful
// result. Fully implemented per spec.md §9, which flags the original's
// version as only partially done.
func (h *Handler) FindViaFederation(ctx context.Context, serverKey string) (*core.HostState, error) {
	if h.Federation == nil {
		return nil, hderr.New(hderr.FederationDisabled, "federation is disabled on this directory")
	}

	peers, err := h.Store.GetTopicHosts(core.TopicDirectory, nil)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, hderr.New(hderr.FederationNoHosts, "no hds.directory hosts have been registered")
	}

	for peer := range peers {
		peerState, err := h.Store.GetHostState(peer)
		if err != nil {
			continue
		}
		urlEntry, ok := peerState.Entries[core.KeyDirectoryURL]
		if !ok {
			continue
		}
		for _, exp := range peerState.Expired {
			if exp == core.KeyDirectoryURL || exp == core.KeyHost {
				ok = false
			}
		}
		if !ok {
			continue
		}

		queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		state, err := h.Federation.GetState(queryCtx, urlEntry.Value, serverKey)
		cancel()
		if err != nil || state == nil || len(state.Entries) == 0 {
			continue
		}
		return state, nil
	}

	return nil, hderr.New(hderr.HostMissing, "host %s could not be found locally or via federation", serverKey)
}
