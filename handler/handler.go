// Package handler implements the Host Handler (spec.md §4.3): the
// admission controller that validates incoming state/topic payloads,
// verifies their signature, writes through to the Store, and triggers
// federation. Grounded on boulder's ra package, which plays the same role
// for ACME registrations/authorizations/certificates.
package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Half-Shot/hds/blog"
	"github.com/Half-Shot/hds/canon"
	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/federation"
	"github.com/Half-Shot/hds/hderr"
	"github.com/Half-Shot/hds/metrics"
	"github.com/Half-Shot/hds/store"
)

// HostValidator is the extension point spec.md §9 reserves for a future
// challenge/response proof that a key holder actually operates at its
// claimed hds.host address. It is invoked whenever a payload updates
// hds.host. AlwaysValid is the only implementation today.
type HostValidator interface {
	Validate(ctx context.Context, serverKey, claimedHost string) bool
}

// AlwaysValid is the no-op HostValidator: it accepts every claim. Real
// validation can be slotted in later without reshaping the admission path
// (spec.md §9 "Host verification hook").
type AlwaysValid struct{}

func (AlwaysValid) Validate(ctx context.Context, serverKey, claimedHost string) bool { return true }

// Handler is the Host Handler admission controller.
type Handler struct {
	Store      store.Store
	Federation *federation.Client
	Validator  HostValidator
	Log        blog.Logger
	Stats      metrics.Scope
}

// New constructs a Handler with AlwaysValid as its default HostValidator.
func New(st store.Store, fed *federation.Client, log blog.Logger, stats metrics.Scope) *Handler {
	return &Handler{
		Store:      st,
		Federation: fed,
		Validator:  AlwaysValid{},
		Log:        log,
		Stats:      stats,
	}
}

// PutState admits and stores a state write, per spec.md §4.3 "put_state".
func (h *Handler) PutState(ctx context.Context, serverKey, key string, body core.Payload) error {
	if len(key) > core.MaxKeySize {
		return hderr.New(hderr.PayloadKeyTooLong, "state key too long")
	}
	if len(key) < core.MinKeySize {
		return hderr.New(hderr.PayloadKeyTooShort, "state key too short")
	}

	rawValue, present := body[key]
	if !present {
		return hderr.New(hderr.PayloadMissingKey, "missing %s from payload", key)
	}
	value, ok := rawValue.(string)
	if !ok {
		return hderr.New(hderr.PayloadBadType, "%s is not a string", key)
	}
	if len(value) < 1 {
		return hderr.New(hderr.PayloadBodyTooShort, "state body too short")
	}
	if len(value) > core.MaxValueSize {
		return hderr.New(hderr.PayloadBodyTooLong, "state body too long")
	}

	sig, ok := body[core.FieldSignature].(string)
	if !ok || sig == "" {
		return hderr.New(hderr.PayloadMissingKey, "missing hds.signature from payload")
	}

	ttl, err := ttlFromPayload(body)
	if err != nil {
		return err
	}

	if err := canon.Verify(serverKey, body); err != nil {
		return err
	}

	// Consistency check (spec.md §4.3 step 6): if this host has no live
	// hds.host, the incoming payload must itself be a hds.host update —
	// i.e. the write's own key, not merely an hds.host field somewhere in
	// the body.
	expired, err := h.Store.HasHostExpired(serverKey)
	if err != nil {
		return err
	}
	if expired && key != core.KeyHost {
		return hderr.New(hderr.StateNoHost, "hds.host has expired and no fresh hds.host was provided")
	}

	if claimedHost, ok := body[core.KeyHost].(string); ok {
		if !h.Validator.Validate(ctx, serverKey, claimedHost) {
			return hderr.New(hderr.StateNoHost, "host validation failed for claimed address %q", claimedHost)
		}
	}

	h.Log.Info(fmt.Sprintf("[%s] storing state %s", shortID(serverKey), key))
	return h.Store.StoreHostState(serverKey, key, value, ttl, sig, 0)
}

// ttlFromPayload validates hds.ttl per spec.md §4.3 step 4: present, an
// integer (never a string), and within [MIN_TTL_SEC, MAX_TTL_SEC].
func ttlFromPayload(body core.Payload) (int64, error) {
	raw, present := body[core.FieldTTL]
	if !present {
		return 0, hderr.New(hderr.PayloadMissingKey, "missing hds.ttl from payload")
	}
	if _, isString := raw.(string); isString {
		return 0, hderr.New(hderr.PayloadBadTTL, "hds.ttl must be a number, not a string")
	}
	var ttl int64
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, hderr.New(hderr.PayloadBadTTL, "hds.ttl is not an integer")
		}
		ttl = n
	case int64:
		ttl = v
	case int:
		ttl = int64(v)
	case float64:
		ttl = int64(v)
	default:
		return 0, hderr.New(hderr.PayloadBadTTL, "hds.ttl must be a number")
	}
	if ttl < core.MinTTLSec || ttl > core.MaxTTLSec {
		return 0, hderr.New(hderr.PayloadBadTTL, "hds.ttl must be between %d and %d seconds", core.MinTTLSec, core.MaxTTLSec)
	}
	return ttl, nil
}

func shortID(serverKey string) string {
	if len(serverKey) <= 12 {
		return serverKey
	}
	return serverKey[:12]
}
