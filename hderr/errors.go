// Package hderr defines the typed errors the rest of HDS returns. Every
// failure that should surface to a client carries one of the hds.error.*
// kinds from the wire protocol; anything else is treated as internal.
package hderr

import "fmt"

// Kind is one of the hds.error.* strings the wire protocol exposes in the
// "hds.error" field of an error envelope.
type Kind string

const (
	HeadersMissing     Kind = "hds.error.headers.missing"
	HeadersUnsupported Kind = "hds.error.headers.unsupported"

	PayloadMissingKey  Kind = "hds.error.payload.missing_key"
	PayloadBadType     Kind = "hds.error.payload.bad_type"
	PayloadBadTTL      Kind = "hds.error.payload.bad_ttl"
	PayloadKeyTooLong  Kind = "hds.error.payload.key_too_long"
	PayloadKeyTooShort Kind = "hds.error.payload.key_too_short"
	PayloadBodyTooLong  Kind = "hds.error.payload.body_too_long"
	PayloadBodyTooShort Kind = "hds.error.payload.body_too_short"
	PayloadBadSignature Kind = "hds.error.payload.bad_signature"

	ServernameNotRSA Kind = "hds.error.servername.not_rsa"

	StateNoHost Kind = "hds.error.state.no_host"

	HostMissing   Kind = "hds.error.host.missing"
	HostExpired   Kind = "hds.error.host.expired"
	HostTombstone Kind = "hds.error.host.tombstone"

	HostsNone     Kind = "hds.error.hosts.none"
	HostsConflict Kind = "hds.error.hosts.conflict"

	TopicMissing Kind = "hds.error.topic.missing"

	FederationDisabled Kind = "hds.error.federation.disabled"
	FederationNoHosts  Kind = "hds.error.federation.no_hosts"

	BadKey  Kind = "hds.error.badkey"
	Unknown Kind = "hds.error.unknown"
)

// Error represents a failure tagged with one of the hds.error.* kinds. It is
// the only error type HDS's core packages hand back across package
// boundaries; callers that need to branch on failure reason use Is.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

// New builds an *Error of the given kind with a formatted detail message.
func New(kind Kind, msg string, args ...interface{}) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(msg, args...)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	he, ok := err.(*Error)
	if !ok {
		return false
	}
	return he.Kind == kind
}

// KindOf extracts the Kind from err, returning Unknown if err is not an
// *Error. Used by the HTTP surface to build error envelopes for errors that
// escaped from outside hderr's control (e.g. SQL driver failures).
func KindOf(err error) Kind {
	he, ok := err.(*Error)
	if !ok {
		return Unknown
	}
	return he.Kind
}
