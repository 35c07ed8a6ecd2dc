// Package bootstrap seeds a directory's own identity into its Store and
// keeps it, and its peer registrations, refreshed for as long as the
// process runs (spec.md §4.6). Grounded on the original's register.py
// daemon loop (send state + put_topic, then sleep TTL-60s) and on
// boulder's cmd package for the surrounding config/retry conventions.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/Half-Shot/hds/blog"
	"github.com/Half-Shot/hds/canon"
	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/federation"
	"github.com/Half-Shot/hds/store"
)

// Identity is the set of state entries a directory seeds about itself on
// startup: its advertised address, display name, optional contact
// details, and (for directory instances) the URL peers should use to
// reach it.
type Identity struct {
	Host         string
	Name         string
	ContactName  string
	ContactEmail string
	DirectoryURL string
	TTLSec       int64
}

// Bootstrapper seeds identity state, registers with a fixed peer list,
// and refreshes both on a TTL-bound cadence.
type Bootstrapper struct {
	Store      store.Store
	Federation *federation.Client
	Log        blog.Logger

	ServerKey string
	Identity  Identity
	Peers     []string
}

// New constructs a Bootstrapper.
func New(st store.Store, fed *federation.Client, log blog.Logger, serverKey string, identity Identity, peers []string) *Bootstrapper {
	return &Bootstrapper{
		Store:      st,
		Federation: fed,
		Log:        log,
		ServerKey:  serverKey,
		Identity:   identity,
		Peers:      peers,
	}
}

// SeedIdentity writes this directory's own identity state locally. It is
// the Go-native signing path: the directory holds its own private key,
// so there is no payload to verify here, only to sign and store.
func (b *Bootstrapper) SeedIdentity(ctx context.Context) error {
	entries := map[string]string{
		core.KeyHost: b.Identity.Host,
	}
	if b.Identity.Name != "" {
		entries[core.KeyName] = b.Identity.Name
	}
	if b.Identity.ContactName != "" {
		entries[core.KeyContactName] = b.Identity.ContactName
	}
	if b.Identity.ContactEmail != "" {
		entries[core.KeyContactEmail] = b.Identity.ContactEmail
	}
	if b.Identity.DirectoryURL != "" {
		entries[core.KeyDirectoryURL] = b.Identity.DirectoryURL
	}
	entries[core.KeyType] = core.TypeDirectory

	for key, value := range entries {
		payload := core.Payload{core.FieldTTL: b.Identity.TTLSec, key: value}
		signed, err := canon.Sign(b.Federation.PrivateKey, payload)
		if err != nil {
			return err
		}
		sig, _ := signed[core.FieldSignature].(string)
		if err := b.Store.StoreHostState(b.ServerKey, key, value, b.Identity.TTLSec, sig, 0); err != nil {
			return err
		}
	}
	return nil
}

// RegisterWithPeers pushes this directory's identity and hds.directory
// membership to every configured peer, with bounded retry-with-backoff
// per peer in place of the original's fixed 4-second pre-registration
// sleep (spec.md §9 "Refresh cadence lower bound").
func (b *Bootstrapper) RegisterWithPeers(ctx context.Context) {
	for _, peer := range b.Peers {
		if err := retryWithBackoff(ctx, 5, func() error {
			return b.registerWith(ctx, peer)
		}); err != nil {
			b.Log.Warning(fmt.Sprintf("bootstrap: giving up registering with peer %s: %s", peer, err))
		}
	}
}

func (b *Bootstrapper) registerWith(ctx context.Context, peer string) error {
	// hds.host goes first: a peer refuses other keys from a host it has no
	// live hds.host for.
	entries := [][2]string{
		{core.KeyHost, b.Identity.Host},
		{core.KeyName, b.Identity.Name},
		{core.KeyContactName, b.Identity.ContactName},
		{core.KeyContactEmail, b.Identity.ContactEmail},
		{core.KeyDirectoryURL, b.Identity.DirectoryURL},
		{core.KeyType, core.TypeDirectory},
	}
	for _, e := range entries {
		if e[1] == "" {
			continue
		}
		if err := b.Federation.SendState(ctx, peer, e[0], e[1], b.Identity.TTLSec); err != nil {
			return err
		}
	}
	if err := b.Federation.PutTopic(ctx, peer, core.TopicDirectory, nil); err != nil {
		return err
	}
	b.Log.Info(fmt.Sprintf("bootstrap: registered with peer %s", peer))
	return nil
}

func retryWithBackoff(ctx context.Context, attempts int, fn func() error) error {
	var err error
	delay := 500 * time.Millisecond
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// RunRefreshLoop re-seeds identity and re-registers with peers every
// TTL-60s, per spec.md §4.6, until ctx is canceled.
func (b *Bootstrapper) RunRefreshLoop(ctx context.Context) {
	period := time.Duration(b.Identity.TTLSec-60) * time.Second
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.SeedIdentity(ctx); err != nil {
				b.Log.Warning(fmt.Sprintf("bootstrap: refresh seed failed: %s", err))
				continue
			}
			b.RegisterWithPeers(ctx)
		}
	}
}
