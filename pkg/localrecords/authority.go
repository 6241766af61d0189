package localrecords

import (
	"context"

	"override-dns/pkg/config"

	"github.com/miekg/dns"
)

// Authority answers queries for the override zone from a Store
type Authority struct {
	store *Store
}

// NewAuthority wraps store as a primary, authoritative zone
func NewAuthority(store *Store) *Authority {
	return &Authority{store: store}
}

// Origin returns the zone name
func (a *Authority) Origin() string {
	return a.store.Origin()
}

// Kind returns config.ZoneKindPrimary
func (a *Authority) Kind() string {
	return config.ZoneKindPrimary
}

// Authoritative is always true for the override zone
func (a *Authority) Authoritative() bool {
	return true
}

// Store exposes the backing store
func (a *Authority) Store() *Store {
	return a.store
}

// Lookup returns the exact (name, qtype) set or ErrRecordNotFound.
// A set of another type at the same name is not a match.
func (a *Authority) Lookup(_ context.Context, name string, qtype uint16) ([]dns.RR, error) {
	set, err := a.store.Lookup(name, qtype)
	if err != nil {
		return nil, err
	}
	return set, nil
}
