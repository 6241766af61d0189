package dns

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/miekg/dns"
)

// Authority answers lookups for one zone. The override zone and forward
// zones both implement it.
type Authority interface {
	// Origin is the zone name as a lowercase FQDN
	Origin() string
	// Kind is the configured zone kind (primary, forward, hint)
	Kind() string
	// Authoritative authorities answer only what they hold; a miss falls
	// through to the next candidate. Non-authoritative ones are terminal.
	Authoritative() bool
	Lookup(ctx context.Context, name string, qtype uint16) ([]dns.RR, error)
}

// ZoneInfo describes a registered zone
type ZoneInfo struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Authoritative bool   `json:"authoritative"`
}

// Catalog routes query names to the zones that may answer them
type Catalog struct {
	mu    sync.RWMutex
	zones map[string]Authority
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{zones: make(map[string]Authority)}
}

// Upsert registers a, replacing any zone with the same origin
func (c *Catalog) Upsert(a Authority) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones[canonical(a.Origin())] = a
}

// Remove unregisters the zone named origin
func (c *Catalog) Remove(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.zones, canonical(origin))
}

// Len returns the number of zones
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.zones)
}

// Candidates returns the authorities to try for name, in order: every
// authoritative zone containing name, most specific first, followed by the
// most specific non-authoritative zone. Override zones therefore always
// get the first word, and at most one forwarder is consulted.
func (c *Catalog) Candidates(name string) []Authority {
	name = canonical(name)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Authority
	var forward Authority
	for _, suffix := range suffixes(name) {
		a, ok := c.zones[suffix]
		if !ok {
			continue
		}
		if a.Authoritative() {
			out = append(out, a)
		} else if forward == nil {
			forward = a
		}
	}
	if forward != nil {
		out = append(out, forward)
	}
	return out
}

// Zones lists registered zones sorted by name
func (c *Catalog) Zones() []ZoneInfo {
	c.mu.RLock()
	out := make([]ZoneInfo, 0, len(c.zones))
	for name, a := range c.zones {
		out = append(out, ZoneInfo{Name: name, Kind: a.Kind(), Authoritative: a.Authoritative()})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// suffixes returns name and each parent down to the root, longest first
func suffixes(name string) []string {
	out := []string{name}
	if name == "." {
		return out
	}
	for off, end := 0, false; !end; {
		off, end = dns.NextLabel(name, off)
		if end {
			break
		}
		out = append(out, name[off:])
	}
	return append(out, ".")
}

func canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "."
	}
	return dns.Fqdn(name)
}
