package dns

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/miekg/dns"
)

// stubAuthority is an Authority whose answers are scripted by the test
type stubAuthority struct {
	origin        string
	kind          string
	authoritative bool
	lookup        func(name string, qtype uint16) ([]dns.RR, error)
	calls         atomic.Int32
}

func (s *stubAuthority) Origin() string      { return dns.Fqdn(s.origin) }
func (s *stubAuthority) Kind() string        { return s.kind }
func (s *stubAuthority) Authoritative() bool { return s.authoritative }

func (s *stubAuthority) Lookup(_ context.Context, name string, qtype uint16) ([]dns.RR, error) {
	s.calls.Add(1)
	if s.lookup == nil {
		return nil, nil
	}
	return s.lookup(name, qtype)
}

func origins(auths []Authority) []string {
	out := make([]string, len(auths))
	for i, a := range auths {
		out[i] = a.Origin()
	}
	return out
}

func TestSuffixes(t *testing.T) {
	got := suffixes("a.example.com.")
	want := []string{"a.example.com.", "example.com.", "com.", "."}
	if len(got) != len(want) {
		t.Fatalf("suffixes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("suffixes[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if root := suffixes("."); len(root) != 1 || root[0] != "." {
		t.Errorf("suffixes(.) = %v", root)
	}
}

func TestCatalog_Candidates(t *testing.T) {
	c := NewCatalog()
	c.Upsert(&stubAuthority{origin: "example.com", kind: "primary", authoritative: true})
	c.Upsert(&stubAuthority{origin: "lab.example.com", kind: "primary", authoritative: true})
	c.Upsert(&stubAuthority{origin: "corp.example.com", kind: "forward"})
	c.Upsert(&stubAuthority{origin: ".", kind: "forward"})

	tests := []struct {
		name string
		want []string
	}{
		{"www.example.com.", []string{"example.com.", "."}},
		{"EXAMPLE.com", []string{"example.com.", "."}},
		{"host.lab.example.com.", []string{"lab.example.com.", "example.com.", "."}},
		// overrides still come before the more specific forward zone
		{"db.corp.example.com.", []string{"example.com.", "corp.example.com."}},
		{"other.org.", []string{"."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := origins(c.Candidates(tt.name))
			if len(got) != len(tt.want) {
				t.Fatalf("Candidates(%q) = %v, want %v", tt.name, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Candidates(%q)[%d] = %q, want %q", tt.name, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCatalog_NoForwarder(t *testing.T) {
	c := NewCatalog()
	c.Upsert(&stubAuthority{origin: "example.com", authoritative: true})

	if got := c.Candidates("other.org."); len(got) != 0 {
		t.Errorf("Candidates(other.org.) = %v, want none", origins(got))
	}
}

func TestCatalog_UpsertReplacesAndRemove(t *testing.T) {
	c := NewCatalog()
	first := &stubAuthority{origin: "example.com", kind: "primary", authoritative: true}
	second := &stubAuthority{origin: "Example.COM.", kind: "forward"}
	c.Upsert(first)
	c.Upsert(second)

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	zones := c.Zones()
	if zones[0].Kind != "forward" || zones[0].Authoritative {
		t.Errorf("zone not replaced: %+v", zones[0])
	}

	c.Remove("example.com")
	if c.Len() != 0 {
		t.Errorf("Len() after Remove = %d", c.Len())
	}
}
