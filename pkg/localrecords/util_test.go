package localrecords

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		want   bool
	}{
		{name: "simple domain", domain: "example.com", want: true},
		{name: "subdomain", domain: "www.example.com", want: true},
		{name: "trailing dot", domain: "example.com.", want: true},
		{name: "single label", domain: "localhost", want: true},
		{name: "hyphens", domain: "my-server.example.com", want: true},
		{name: "service labels", domain: "_sip._tcp.example.com", want: true},
		{name: "empty", domain: "", want: false},
		{name: "root only", domain: ".", want: false},
		{name: "too long", domain: strings.Repeat("a.", 130) + "com", want: false},
		{name: "leading dot", domain: ".example.com", want: false},
		{name: "label too long", domain: strings.Repeat("a", 64) + ".example.com", want: false},
		{name: "empty label", domain: "example..com", want: false},
		{name: "hyphen at start", domain: "-example.com", want: false},
		{name: "hyphen at end", domain: "example-.com", want: false},
		{name: "wildcard", domain: "*.example.com", want: false},
		{name: "space", domain: "exa mple.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidDomain(tt.domain); got != tt.want {
				t.Errorf("isValidDomain(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestIsAlphanumeric(t *testing.T) {
	for _, c := range []byte("azAZ09") {
		if !isAlphanumeric(c) {
			t.Errorf("isAlphanumeric(%c) = false, want true", c)
		}
	}
	for _, c := range []byte("-_.* ") {
		if isAlphanumeric(c) {
			t.Errorf("isAlphanumeric(%c) = true, want false", c)
		}
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"Example.COM":   "example.com.",
		"example.com.":  "example.com.",
		"  www.Foo.io ": "www.foo.io.",
		"":              "",
	}
	for in, want := range tests {
		if got := normalizeDomain(in); got != want {
			t.Errorf("normalizeDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInZone(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"example.com.", "example.com.", true},
		{"www.example.com.", "example.com.", true},
		{"a.b.example.com.", "example.com.", true},
		{"badexample.com.", "example.com.", false},
		{"example.org.", "example.com.", false},
		{"anything.org.", ".", true},
	}

	for _, tt := range tests {
		if got := inZone(tt.name, tt.origin); got != tt.want {
			t.Errorf("inZone(%q, %q) = %v, want %v", tt.name, tt.origin, got, tt.want)
		}
	}
}

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		record  *LocalRecord
		wantErr error
	}{
		{
			name:    "nil record",
			record:  nil,
			wantErr: ErrInvalidRecord,
		},
		{
			name:    "empty domain",
			record:  &LocalRecord{Type: RecordTypeA, IPs: []net.IP{net.ParseIP("192.168.1.1")}},
			wantErr: ErrInvalidDomain,
		},
		{
			name:    "A without IPs",
			record:  &LocalRecord{Domain: "test.example.com", Type: RecordTypeA},
			wantErr: ErrNoIPs,
		},
		{
			name:    "A with IPv6",
			record:  &LocalRecord{Domain: "test.example.com", Type: RecordTypeA, IPs: []net.IP{net.ParseIP("fe80::1")}},
			wantErr: ErrInvalidIP,
		},
		{
			name:    "AAAA with IPv4",
			record:  &LocalRecord{Domain: "test.example.com", Type: RecordTypeAAAA, IPs: []net.IP{net.ParseIP("192.168.1.1")}},
			wantErr: ErrInvalidIP,
		},
		{
			name:    "CNAME without target",
			record:  &LocalRecord{Domain: "alias.example.com", Type: RecordTypeCNAME},
			wantErr: ErrEmptyTarget,
		},
		{
			name:    "SRV without port",
			record:  &LocalRecord{Domain: "_sip._tcp.example.com", Type: RecordTypeSRV, Target: "sip.example.com"},
			wantErr: ErrInvalidRecord,
		},
		{
			name:    "TXT without data",
			record:  &LocalRecord{Domain: "example.com", Type: RecordTypeTXT},
			wantErr: ErrNoTxtData,
		},
		{
			name:    "TXT string too long",
			record:  &LocalRecord{Domain: "example.com", Type: RecordTypeTXT, TxtRecords: []string{strings.Repeat("x", 256)}},
			wantErr: ErrTxtTooLong,
		},
		{
			name:    "TXT string at limit",
			record:  &LocalRecord{Domain: "example.com", Type: RecordTypeTXT, TxtRecords: []string{strings.Repeat("x", 255)}},
			wantErr: nil,
		},
		{
			name:    "SOA missing mbox",
			record:  &LocalRecord{Domain: "example.com", Type: RecordTypeSOA, Ns: "ns1.example.com"},
			wantErr: ErrInvalidSOA,
		},
		{
			name:    "CAA bad tag",
			record:  &LocalRecord{Domain: "example.com", Type: RecordTypeCAA, CaaTag: "policy", CaaValue: "x"},
			wantErr: ErrInvalidCAA,
		},
		{
			name:    "CAA empty value",
			record:  &LocalRecord{Domain: "example.com", Type: RecordTypeCAA, CaaTag: "issue"},
			wantErr: ErrInvalidCAA,
		},
		{
			name:    "unsupported type",
			record:  &LocalRecord{Domain: "example.com", Type: "HINFO"},
			wantErr: ErrUnsupportedType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRecord(tt.record)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validateRecord() unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validateRecord() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
