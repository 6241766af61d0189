package localrecords

import (
	"fmt"
	"net"
	"strings"

	"override-dns/pkg/config"

	"github.com/miekg/dns"
)

// RecordType represents the type of DNS record
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeAAAA  RecordType = "AAAA"
	RecordTypeCNAME RecordType = "CNAME"
	RecordTypeMX    RecordType = "MX"
	RecordTypeTXT   RecordType = "TXT"
	RecordTypeSRV   RecordType = "SRV"
	RecordTypePTR   RecordType = "PTR"
	RecordTypeNS    RecordType = "NS"
	RecordTypeSOA   RecordType = "SOA"
	RecordTypeCAA   RecordType = "CAA"
)

// DefaultTTL is used when a record is given without a TTL
const DefaultTTL uint32 = 300

var qtypes = map[RecordType]uint16{
	RecordTypeA:     dns.TypeA,
	RecordTypeAAAA:  dns.TypeAAAA,
	RecordTypeCNAME: dns.TypeCNAME,
	RecordTypeMX:    dns.TypeMX,
	RecordTypeTXT:   dns.TypeTXT,
	RecordTypeSRV:   dns.TypeSRV,
	RecordTypePTR:   dns.TypePTR,
	RecordTypeNS:    dns.TypeNS,
	RecordTypeSOA:   dns.TypeSOA,
	RecordTypeCAA:   dns.TypeCAA,
}

// Qtype returns the wire type code, or 0 for unsupported types
func (t RecordType) Qtype() uint16 {
	return qtypes[t]
}

// ParseRecordType accepts a case-insensitive mnemonic such as "aaaa"
func ParseRecordType(s string) (RecordType, error) {
	t := RecordType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := qtypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
	return t, nil
}

// LocalRecord describes one resource record before it enters the store.
// Only the fields relevant to Type are read.
type LocalRecord struct {
	Domain   string
	Type     RecordType
	Target   string
	IPs      []net.IP
	TTL      uint32
	Priority uint16
	Weight   uint16
	Port     uint16

	// TXT record data (multiple strings per record)
	TxtRecords []string

	// SOA record data
	Ns      string
	Mbox    string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minttl  uint32

	// CAA record data
	CaaFlag  uint8
	CaaTag   string
	CaaValue string
}

// NewLocalRecord creates a new local record with sensible defaults
func NewLocalRecord(domain string, recordType RecordType) *LocalRecord {
	return &LocalRecord{
		Domain: normalizeDomain(domain),
		Type:   recordType,
		TTL:    DefaultTTL,
	}
}

// NewARecord creates a new A record
func NewARecord(domain string, ip net.IP, ttl uint32) *LocalRecord {
	r := NewLocalRecord(domain, RecordTypeA)
	r.IPs = []net.IP{ip}
	r.TTL = ttl
	return r
}

// NewAAAARecord creates a new AAAA record
func NewAAAARecord(domain string, ip net.IP, ttl uint32) *LocalRecord {
	r := NewLocalRecord(domain, RecordTypeAAAA)
	r.IPs = []net.IP{ip}
	r.TTL = ttl
	return r
}

// NewCNAMERecord creates a new CNAME record
func NewCNAMERecord(domain, target string) *LocalRecord {
	r := NewLocalRecord(domain, RecordTypeCNAME)
	r.Target = normalizeDomain(target)
	return r
}

// NewTXTRecord creates a new TXT record
func NewTXTRecord(domain string, txtRecords []string) *LocalRecord {
	r := NewLocalRecord(domain, RecordTypeTXT)
	r.TxtRecords = txtRecords
	return r
}

// NewMXRecord creates a new MX record
func NewMXRecord(domain, target string, priority uint16) *LocalRecord {
	r := NewLocalRecord(domain, RecordTypeMX)
	r.Target = normalizeDomain(target)
	r.Priority = priority
	return r
}

// NewSRVRecord creates a new SRV record
func NewSRVRecord(domain, target string, priority, weight, port uint16) *LocalRecord {
	r := NewLocalRecord(domain, RecordTypeSRV)
	r.Target = normalizeDomain(target)
	r.Priority = priority
	r.Weight = weight
	r.Port = port
	return r
}

// NewSOARecord creates a new SOA record
func NewSOARecord(domain, ns, mbox string, serial, refresh, retry, expire, minttl uint32) *LocalRecord {
	r := NewLocalRecord(domain, RecordTypeSOA)
	r.Ns = normalizeDomain(ns)
	r.Mbox = normalizeDomain(mbox)
	r.Serial = serial
	r.Refresh = refresh
	r.Retry = retry
	r.Expire = expire
	r.Minttl = minttl
	return r
}

// ToRR validates the record and builds its wire form. A record yields
// one RR per IP for A/AAAA, so the result is a set.
func (r *LocalRecord) ToRR() (RecordSet, error) {
	if err := validateRecord(r); err != nil {
		return nil, err
	}

	hdr := func() dns.RR_Header {
		return dns.RR_Header{
			Name:   normalizeDomain(r.Domain),
			Rrtype: r.Type.Qtype(),
			Class:  dns.ClassINET,
			Ttl:    r.TTL,
		}
	}

	switch r.Type {
	case RecordTypeA:
		set := make(RecordSet, 0, len(r.IPs))
		for _, ip := range r.IPs {
			set = append(set, &dns.A{Hdr: hdr(), A: ip.To4()})
		}
		return set, nil
	case RecordTypeAAAA:
		set := make(RecordSet, 0, len(r.IPs))
		for _, ip := range r.IPs {
			set = append(set, &dns.AAAA{Hdr: hdr(), AAAA: ip.To16()})
		}
		return set, nil
	case RecordTypeCNAME:
		return RecordSet{&dns.CNAME{Hdr: hdr(), Target: normalizeDomain(r.Target)}}, nil
	case RecordTypeMX:
		return RecordSet{&dns.MX{Hdr: hdr(), Preference: r.Priority, Mx: normalizeDomain(r.Target)}}, nil
	case RecordTypeTXT:
		return RecordSet{&dns.TXT{Hdr: hdr(), Txt: append([]string(nil), r.TxtRecords...)}}, nil
	case RecordTypeSRV:
		return RecordSet{&dns.SRV{
			Hdr:      hdr(),
			Priority: r.Priority,
			Weight:   r.Weight,
			Port:     r.Port,
			Target:   normalizeDomain(r.Target),
		}}, nil
	case RecordTypePTR:
		return RecordSet{&dns.PTR{Hdr: hdr(), Ptr: normalizeDomain(r.Target)}}, nil
	case RecordTypeNS:
		return RecordSet{&dns.NS{Hdr: hdr(), Ns: normalizeDomain(r.Target)}}, nil
	case RecordTypeSOA:
		return RecordSet{&dns.SOA{
			Hdr:     hdr(),
			Ns:      normalizeDomain(r.Ns),
			Mbox:    normalizeDomain(r.Mbox),
			Serial:  r.Serial,
			Refresh: r.Refresh,
			Retry:   r.Retry,
			Expire:  r.Expire,
			Minttl:  r.Minttl,
		}}, nil
	case RecordTypeCAA:
		return RecordSet{&dns.CAA{Hdr: hdr(), Flag: r.CaaFlag, Tag: r.CaaTag, Value: r.CaaValue}}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, r.Type)
}

// FromEntry converts a configuration/API entry into a LocalRecord
func FromEntry(e config.LocalRecordEntry) (*LocalRecord, error) {
	rt, err := ParseRecordType(e.Type)
	if err != nil {
		return nil, err
	}

	r := NewLocalRecord(e.Domain, rt)
	if e.TTL > 0 {
		r.TTL = e.TTL
	}
	r.Target = e.Target
	r.TxtRecords = e.TxtRecords
	if e.Priority != nil {
		r.Priority = *e.Priority
	}
	if e.Weight != nil {
		r.Weight = *e.Weight
	}
	if e.Port != nil {
		r.Port = *e.Port
	}
	r.Ns, r.Mbox = e.Ns, e.Mbox
	r.Serial, r.Refresh, r.Retry, r.Expire, r.Minttl = e.Serial, e.Refresh, e.Retry, e.Expire, e.Minttl
	r.CaaFlag, r.CaaTag, r.CaaValue = e.CaaFlag, e.CaaTag, e.CaaValue

	for _, s := range e.IPs {
		ip := net.ParseIP(strings.TrimSpace(s))
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIP, s)
		}
		r.IPs = append(r.IPs, ip)
	}

	return r, nil
}

// EntryFromRR renders a stored record back into the entry shape used by
// the API and the configuration file
func EntryFromRR(rr dns.RR) config.LocalRecordEntry {
	h := rr.Header()
	e := config.LocalRecordEntry{
		Domain: h.Name,
		Type:   dns.TypeToString[h.Rrtype],
		TTL:    h.Ttl,
	}

	switch v := rr.(type) {
	case *dns.A:
		e.IPs = []string{v.A.String()}
	case *dns.AAAA:
		e.IPs = []string{v.AAAA.String()}
	case *dns.CNAME:
		e.Target = v.Target
	case *dns.MX:
		e.Target = v.Mx
		e.Priority = ptr(v.Preference)
	case *dns.TXT:
		e.TxtRecords = append([]string(nil), v.Txt...)
	case *dns.SRV:
		e.Target = v.Target
		e.Priority, e.Weight, e.Port = ptr(v.Priority), ptr(v.Weight), ptr(v.Port)
	case *dns.PTR:
		e.Target = v.Ptr
	case *dns.NS:
		e.Target = v.Ns
	case *dns.SOA:
		e.Ns, e.Mbox = v.Ns, v.Mbox
		e.Serial, e.Refresh, e.Retry, e.Expire, e.Minttl = v.Serial, v.Refresh, v.Retry, v.Expire, v.Minttl
	case *dns.CAA:
		e.CaaFlag, e.CaaTag, e.CaaValue = v.Flag, v.Tag, v.Value
	}

	return e
}

func ptr(v uint16) *uint16 { return &v }

// String returns a human-readable representation of the record
func (r *LocalRecord) String() string {
	switch r.Type {
	case RecordTypeA, RecordTypeAAAA:
		return fmt.Sprintf("%s %d IN %s %v", r.Domain, r.TTL, r.Type, r.IPs)
	case RecordTypeCNAME, RecordTypePTR, RecordTypeNS:
		return fmt.Sprintf("%s %d IN %s %s", r.Domain, r.TTL, r.Type, r.Target)
	default:
		return fmt.Sprintf("%s %d IN %s", r.Domain, r.TTL, r.Type)
	}
}
