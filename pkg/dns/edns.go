package dns

import (
	"github.com/miekg/dns"
)

// EDNS0 buffer limits (RFC 6891)
const (
	// DefaultEDNSBufferSize is advertised when the client asked for 0
	DefaultEDNSBufferSize = 1232

	// MaxEDNSBufferSize caps what we advertise, to stay clear of fragmentation
	MaxEDNSBufferSize = 4096

	// MinEDNSBufferSize is the floor for any client-advertised size
	MinEDNSBufferSize = 512
)

// EDNSInfo is the EDNS0 state of a request
type EDNSInfo struct {
	Present    bool
	Version    uint8
	BufferSize uint16
	DO         bool
}

// GetEDNSInfo extracts the OPT record of req, if any
func GetEDNSInfo(req *dns.Msg) EDNSInfo {
	var info EDNSInfo
	if req == nil {
		return info
	}
	if opt := req.IsEdns0(); opt != nil {
		info.Present = true
		info.Version = opt.Version()
		info.BufferSize = opt.UDPSize()
		info.DO = opt.Do()
	}
	return info
}

// SetEDNS0 adds an OPT record to resp when the request carried one.
// Responses that already have an OPT are left alone.
func SetEDNS0(resp *dns.Msg, info EDNSInfo) {
	if resp == nil || !info.Present || resp.IsEdns0() != nil {
		return
	}

	// SetUDPSize writes the class field; do not set Class by hand
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(negotiateBufferSize(info.BufferSize))
	if info.DO {
		opt.SetDo()
	}
	resp.Extra = append(resp.Extra, opt)
}

// HandleEDNS0 mirrors the request's EDNS0 state onto resp
func HandleEDNS0(req, resp *dns.Msg) {
	SetEDNS0(resp, GetEDNSInfo(req))
}

// maxUDPSize is the largest UDP response the client will accept
func maxUDPSize(req *dns.Msg) int {
	info := GetEDNSInfo(req)
	if !info.Present {
		return dns.MinMsgSize
	}
	return int(negotiateBufferSize(info.BufferSize))
}

func negotiateBufferSize(requested uint16) uint16 {
	switch {
	case requested == 0:
		return DefaultEDNSBufferSize
	case requested < MinEDNSBufferSize:
		return MinEDNSBufferSize
	case requested > MaxEDNSBufferSize:
		return MaxEDNSBufferSize
	default:
		return requested
	}
}
