package forwarder

import (
	"context"
	"strings"

	"override-dns/pkg/config"

	"github.com/miekg/dns"
)

// ednsBufferSize is advertised upstream so most answers fit in one datagram
const ednsBufferSize = 1232

// Authority is a forward zone: every lookup below origin is sent upstream
type Authority struct {
	origin string
	kind   string
	fwd    *Forwarder
}

// NewAuthority creates a forward zone for origin. kind is
// config.ZoneKindForward or config.ZoneKindHint; both forward.
func NewAuthority(origin, kind string, fwd *Forwarder) *Authority {
	if kind == "" {
		kind = config.ZoneKindForward
	}
	return &Authority{
		origin: dns.Fqdn(strings.ToLower(origin)),
		kind:   kind,
		fwd:    fwd,
	}
}

// Origin returns the zone name
func (a *Authority) Origin() string {
	return a.origin
}

// Kind returns the configured zone kind
func (a *Authority) Kind() string {
	return a.kind
}

// Authoritative is false: forwarded answers are never flagged AA
func (a *Authority) Authoritative() bool {
	return false
}

// Forwarder exposes the upstream client
func (a *Authority) Forwarder() *Forwarder {
	return a.fwd
}

// Lookup asks the upstreams for (name, qtype). NOERROR yields the answer
// section, possibly empty; NXDOMAIN yields KindNotFound carrying the
// upstream authority section; any other rcode is a transport failure.
func (a *Authority) Lookup(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	req.RecursionDesired = true
	req.SetEdns0(ednsBufferSize, false)

	resp, err := a.fwd.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		return resp.Answer, nil
	case dns.RcodeNameError:
		return nil, &UpstreamError{Kind: KindNotFound, Name: req.Question[0].Name, Rcode: resp.Rcode, Ns: resp.Ns}
	default:
		return nil, &UpstreamError{Kind: KindTransport, Name: req.Question[0].Name, Rcode: resp.Rcode}
	}
}
