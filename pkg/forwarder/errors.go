package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

var (
	// ErrCircuitOpen is returned when circuit is open (upstream unhealthy)
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrNoHealthyUpstreams is returned when all upstreams are unhealthy
	ErrNoHealthyUpstreams = errors.New("no healthy upstream servers available")

	// ErrNoUpstreams is returned when a forwarder has nothing to talk to
	ErrNoUpstreams = errors.New("no upstream DNS servers configured")
)

// Kind classifies an upstream failure
type Kind int

const (
	// KindNotFound means the upstream answered NXDOMAIN
	KindNotFound Kind = iota + 1
	// KindTimeout means no answer arrived in time
	KindTimeout
	// KindTransport covers every other failure (network, SERVFAIL, REFUSED, open circuit)
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// UpstreamError is returned by the forwarding path for any lookup that did
// not produce a usable answer
type UpstreamError struct {
	Err      error
	Name     string
	Upstream string
	Kind     Kind
	Rcode    int
	Ns       []dns.RR // authority section of a negative answer (SOA)
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream %s", e.Kind)
	if e.Name != "" {
		msg += " for " + e.Name
	}
	if e.Upstream != "" {
		msg += " via " + e.Upstream
	}
	if e.Rcode != dns.RcodeSuccess {
		msg += " (" + dns.RcodeToString[e.Rcode] + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or 0 if err is not an UpstreamError
func KindOf(err error) Kind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return 0
}

// classify maps a raw exchange error onto Timeout or Transport
func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

// rcodeError is the failure recorded for a response that should be retried elsewhere
type rcodeError struct {
	rcode int
}

func (e rcodeError) Error() string {
	return "upstream returned " + dns.RcodeToString[e.rcode]
}
