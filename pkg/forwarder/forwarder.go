// Package forwarder sends queries that the override zone cannot answer to
// upstream resolvers and classifies the outcome.
package forwarder

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"override-dns/pkg/config"
	"override-dns/pkg/logging"

	"github.com/miekg/dns"
)

const defaultTimeout = 2 * time.Second

// Forwarder handles forwarding DNS queries to upstream servers
type Forwarder struct {
	upstreams []string
	index     atomic.Uint32
	timeout   time.Duration
	retries   int
	logger    *logging.Logger
	health    *UpstreamHealth // nil when circuit breaking is disabled

	// Connection pool
	clientPool sync.Pool
}

// NewForwarder creates a forwarder for upstreams. Addresses without a port get :53.
func NewForwarder(upstreams []string, cfg config.ForwarderConfig, logger *logging.Logger) *Forwarder {
	if logger == nil {
		logger = logging.NewDiscard()
	}

	f := &Forwarder{
		upstreams: NormalizeUpstreams(upstreams),
		timeout:   cfg.Timeout,
		retries:   cfg.Retries,
		logger:    logger,
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	if cfg.CircuitBreaker.Enabled {
		f.health = NewUpstreamHealth(f.upstreams, cfg.CircuitBreaker)
	}

	f.clientPool.New = func() any {
		return &dns.Client{
			Net:     "udp",
			Timeout: f.timeout,
		}
	}

	logger.Info("Forwarder initialized",
		"upstreams", f.upstreams,
		"timeout", f.timeout,
		"retries", f.retries,
		"circuit_breaker", cfg.CircuitBreaker.Enabled,
	)

	return f
}

// NormalizeUpstreams adds the default DNS port where it is missing
func NormalizeUpstreams(in []string) []string {
	out := make([]string, 0, len(in))
	for _, upstream := range in {
		if _, _, err := net.SplitHostPort(upstream); err != nil {
			upstream = net.JoinHostPort(upstream, "53")
		}
		out = append(out, upstream)
	}
	return out
}

// Exchange sends req to the upstreams in round-robin order, trying up to
// the configured number of distinct upstreams. NXDOMAIN is a valid answer
// and is returned as a response; SERVFAIL and REFUSED are retried on the
// next upstream. Failures come back as *UpstreamError.
func (f *Forwarder) Exchange(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	name := ""
	if len(req.Question) > 0 {
		name = req.Question[0].Name
	}
	if len(f.upstreams) == 0 {
		return nil, &UpstreamError{Kind: KindTransport, Name: name, Err: ErrNoUpstreams}
	}

	var (
		lastErr      error
		lastUpstream string
		tried        int
	)

	n := len(f.upstreams)
	start := int(f.index.Add(1) % uint32(n))
	for i := 0; i < n && tried < f.attempts(); i++ {
		upstream := f.upstreams[(start+i)%n]
		if f.health != nil && !f.health.Allow(upstream) {
			continue
		}
		tried++

		resp, rtt, err := f.exchangeOnce(ctx, req, upstream)
		if err == nil && (resp.Rcode == dns.RcodeServerFailure || resp.Rcode == dns.RcodeRefused) {
			err = rcodeError{rcode: resp.Rcode}
		}
		if f.health != nil {
			f.health.RecordResult(upstream, err)
		}

		if err == nil {
			f.logger.Debug("Upstream query succeeded",
				"upstream", upstream,
				"domain", name,
				"rtt", rtt,
				"rcode", dns.RcodeToString[resp.Rcode],
				"answers", len(resp.Answer),
			)
			return resp, nil
		}

		f.logger.Warn("Upstream query failed",
			"upstream", upstream,
			"domain", name,
			"error", err,
			"attempt", tried,
		)
		lastErr, lastUpstream = err, upstream

		if ctx.Err() != nil {
			break
		}
	}

	if tried == 0 {
		return nil, &UpstreamError{Kind: KindTransport, Name: name, Err: ErrNoHealthyUpstreams}
	}

	ue := &UpstreamError{Kind: classify(lastErr), Name: name, Upstream: lastUpstream, Err: lastErr}
	var rerr rcodeError
	if errors.As(lastErr, &rerr) {
		ue.Rcode = rerr.rcode
	}
	return nil, ue
}

// exchangeOnce queries one upstream over UDP, retrying over TCP when the
// answer is truncated
func (f *Forwarder) exchangeOnce(ctx context.Context, req *dns.Msg, upstream string) (*dns.Msg, time.Duration, error) {
	client := f.clientPool.Get().(*dns.Client)
	resp, rtt, err := client.ExchangeContext(ctx, req, upstream)
	f.clientPool.Put(client)
	if err != nil {
		return nil, rtt, err
	}
	if resp == nil {
		return nil, rtt, errors.New("empty response")
	}

	if resp.Truncated {
		f.logger.Debug("Truncated upstream response, retrying over TCP", "upstream", upstream)
		tcp := &dns.Client{Net: "tcp", Timeout: f.timeout}
		return tcp.ExchangeContext(ctx, req, upstream)
	}
	return resp, rtt, nil
}

func (f *Forwarder) attempts() int {
	if f.retries < 1 {
		return 1
	}
	return f.retries
}

// Upstreams returns the normalized upstream list
func (f *Forwarder) Upstreams() []string {
	return append([]string(nil), f.upstreams...)
}

// Health returns the breaker state per upstream; empty when breaking is disabled
func (f *Forwarder) Health() map[string]CircuitState {
	if f.health == nil {
		return map[string]CircuitState{}
	}
	return f.health.States()
}
