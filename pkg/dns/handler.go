// Package dns is the resolution pipeline of override-dns: a catalog of
// zones, the handler that answers each query from the override zone or an
// upstream, and the UDP/TCP server around it.
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"override-dns/pkg/forwarder"
	"override-dns/pkg/localrecords"
	"override-dns/pkg/logging"
	"override-dns/pkg/storage"
	"override-dns/pkg/telemetry"

	"github.com/miekg/dns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Answer sources, as reported to metrics and the query log
const (
	SourceOverride = "override"
	SourceForward  = "forward"
	SourceNone     = ""
)

// Handler resolves queries against a Catalog. It holds no per-query state
// and is safe for concurrent use.
type Handler struct {
	catalog    *Catalog
	logger     *logging.Logger
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	storage    storage.Storage
	logQueries bool
}

// NewHandler creates a handler over catalog
func NewHandler(catalog *Catalog, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Handler{
		catalog: catalog,
		logger:  logger.Component("dns"),
		tracer:  tracenoop.NewTracerProvider().Tracer(""),
	}
}

// SetTracer sets the tracer used for per-query spans
func (h *Handler) SetTracer(t trace.Tracer) {
	if t != nil {
		h.tracer = t
	}
}

// SetMetrics sets the metrics collector
func (h *Handler) SetMetrics(m *telemetry.Metrics) {
	h.metrics = m
}

// SetStorage enables the query log
func (h *Handler) SetStorage(s storage.Storage, logQueries bool) {
	h.storage = s
	h.logQueries = logQueries
}

// outcome is what one pass through the pipeline produced
type outcome struct {
	source string
	err    error
}

// Resolve runs the pipeline for req and always returns a well formed reply
func (h *Handler) Resolve(ctx context.Context, req *dns.Msg) *dns.Msg {
	resp, _ := h.resolve(ctx, req)
	return resp
}

// ServeDNS implements dns.Handler
func (h *Handler) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	ctx, span := h.tracer.Start(context.Background(), "dns.query", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	start := time.Now()
	finished := h.metrics.QueryStarted(ctx)
	defer finished()

	resp, out := h.resolve(ctx, req)
	if isUDP(w) {
		resp.Truncate(maxUDPSize(req))
	}

	if req != nil && len(req.Question) > 0 {
		span.SetAttributes(
			attribute.String("dns.question.name", req.Question[0].Name),
			attribute.String("dns.question.type", dns.TypeToString[req.Question[0].Qtype]))
	}
	span.SetAttributes(
		attribute.String("dns.source", out.source),
		attribute.String("dns.rcode", dns.RcodeToString[resp.Rcode]))
	if out.err != nil {
		span.SetStatus(codes.Error, out.err.Error())
	}

	if err := w.WriteMsg(resp); err != nil {
		h.logger.Event(ctx, slog.LevelWarn, "response write failed",
			"client", clientIP(w),
			"id", resp.Id,
			"error", err)
	}

	elapsed := time.Since(start)
	h.metrics.RecordQuery(ctx, out.source, resp.Rcode, elapsed)
	h.logQuery(ctx, w, req, resp, out, start, elapsed)
}

func (h *Handler) resolve(ctx context.Context, req *dns.Msg) (resp *dns.Msg, out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("panic during resolution: %v", r)}
			h.logger.Event(ctx, slog.LevelError, "resolution failed", "error", out.err)
			resp = failure(req, dns.RcodeServerFailure)
		}
	}()

	if err := validate(req); err != nil {
		fields := []any{"error", err}
		if req != nil {
			fields = append(fields,
				"opcode", dns.OpcodeToString[req.Opcode],
				"qr", req.Response,
				"questions", len(req.Question))
		}
		h.logger.Event(ctx, slog.LevelWarn, "validation failed", fields...)
		return failure(req, dns.RcodeServerFailure), outcome{err: err}
	}

	if info := GetEDNSInfo(req); info.Version != 0 {
		resp = failure(req, dns.RcodeBadVers)
		HandleEDNS0(req, resp)
		return resp, outcome{err: fmt.Errorf("%w: EDNS version %d", ErrUnsupportedRequest, info.Version)}
	}

	resp, out = h.lookup(ctx, req, req.Question[0])
	HandleEDNS0(req, resp)
	return resp, out
}

// lookup walks the candidate zones: authoritative zones answer on a hit
// and fall through on any error, the first non-authoritative zone is final
func (h *Handler) lookup(ctx context.Context, req *dns.Msg, q dns.Question) (*dns.Msg, outcome) {
	for _, auth := range h.catalog.Candidates(q.Name) {
		rrs, err := auth.Lookup(ctx, q.Name, q.Qtype)

		if auth.Authoritative() {
			if err != nil || len(rrs) == 0 {
				if err != nil && !errors.Is(err, localrecords.ErrRecordNotFound) {
					h.logger.Event(ctx, slog.LevelWarn, "override lookup failed",
						"zone", auth.Origin(), "name", q.Name, "error", err)
				}
				h.logger.Event(ctx, slog.LevelDebug, "override miss",
					"zone", auth.Origin(),
					"name", q.Name,
					"type", localrecords.TypeLabel(q.Qtype))
				continue
			}
			return answer(req, rrs, true), outcome{source: SourceOverride}
		}

		if err != nil {
			return h.upstreamFailure(ctx, req, q, auth, err), outcome{source: SourceForward, err: err}
		}
		return answer(req, rrs, false), outcome{source: SourceForward}
	}

	h.logger.Event(ctx, slog.LevelError, "upstream lookup failed",
		"name", q.Name,
		"type", localrecords.TypeLabel(q.Qtype),
		"error", ErrNoAuthority)
	return failure(req, dns.RcodeServerFailure), outcome{err: ErrNoAuthority}
}

func (h *Handler) upstreamFailure(ctx context.Context, req *dns.Msg, q dns.Question, auth Authority, err error) *dns.Msg {
	kind := forwarder.KindOf(err)
	if kind == 0 {
		kind = forwarder.KindTransport
	}
	h.metrics.AddUpstreamError(ctx, kind.String())

	if kind == forwarder.KindNotFound {
		h.logger.Event(ctx, slog.LevelDebug, "upstream negative answer",
			"zone", auth.Origin(),
			"name", q.Name,
			"type", localrecords.TypeLabel(q.Qtype))
		resp := failure(req, dns.RcodeNameError)
		var ue *forwarder.UpstreamError
		if errors.As(err, &ue) {
			// keep the SOA so clients can cache the negative answer
			resp.Ns = ue.Ns
		}
		return resp
	}

	h.logger.Event(ctx, slog.LevelError, "upstream lookup failed",
		"zone", auth.Origin(),
		"name", q.Name,
		"type", localrecords.TypeLabel(q.Qtype),
		"kind", kind.String(),
		"error", err)
	return failure(req, dns.RcodeServerFailure)
}

func (h *Handler) logQuery(ctx context.Context, w dns.ResponseWriter, req, resp *dns.Msg, out outcome, start time.Time, elapsed time.Duration) {
	if h.storage == nil || !h.logQueries || req == nil || len(req.Question) == 0 {
		return
	}

	q := req.Question[0]
	entry := &storage.QueryLog{
		Timestamp:      start,
		ClientIP:       clientIP(w),
		Domain:         strings.TrimSuffix(strings.ToLower(q.Name), "."),
		QueryType:      localrecords.TypeLabel(q.Qtype),
		Source:         out.source,
		ResponseCode:   resp.Rcode,
		ResponseTimeMs: elapsed.Seconds() * 1000,
	}
	if err := h.storage.LogQuery(ctx, entry); err != nil && !errors.Is(err, storage.ErrClosed) {
		h.logger.Debug("Failed to log query", "domain", entry.Domain, "error", err)
	}
}

// validate accepts only standard queries with exactly one question
func validate(req *dns.Msg) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: empty message", ErrMalformedRequest)
	case req.Opcode != dns.OpcodeQuery:
		return fmt.Errorf("%w: opcode %s", ErrUnsupportedRequest, dns.OpcodeToString[req.Opcode])
	case req.Response:
		return fmt.Errorf("%w: message is a response", ErrUnsupportedRequest)
	case len(req.Question) != 1:
		return fmt.Errorf("%w: %d questions", ErrMalformedRequest, len(req.Question))
	}
	return nil
}

func answer(req *dns.Msg, rrs []dns.RR, authoritative bool) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = authoritative
	resp.RecursionAvailable = true
	resp.Answer = rrs
	return resp
}

func failure(req *dns.Msg, rcode int) *dns.Msg {
	resp := new(dns.Msg)
	if req == nil {
		resp.Response = true
		resp.Rcode = rcode
		return resp
	}
	resp.SetRcode(req, rcode)
	resp.RecursionAvailable = true
	return resp
}

func isUDP(w dns.ResponseWriter) bool {
	_, ok := w.RemoteAddr().(*net.UDPAddr)
	return ok
}

// clientIP returns the host part of the remote address
func clientIP(w dns.ResponseWriter) string {
	addr := w.RemoteAddr()
	if addr == nil {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}
