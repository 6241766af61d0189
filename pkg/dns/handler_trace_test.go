package dns

import (
	"errors"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestServeDNS_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	h, store, _ := setup(t, nil, func(string, uint16) ([]dns.RR, error) {
		return nil, errors.New("connection refused")
	})
	h.SetTracer(tp.Tracer("test"))
	if _, err := store.Upsert(mustRR(t, "example.com. 60 IN A 93.184.216.34"), 1); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	h.ServeDNS(&mockResponseWriter{remoteAddr: udpClient()}, query("example.com.", dns.TypeA))
	h.ServeDNS(&mockResponseWriter{remoteAddr: udpClient()}, query("other.org.", dns.TypeA))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}

	hit := spans[0]
	if hit.Name() != "dns.query" {
		t.Errorf("span name = %q", hit.Name())
	}
	if got := spanAttr(hit, "dns.source"); got != SourceOverride {
		t.Errorf("dns.source = %q, want %q", got, SourceOverride)
	}
	if got := spanAttr(hit, "dns.question.type"); got != "A" {
		t.Errorf("dns.question.type = %q", got)
	}

	failed := spans[1]
	if got := spanAttr(failed, "dns.rcode"); got != "SERVFAIL" {
		t.Errorf("dns.rcode = %q, want SERVFAIL", got)
	}
	if failed.Status().Code != codes.Error || !strings.Contains(failed.Status().Description, "connection refused") {
		t.Errorf("span status = %+v", failed.Status())
	}
}
