package dns

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"override-dns/pkg/config"
	"override-dns/pkg/forwarder"
	"override-dns/pkg/localrecords"
	"override-dns/pkg/logging"
	"override-dns/pkg/mutation"
	"override-dns/pkg/storage"

	"github.com/miekg/dns"
)

// mockResponseWriter implements dns.ResponseWriter for testing
type mockResponseWriter struct {
	msg        *dns.Msg
	remoteAddr net.Addr
	writeErr   error
}

func (m *mockResponseWriter) LocalAddr() net.Addr  { return nil }
func (m *mockResponseWriter) RemoteAddr() net.Addr { return m.remoteAddr }
func (m *mockResponseWriter) WriteMsg(msg *dns.Msg) error {
	m.msg = msg
	return m.writeErr
}
func (m *mockResponseWriter) Write([]byte) (int, error) { return 0, nil }
func (m *mockResponseWriter) Close() error              { return nil }
func (m *mockResponseWriter) TsigStatus() error         { return nil }
func (m *mockResponseWriter) TsigTimersOnly(bool)       {}
func (m *mockResponseWriter) Hijack()                   {}

func udpClient() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", s, err)
	}
	return rr
}

func query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	return m
}

// setup builds a handler with an example.com. override store and a root
// forwarder stub
func setup(t *testing.T, logger *logging.Logger, fwd func(name string, qtype uint16) ([]dns.RR, error)) (*Handler, *localrecords.Store, *stubAuthority) {
	t.Helper()
	store := localrecords.NewStore("example.com.", logger)
	stub := &stubAuthority{origin: ".", kind: config.ZoneKindForward, lookup: fwd}

	catalog := NewCatalog()
	catalog.Upsert(localrecords.NewAuthority(store))
	catalog.Upsert(stub)
	return NewHandler(catalog, logger), store, stub
}

func upstreamA(t *testing.T, ip string) func(string, uint16) ([]dns.RR, error) {
	return func(name string, _ uint16) ([]dns.RR, error) {
		return []dns.RR{mustRR(t, name+" 60 IN A "+ip)}, nil
	}
}

func TestResolve_OverrideHitNeverForwards(t *testing.T) {
	h, store, _ := setup(t, nil, func(name string, _ uint16) ([]dns.RR, error) {
		t.Errorf("forwarder called for overridden name %s", name)
		return nil, errors.New("unreachable")
	})
	want := []dns.RR{
		mustRR(t, "www.example.com. 60 IN A 10.0.0.1"),
		mustRR(t, "www.example.com. 60 IN A 10.0.0.2"),
	}
	if _, err := store.Replace(want, 1); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	req := query("WWW.Example.com", dns.TypeA)
	resp := h.Resolve(context.Background(), req)

	if resp.Rcode != dns.RcodeSuccess {
		t.Fatalf("Rcode = %s, want NOERROR", dns.RcodeToString[resp.Rcode])
	}
	if !resp.Authoritative || !resp.Response || resp.Id != req.Id {
		t.Errorf("bad header: aa=%v qr=%v id=%d/%d", resp.Authoritative, resp.Response, resp.Id, req.Id)
	}
	if len(resp.Answer) != len(want) {
		t.Fatalf("answer has %d records, want %d", len(resp.Answer), len(want))
	}
	for i := range want {
		if resp.Answer[i].String() != want[i].String() {
			t.Errorf("answer[%d] = %s, want %s", i, resp.Answer[i], want[i])
		}
	}
}

func TestResolve_MissForwardsOnce(t *testing.T) {
	h, store, stub := setup(t, nil, upstreamA(t, "1.2.3.4"))
	if _, err := store.Upsert(mustRR(t, "www.example.com. 60 IN AAAA 2001:db8::1"), 1); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	for _, name := range []string{"other.org.", "missing.example.com.", "www.example.com."} {
		stub.calls.Store(0)
		resp := h.Resolve(context.Background(), query(name, dns.TypeA))

		if stub.calls.Load() != 1 {
			t.Errorf("%s: forwarder called %d times, want 1", name, stub.calls.Load())
		}
		if resp.Rcode != dns.RcodeSuccess || resp.Authoritative {
			t.Errorf("%s: rcode=%s aa=%v", name, dns.RcodeToString[resp.Rcode], resp.Authoritative)
		}
		if len(resp.Answer) != 1 || resp.Answer[0].(*dns.A).A.String() != "1.2.3.4" {
			t.Errorf("%s: answer = %v", name, resp.Answer)
		}
		if !resp.RecursionAvailable {
			t.Errorf("%s: RA not set", name)
		}
	}
}

func TestResolve_UnsupportedRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriter(&buf, &config.LoggingConfig{Level: "debug", Format: "text"})
	h, _, stub := setup(t, logger, upstreamA(t, "1.2.3.4"))

	notify := query("example.com.", dns.TypeSOA)
	notify.Opcode = dns.OpcodeNotify

	update := query("example.com.", dns.TypeSOA)
	update.Opcode = dns.OpcodeUpdate

	response := query("example.com.", dns.TypeA)
	response.Response = true

	noQuestion := new(dns.Msg)
	noQuestion.Id = dns.Id()

	twoQuestions := query("example.com.", dns.TypeA)
	twoQuestions.Question = append(twoQuestions.Question, dns.Question{Name: "other.org.", Qtype: dns.TypeA, Qclass: dns.ClassINET})

	tests := []struct {
		name string
		req  *dns.Msg
	}{
		{"notify opcode", notify},
		{"update opcode", update},
		{"qr bit set", response},
		{"no question", noQuestion},
		{"two questions", twoQuestions},
		{"nil message", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Resolve(context.Background(), tt.req)
			if resp == nil {
				t.Fatal("nil response")
			}
			if resp.Rcode != dns.RcodeServerFailure {
				t.Errorf("Rcode = %s, want SERVFAIL", dns.RcodeToString[resp.Rcode])
			}
			if len(resp.Answer) != 0 {
				t.Errorf("unexpected answer: %v", resp.Answer)
			}
			if tt.req != nil && resp.Id != tt.req.Id {
				t.Errorf("Id = %d, want %d", resp.Id, tt.req.Id)
			}
		})
	}

	if stub.calls.Load() != 0 {
		t.Errorf("forwarder consulted %d times for invalid requests", stub.calls.Load())
	}
	if !strings.Contains(buf.String(), "validation failed") {
		t.Errorf("no validation event logged:\n%s", buf.String())
	}
}

func TestResolve_UpstreamErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		logError bool
	}{
		{"not found", &forwarder.UpstreamError{Kind: forwarder.KindNotFound, Rcode: dns.RcodeNameError}, dns.RcodeNameError, false},
		{"timeout", &forwarder.UpstreamError{Kind: forwarder.KindTimeout, Err: context.DeadlineExceeded}, dns.RcodeServerFailure, true},
		{"transport", &forwarder.UpstreamError{Kind: forwarder.KindTransport, Err: errors.New("connection refused")}, dns.RcodeServerFailure, true},
		{"untyped", errors.New("boom"), dns.RcodeServerFailure, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := logging.NewWriter(&buf, &config.LoggingConfig{Level: "debug", Format: "text"})
			h, _, _ := setup(t, logger, func(string, uint16) ([]dns.RR, error) { return nil, tt.err })

			resp := h.Resolve(context.Background(), query("other.org.", dns.TypeA))
			if resp.Rcode != tt.want {
				t.Errorf("Rcode = %s, want %s", dns.RcodeToString[resp.Rcode], dns.RcodeToString[tt.want])
			}

			logged := strings.Contains(buf.String(), "level=ERROR") && strings.Contains(buf.String(), "upstream lookup failed")
			if logged != tt.logError {
				t.Errorf("error logged = %v, want %v:\n%s", logged, tt.logError, buf.String())
			}
		})
	}
}

func TestResolve_NXDOMAINCarriesAuthority(t *testing.T) {
	soa := mustRR(t, "org. 300 IN SOA a0.org-servers.net. noc.org. 1 1800 900 604800 86400")
	h, _, _ := setup(t, nil, func(string, uint16) ([]dns.RR, error) {
		return nil, &forwarder.UpstreamError{Kind: forwarder.KindNotFound, Rcode: dns.RcodeNameError, Ns: []dns.RR{soa}}
	})

	resp := h.Resolve(context.Background(), query("missing.org.", dns.TypeA))
	if resp.Rcode != dns.RcodeNameError {
		t.Fatalf("Rcode = %s, want NXDOMAIN", dns.RcodeToString[resp.Rcode])
	}
	if len(resp.Ns) != 1 || resp.Ns[0].String() != soa.String() {
		t.Errorf("authority section = %v, want the upstream SOA", resp.Ns)
	}
	if len(resp.Answer) != 0 {
		t.Errorf("unexpected answers: %v", resp.Answer)
	}
}

func TestResolve_NoAuthority(t *testing.T) {
	store := localrecords.NewStore("example.com.", nil)
	catalog := NewCatalog()
	catalog.Upsert(localrecords.NewAuthority(store))
	h := NewHandler(catalog, nil)

	resp := h.Resolve(context.Background(), query("other.org.", dns.TypeA))
	if resp.Rcode != dns.RcodeServerFailure {
		t.Errorf("Rcode = %s, want SERVFAIL", dns.RcodeToString[resp.Rcode])
	}
}

func TestResolve_PanicBecomesServFail(t *testing.T) {
	h, _, _ := setup(t, nil, func(string, uint16) ([]dns.RR, error) {
		panic("authority exploded")
	})

	resp := h.Resolve(context.Background(), query("other.org.", dns.TypeA))
	if resp.Rcode != dns.RcodeServerFailure {
		t.Errorf("Rcode = %s, want SERVFAIL", dns.RcodeToString[resp.Rcode])
	}
}

func TestResolve_EDNS(t *testing.T) {
	h, _, _ := setup(t, nil, upstreamA(t, "1.2.3.4"))

	req := query("other.org.", dns.TypeA)
	req.SetEdns0(1400, false)
	resp := h.Resolve(context.Background(), req)
	opt := resp.IsEdns0()
	if opt == nil || opt.UDPSize() != 1400 {
		t.Errorf("OPT not mirrored: %v", opt)
	}

	bad := query("other.org.", dns.TypeA)
	bad.SetEdns0(1400, false)
	bad.IsEdns0().SetVersion(1)
	resp = h.Resolve(context.Background(), bad)
	if resp.Rcode != dns.RcodeBadVers {
		t.Errorf("Rcode = %d, want BADVERS", resp.Rcode)
	}
	if resp.IsEdns0() == nil {
		t.Error("BADVERS response without OPT")
	}
}

func TestResolve_ConcurrentWithMutation(t *testing.T) {
	h, store, _ := setup(t, nil, func(string, uint16) ([]dns.RR, error) {
		return nil, &forwarder.UpstreamError{Kind: forwarder.KindNotFound}
	})

	q := mutation.NewQueue(mutation.DefaultCapacity)
	w := mutation.NewWriter(q, store, nil)
	applied := make(chan struct{})
	w.OnApplied(func(_ mutation.Instruction, err error) {
		if err != nil {
			t.Errorf("mutation dropped: %v", err)
		}
		close(applied)
	})
	go w.Run(context.Background())
	defer func() {
		q.Close()
		<-w.Done()
	}()

	run := func(check func(*dns.Msg)) *sync.WaitGroup {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				check(h.Resolve(context.Background(), query("new.example.com.", dns.TypeA)))
			}()
		}
		return &wg
	}

	// first batch races with the Add: either state is fine, an error is not
	before := run(func(resp *dns.Msg) {
		switch resp.Rcode {
		case dns.RcodeNameError:
		case dns.RcodeSuccess:
			if len(resp.Answer) != 1 || resp.Answer[0].(*dns.A).A.String() != "192.0.2.10" {
				t.Errorf("partial state observed: %v", resp.Answer)
			}
		default:
			t.Errorf("Rcode = %s during mutation", dns.RcodeToString[resp.Rcode])
		}
	})

	if _, err := q.Enqueue(context.Background(), mutation.Add(mustRR(t, "new.example.com. 60 IN A 192.0.2.10"))); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("mutation not applied")
	}
	before.Wait()

	after := run(func(resp *dns.Msg) {
		if resp.Rcode != dns.RcodeSuccess || len(resp.Answer) != 1 {
			t.Errorf("post-Add query: rcode=%s answer=%v", dns.RcodeToString[resp.Rcode], resp.Answer)
			return
		}
		if got := resp.Answer[0].(*dns.A).A.String(); got != "192.0.2.10" {
			t.Errorf("post-Add answer = %s", got)
		}
	})
	after.Wait()
}

func TestResolve_AddIsIdempotent(t *testing.T) {
	h, store, _ := setup(t, nil, upstreamA(t, "1.2.3.4"))

	rr := mustRR(t, "n.example.com. 60 IN A 192.0.2.1")
	for v := uint64(1); v <= 2; v++ {
		if _, err := store.Upsert(rr, v); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	resp := h.Resolve(context.Background(), query("n.example.com.", dns.TypeA))
	if len(resp.Answer) != 1 || resp.Answer[0].Header().Ttl != 60 {
		t.Errorf("answer = %v, want the single record", resp.Answer)
	}
}

// memQueryLog captures query log entries
type memQueryLog struct {
	storage.NoOpStorage
	mu      sync.Mutex
	entries []*storage.QueryLog
}

func (m *memQueryLog) LogQuery(_ context.Context, q *storage.QueryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, q)
	return nil
}

func TestServeDNS(t *testing.T) {
	h, store, _ := setup(t, nil, upstreamA(t, "1.2.3.4"))
	if _, err := store.Upsert(mustRR(t, "example.com. 60 IN A 93.184.216.34"), 1); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	journal := &memQueryLog{}
	h.SetStorage(journal, true)

	w := &mockResponseWriter{remoteAddr: udpClient()}
	h.ServeDNS(w, query("example.com.", dns.TypeA))

	if w.msg == nil || w.msg.Rcode != dns.RcodeSuccess || len(w.msg.Answer) != 1 {
		t.Fatalf("unexpected response: %v", w.msg)
	}

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.entries) != 1 {
		t.Fatalf("logged %d queries, want 1", len(journal.entries))
	}
	e := journal.entries[0]
	if e.Domain != "example.com" || e.QueryType != "A" || e.Source != SourceOverride || e.ClientIP != "127.0.0.1" {
		t.Errorf("unexpected query log entry: %+v", e)
	}
}

func TestServeDNS_WriteFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriter(&buf, &config.LoggingConfig{Level: "debug", Format: "text"})
	h, _, _ := setup(t, logger, upstreamA(t, "1.2.3.4"))

	w := &mockResponseWriter{remoteAddr: udpClient(), writeErr: errors.New("connection reset")}
	h.ServeDNS(w, query("other.org.", dns.TypeA))

	if !strings.Contains(buf.String(), "response write failed") {
		t.Errorf("write failure not logged:\n%s", buf.String())
	}
}

func TestServeDNS_TruncatesLargeUDPAnswers(t *testing.T) {
	h, store, _ := setup(t, nil, nil)

	var set []dns.RR
	for i := 0; i < 60; i++ {
		set = append(set, &dns.TXT{
			Hdr: dns.RR_Header{Name: "big.example.com.", Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
			Txt: []string{strings.Repeat("x", 40) + string(rune('a'+i%26)) + strings.Repeat("y", i)},
		})
	}
	if _, err := store.Replace(set, 1); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	w := &mockResponseWriter{remoteAddr: udpClient()}
	h.ServeDNS(w, query("big.example.com.", dns.TypeTXT))
	if w.msg == nil || !w.msg.Truncated {
		t.Fatal("expected a truncated UDP response")
	}
	if w.msg.Len() > dns.MinMsgSize {
		t.Errorf("response is %d bytes, limit %d", w.msg.Len(), dns.MinMsgSize)
	}

	tcp := &mockResponseWriter{remoteAddr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5353}}
	h.ServeDNS(tcp, query("big.example.com.", dns.TypeTXT))
	if tcp.msg.Truncated || len(tcp.msg.Answer) != len(set) {
		t.Errorf("TCP answer truncated: tc=%v answers=%d", tcp.msg.Truncated, len(tcp.msg.Answer))
	}
}
