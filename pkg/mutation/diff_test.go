package mutation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"override-dns/pkg/config"
	"override-dns/pkg/localrecords"
	"override-dns/pkg/logging"

	"github.com/miekg/dns"
)

func entryA(domain string, ttl uint32, ips ...string) config.LocalRecordEntry {
	return config.LocalRecordEntry{Domain: domain, Type: "A", TTL: ttl, IPs: ips}
}

func TestBuildSets_MergesByKey(t *testing.T) {
	sets, err := BuildSets([]config.LocalRecordEntry{
		entryA("www.example.com", 60, "1.1.1.1", "2.2.2.2"),
		entryA("WWW.example.com.", 60, "2.2.2.2", "3.3.3.3"),
		{Domain: "mail.example.com", Type: "MX", Target: "mx.example.com"},
	})
	if err != nil {
		t.Fatalf("BuildSets: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("got %d sets, want 2", len(sets))
	}

	www := sets[localrecords.NewKey("www.example.com", dns.TypeA)]
	if len(www) != 3 {
		t.Errorf("www set has %d records, want 3 (duplicates merged)", len(www))
	}
	if _, ok := sets[localrecords.NewKey("mail.example.com", dns.TypeMX)]; !ok {
		t.Error("MX set missing")
	}
}

func TestBuildSets_SkipsInvalid(t *testing.T) {
	sets, err := BuildSets([]config.LocalRecordEntry{
		entryA("good.example.com", 60, "1.1.1.1"),
		entryA("bad.example.com", 60, "not-an-ip"),
		{Domain: "x.example.com", Type: "BOGUS"},
	})
	if err == nil {
		t.Fatal("expected an error for invalid entries")
	}
	if !errors.Is(err, localrecords.ErrInvalidIP) {
		t.Errorf("err = %v, want it to wrap ErrInvalidIP", err)
	}
	if !strings.Contains(err.Error(), "record 2") {
		t.Errorf("err does not name the entry index: %v", err)
	}
	if len(sets) != 1 {
		t.Errorf("got %d sets, want only the valid one", len(sets))
	}
}

func TestSeed(t *testing.T) {
	instructions, err := Seed([]config.LocalRecordEntry{
		entryA("www.example.com", 60, "1.1.1.1"),
		entryA("api.example.com", 60, "2.2.2.2"),
	})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(instructions) != 2 {
		t.Fatalf("got %d instructions, want 2", len(instructions))
	}
	for _, ins := range instructions {
		if ins.Kind != KindReplace || ins.Source != SourceConfig {
			t.Errorf("unexpected instruction %s from %q", ins.Kind, ins.Source)
		}
	}
	if instructions[0].Target().Name != "api.example.com." {
		t.Errorf("instructions not in key order: first = %s", instructions[0].Target())
	}
}

func TestDiff(t *testing.T) {
	prev := []config.LocalRecordEntry{
		entryA("keep.example.com", 60, "1.1.1.1"),
		entryA("change.example.com", 60, "1.1.1.1"),
		entryA("ttl.example.com", 60, "1.1.1.1"),
		entryA("gone.example.com", 60, "1.1.1.1"),
	}
	cur := []config.LocalRecordEntry{
		entryA("keep.example.com", 60, "1.1.1.1"),
		entryA("change.example.com", 60, "9.9.9.9"),
		entryA("ttl.example.com", 300, "1.1.1.1"),
		entryA("new.example.com", 60, "4.4.4.4"),
	}

	instructions, err := Diff(prev, cur)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	got := make(map[string]Kind)
	for _, ins := range instructions {
		if ins.Source != SourceWatcher {
			t.Errorf("Source = %q, want %q", ins.Source, SourceWatcher)
		}
		got[ins.Target().Name] = ins.Kind
	}

	want := map[string]Kind{
		"gone.example.com.":   KindRemove,
		"change.example.com.": KindReplace,
		"ttl.example.com.":    KindReplace,
		"new.example.com.":    KindReplace,
	}
	if len(got) != len(want) {
		t.Fatalf("got instructions for %v, want %v", got, want)
	}
	for name, kind := range want {
		if got[name] != kind {
			t.Errorf("%s: got %s, want %s", name, got[name], kind)
		}
	}
	if instructions[0].Kind != KindRemove {
		t.Errorf("removals should come first, got %s", instructions[0].Kind)
	}
}

func TestDiff_ReorderedRecordsAreUnchanged(t *testing.T) {
	prev := []config.LocalRecordEntry{entryA("www.example.com", 60, "1.1.1.1", "2.2.2.2")}
	cur := []config.LocalRecordEntry{entryA("www.example.com", 60, "2.2.2.2", "1.1.1.1")}

	instructions, err := Diff(prev, cur)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(instructions) != 0 {
		t.Errorf("got %d instructions for a reordered set, want 0", len(instructions))
	}
}

func TestConfigChangeFunc(t *testing.T) {
	q := NewQueue(8)
	store := localrecords.NewStore("example.com.", nil)
	w := NewWriter(q, store, nil)
	go w.Run(context.Background())

	seed, err := Seed([]config.LocalRecordEntry{
		entryA("www.example.com", 60, "1.1.1.1"),
		entryA("old.example.com", 60, "1.1.1.1"),
	})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	for _, ins := range seed {
		if _, err := q.Enqueue(context.Background(), ins); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var buf bytes.Buffer
	logger := logging.NewWriter(&buf, &config.LoggingConfig{Level: "info", Format: "text"})
	onChange := ConfigChangeFunc(context.Background(), q, logger)

	previous := &config.Config{Zone: config.ZoneConfig{Name: "example.com.", Records: []config.LocalRecordEntry{
		entryA("www.example.com", 60, "1.1.1.1"),
		entryA("old.example.com", 60, "1.1.1.1"),
	}}}
	current := &config.Config{Zone: config.ZoneConfig{Name: "example.com.", Records: []config.LocalRecordEntry{
		entryA("www.example.com", 60, "5.5.5.5"),
		entryA("broken.example.com", 60, "nope"),
	}}}
	onChange(previous, current)

	// a renamed zone is refused
	renamed := &config.Config{Zone: config.ZoneConfig{Name: "example.org.", Records: current.Zone.Records}}
	onChange(current, renamed)

	q.Close()
	<-w.Done()

	set, err := store.Lookup("www.example.com.", dns.TypeA)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if set[0].(*dns.A).A.String() != "5.5.5.5" {
		t.Errorf("www = %v, want 5.5.5.5", set[0])
	}
	if _, err := store.Lookup("old.example.com.", dns.TypeA); err == nil {
		t.Error("old.example.com should have been removed")
	}

	logs := buf.String()
	if !strings.Contains(logs, "Skipping invalid zone records") {
		t.Errorf("invalid record not reported:\n%s", logs)
	}
	if !strings.Contains(logs, "Zone name changes need a restart") {
		t.Errorf("zone rename not refused:\n%s", logs)
	}
}
