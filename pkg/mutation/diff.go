package mutation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"override-dns/pkg/config"
	"override-dns/pkg/localrecords"
	"override-dns/pkg/logging"

	"github.com/miekg/dns"
)

// Sources tagged on instructions by the built-in producers
const (
	SourceConfig  = "config"
	SourceWatcher = "watcher"
	SourceAPI     = "api"
)

// BuildSets converts configured records into record sets keyed by (name,
// type). Entries for the same key are merged. Invalid entries are skipped
// and reported together in the returned error.
func BuildSets(entries []config.LocalRecordEntry) (map[localrecords.Key]localrecords.RecordSet, error) {
	sets := make(map[localrecords.Key]localrecords.RecordSet)
	var errs []error

	for i, e := range entries {
		set, err := EntryToSet(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d (%s %s): %w", i, e.Domain, e.Type, err))
			continue
		}
		for _, rr := range set {
			key := localrecords.NewKey(rr.Header().Name, rr.Header().Rrtype)
			if !containsRR(sets[key], rr) {
				sets[key] = append(sets[key], rr)
			}
		}
	}

	return sets, errors.Join(errs...)
}

// EntryToSet validates one configuration/API entry and builds its records
func EntryToSet(e config.LocalRecordEntry) (localrecords.RecordSet, error) {
	r, err := localrecords.FromEntry(e)
	if err != nil {
		return nil, err
	}
	return r.ToRR()
}

// Seed returns one Replace per configured set, in key order
func Seed(entries []config.LocalRecordEntry) ([]Instruction, error) {
	sets, err := BuildSets(entries)

	out := make([]Instruction, 0, len(sets))
	for _, key := range sortedKeys(sets) {
		out = append(out, Replace(sets[key]).WithSource(SourceConfig))
	}
	return out, err
}

// Diff returns the instructions that turn the zone described by prev into
// the one described by cur: Replace for new or changed sets, Remove for
// sets that disappeared
func Diff(prev, cur []config.LocalRecordEntry) ([]Instruction, error) {
	// prev was accepted before; its errors were reported then
	before, _ := BuildSets(prev)
	after, err := BuildSets(cur)

	var out []Instruction
	for _, key := range sortedKeys(before) {
		if _, ok := after[key]; !ok {
			out = append(out, Remove(key.Name, key.Type).WithSource(SourceWatcher))
		}
	}
	for _, key := range sortedKeys(after) {
		if old, ok := before[key]; ok && sameSet(old, after[key]) {
			continue
		}
		out = append(out, Replace(after[key]).WithSource(SourceWatcher))
	}
	return out, err
}

// ConfigChangeFunc enqueues the zone difference on every configuration reload
func ConfigChangeFunc(ctx context.Context, q *Queue, logger *logging.Logger) config.ChangeFunc {
	return func(previous, current *config.Config) {
		if previous.Zone.Name != current.Zone.Name {
			logger.Warn("Zone name changes need a restart; keeping the current zone",
				"current", previous.Zone.Name,
				"requested", current.Zone.Name)
			return
		}

		instructions, err := Diff(previous.Zone.Records, current.Zone.Records)
		if err != nil {
			logger.Warn("Skipping invalid zone records from reloaded config", "error", err)
		}

		for _, ins := range instructions {
			if _, err := q.Enqueue(ctx, ins); err != nil {
				logger.Warn("Failed to enqueue zone change", "key", ins.Target().String(), "error", err)
				return
			}
		}
		if len(instructions) > 0 {
			logger.Info("Queued zone changes from config reload", "instructions", len(instructions))
		}
	}
}

func sortedKeys(sets map[localrecords.Key]localrecords.RecordSet) []localrecords.Key {
	keys := make([]localrecords.Key, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Type < keys[j].Type
	})
	return keys
}

func containsRR(set localrecords.RecordSet, rr dns.RR) bool {
	for _, cur := range set {
		if dns.IsDuplicate(cur, rr) {
			return true
		}
	}
	return false
}

// sameSet compares sets as unordered collections, TTL included
func sameSet(a, b localrecords.RecordSet) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, rr := range a {
		seen[rr.String()]++
	}
	for _, rr := range b {
		s := rr.String()
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}
