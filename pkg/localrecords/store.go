// Package localrecords holds the override zone: an in-memory record store
// scoped to one zone, read concurrently by queries and written by a single
// mutation writer.
package localrecords

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"override-dns/pkg/logging"

	"github.com/miekg/dns"
)

// Key identifies a record set by lowercase FQDN and type
type Key struct {
	Name string
	Type uint16
}

// NewKey normalizes name and builds a Key
func NewKey(name string, qtype uint16) Key {
	return Key{Name: normalizeDomain(name), Type: qtype}
}

func (k Key) String() string {
	return k.Name + " " + TypeLabel(k.Type)
}

// TypeLabel returns the mnemonic for qtype, falling back to TYPE#### per RFC 3597
func TypeLabel(qtype uint16) string {
	if label := dns.TypeToString[qtype]; label != "" {
		return label
	}
	return "TYPE" + strconv.FormatUint(uint64(qtype), 10)
}

// RecordSet is an ordered group of records sharing owner name and type
type RecordSet []dns.RR

// Copy returns a deep copy of the set
func (s RecordSet) Copy() RecordSet {
	if s == nil {
		return nil
	}
	out := make(RecordSet, len(s))
	for i, rr := range s {
		out[i] = dns.Copy(rr)
	}
	return out
}

// Key returns the key of the first record; callers must not use it on an empty set
func (s RecordSet) Key() Key {
	h := s[0].Header()
	return NewKey(h.Name, h.Rrtype)
}

// Change summarizes what one mutation did to the store
type Change struct {
	Key      Key
	Version  uint64
	Records  int   // records in the set after the change
	SetDelta int64 // +1 new set, -1 removed set, 0 otherwise
}

type entry struct {
	set     RecordSet
	version uint64
}

// Store maps (name, type) to a non-empty RecordSet for exactly one zone.
// Lookups share a read lock; each mutation holds the write lock only
// while swapping the entries it touches.
type Store struct {
	origin  string
	logger  *logging.Logger
	mu      sync.RWMutex
	sets    map[Key]*entry
	version uint64
}

// NewStore creates an empty store for the zone origin
func NewStore(origin string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Store{
		origin: normalizeDomain(origin),
		logger: logger,
		sets:   make(map[Key]*entry),
	}
}

// Origin returns the zone name
func (s *Store) Origin() string {
	return s.origin
}

// Lookup returns a copy of the record set matching (name, qtype) exactly
func (s *Store) Lookup(name string, qtype uint16) (RecordSet, error) {
	key := NewKey(name, qtype)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sets[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return e.set.Copy(), nil
}

// Upsert inserts rr into the set for its (name, type). A record with
// identical rdata is replaced (TTL refresh); CNAME and SOA sets always hold
// a single record. Distinct rdata is appended, so the set holds exactly rr
// afterwards only for a fresh key (or one that held rr alone); adding to an
// existing set keeps its other records. version is recorded for ordering
// checks only; the last write wins.
func (s *Store) Upsert(rr dns.RR, version uint64) (Change, error) {
	changes, err := s.UpsertSet([]dns.RR{rr}, version)
	if err != nil {
		return Change{}, err
	}
	return changes[0], nil
}

// UpsertSet upserts every record in rrs as one mutation. All records are
// validated before the write lock is taken and every affected set is
// swapped under a single lock, so readers see either none or all of them.
// One Change is returned per affected key, in first-seen order.
func (s *Store) UpsertSet(rrs []dns.RR, version uint64) ([]Change, error) {
	if len(rrs) == 0 {
		return nil, ErrEmptyRecordSet
	}

	prepared := make([]dns.RR, 0, len(rrs))
	keys := make([]Key, 0, len(rrs))
	for _, rr := range rrs {
		cp, key, err := s.prepare(rr)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, cp)
		keys = append(keys, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[Key]RecordSet, len(keys))
	var order []Key
	for i, rr := range prepared {
		key := keys[i]
		cur, seen := pending[key]
		if !seen {
			if old, ok := s.sets[key]; ok {
				cur = old.set
			}
			order = append(order, key)
		}
		pending[key] = merge(cur, rr)
	}

	changes := make([]Change, 0, len(order))
	for _, key := range order {
		changes = append(changes, s.swap(key, pending[key], version))
	}
	return changes, nil
}

// merge returns a new set with rr inserted into cur; cur is not modified
func merge(cur RecordSet, rr dns.RR) RecordSet {
	h := rr.Header()
	if len(cur) == 0 || h.Rrtype == dns.TypeCNAME || h.Rrtype == dns.TypeSOA {
		return RecordSet{rr}
	}

	next := make(RecordSet, 0, len(cur)+1)
	replaced := false
	for _, existing := range cur {
		if !replaced && dns.IsDuplicate(existing, rr) {
			next = append(next, rr)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, rr)
	}
	return next
}

// Replace swaps the whole set for its key. All records must share one
// owner name and type.
func (s *Store) Replace(set RecordSet, version uint64) (Change, error) {
	if len(set) == 0 {
		return Change{}, ErrEmptyRecordSet
	}

	next := make(RecordSet, 0, len(set))
	var key Key
	for i, rr := range set {
		prepared, k, err := s.prepare(rr)
		if err != nil {
			return Change{}, err
		}
		if i == 0 {
			key = k
		} else if k != key {
			return Change{}, fmt.Errorf("%w: %s and %s", ErrMixedRecordSet, key, k)
		}
		if !containsDuplicate(next, prepared) {
			next = append(next, prepared)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swap(key, next, version), nil
}

// Remove deletes the set for (name, qtype)
func (s *Store) Remove(name string, qtype uint16, version uint64) (Change, error) {
	key := NewKey(name, qtype)

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.sets[key]
	if !ok {
		return Change{}, ErrRecordNotFound
	}
	s.checkVersion(key, old.version, version)

	delete(s.sets, key)
	s.bump(version)
	return Change{Key: key, Version: version, SetDelta: -1}, nil
}

// swap installs next under key. Must be called with the write lock held.
func (s *Store) swap(key Key, next RecordSet, version uint64) Change {
	change := Change{Key: key, Version: version, Records: len(next)}

	if old, ok := s.sets[key]; ok {
		s.checkVersion(key, old.version, version)
	} else {
		change.SetDelta = 1
	}

	s.sets[key] = &entry{set: next, version: version}
	s.bump(version)
	return change
}

func (s *Store) checkVersion(key Key, last, version uint64) {
	if version < last {
		s.logger.Warn("Mutation version went backwards",
			"key", key.String(),
			"last_version", last,
			"version", version)
	}
}

func (s *Store) bump(version uint64) {
	if version > s.version {
		s.version = version
	}
}

// Check reports whether rr could be stored, without storing it
func (s *Store) Check(rr dns.RR) error {
	_, _, err := s.prepare(rr)
	return err
}

// prepare copies rr with a normalized owner and checks it belongs here
func (s *Store) prepare(rr dns.RR) (dns.RR, Key, error) {
	if rr == nil {
		return nil, Key{}, ErrInvalidRecord
	}

	h := rr.Header()
	switch h.Rrtype {
	case dns.TypeNone, dns.TypeOPT, dns.TypeANY, dns.TypeAXFR, dns.TypeIXFR:
		return nil, Key{}, fmt.Errorf("%w: %s", ErrUnsupportedType, TypeLabel(h.Rrtype))
	}

	name := normalizeDomain(h.Name)
	if name == "" {
		return nil, Key{}, ErrInvalidDomain
	}
	if !inZone(name, s.origin) {
		return nil, Key{}, fmt.Errorf("%w: %s not in %s", ErrOutOfZone, name, s.origin)
	}

	cp := dns.Copy(rr)
	cp.Header().Name = name
	if cp.Header().Class == 0 {
		cp.Header().Class = dns.ClassINET
	}
	return cp, Key{Name: name, Type: h.Rrtype}, nil
}

func containsDuplicate(set RecordSet, rr dns.RR) bool {
	for _, cur := range set {
		if dns.IsDuplicate(cur, rr) {
			return true
		}
	}
	return false
}

// Keys returns every key sorted by name then type
func (s *Store) Keys() []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.sets))
	for k := range s.sets {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sortKeys(keys)
	return keys
}

// Records returns copies of every set in Keys order
func (s *Store) Records() []RecordSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.sets))
	for k := range s.sets {
		keys = append(keys, k)
	}
	sortKeys(keys)

	out := make([]RecordSet, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.sets[k].set.Copy())
	}
	return out
}

// Count returns the number of record sets
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}

// Size returns the number of individual records
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.sets {
		n += len(e.set)
	}
	return n
}

// Version returns the highest mutation version applied so far
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Type < keys[j].Type
	})
}
