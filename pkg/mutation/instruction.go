// Package mutation carries changes to the override zone from any number of
// producers to the single goroutine allowed to write the record store.
package mutation

import (
	"errors"
	"fmt"

	"override-dns/pkg/localrecords"

	"github.com/miekg/dns"
)

// Kind is the operation an Instruction performs
type Kind int

const (
	// KindAdd upserts each record into its set
	KindAdd Kind = iota + 1
	// KindRemove deletes the set for (Name, Type)
	KindRemove
	// KindReplace swaps the whole set for the records' (name, type)
	KindReplace
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindRemove:
		return "remove"
	case KindReplace:
		return "replace"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidInstruction is returned for structurally broken instructions
	ErrInvalidInstruction = errors.New("invalid mutation instruction")
)

// Instruction is one queued change to the override zone
type Instruction struct {
	Records []dns.RR // Add and Replace
	Name    string   // Remove
	Source  string   // producer tag: config, api, watcher
	Version uint64   // assigned by the queue when zero
	Type    uint16   // Remove
	Kind    Kind
}

// Add builds an instruction upserting rrs
func Add(rrs ...dns.RR) Instruction {
	return Instruction{Kind: KindAdd, Records: rrs}
}

// Replace builds an instruction swapping in set
func Replace(set localrecords.RecordSet) Instruction {
	return Instruction{Kind: KindReplace, Records: set}
}

// Remove builds an instruction deleting the set for (name, qtype)
func Remove(name string, qtype uint16) Instruction {
	return Instruction{Kind: KindRemove, Name: name, Type: qtype}
}

// WithSource tags the instruction with its producer
func (i Instruction) WithSource(source string) Instruction {
	i.Source = source
	return i
}

// Validate checks the instruction's shape. Zone membership and record
// content are checked by the store when the writer applies it.
func (i Instruction) Validate() error {
	switch i.Kind {
	case KindAdd, KindReplace:
		if len(i.Records) == 0 {
			return fmt.Errorf("%w: %s without records", ErrInvalidInstruction, i.Kind)
		}
		for _, rr := range i.Records {
			if rr == nil {
				return fmt.Errorf("%w: nil record", ErrInvalidInstruction)
			}
		}
	case KindRemove:
		if i.Name == "" || i.Type == dns.TypeNone {
			return fmt.Errorf("%w: remove needs name and type", ErrInvalidInstruction)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidInstruction, i.Kind)
	}
	return nil
}

// Target returns the key the instruction touches; for Add/Replace it is
// the first record's key
func (i Instruction) Target() localrecords.Key {
	if i.Kind == KindRemove || len(i.Records) == 0 || i.Records[0] == nil {
		return localrecords.NewKey(i.Name, i.Type)
	}
	h := i.Records[0].Header()
	return localrecords.NewKey(h.Name, h.Rrtype)
}
