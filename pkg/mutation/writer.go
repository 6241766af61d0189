package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"override-dns/pkg/localrecords"
	"override-dns/pkg/logging"
	"override-dns/pkg/storage"
	"override-dns/pkg/telemetry"
)

// Journal receives one entry per processed instruction
type Journal interface {
	LogMutation(ctx context.Context, entry *storage.MutationEntry) error
}

// AppliedFunc observes every processed instruction; err is nil when it was applied
type AppliedFunc func(ins Instruction, err error)

// Writer is the only code that mutates the record store. Run it in exactly
// one goroutine.
type Writer struct {
	queue     *Queue
	store     *localrecords.Store
	logger    *logging.Logger
	metrics   *telemetry.Metrics
	journal   Journal
	onApplied AppliedFunc
	done      chan struct{}
	applied   atomic.Uint64
	dropped   atomic.Uint64
}

// NewWriter creates a writer draining q into store
func NewWriter(q *Queue, store *localrecords.Store, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Writer{
		queue:  q,
		store:  store,
		logger: logger.Component("mutation-writer"),
		done:   make(chan struct{}),
	}
}

// SetMetrics sets the telemetry sink. Call before Run.
func (w *Writer) SetMetrics(m *telemetry.Metrics) {
	w.metrics = m
}

// SetJournal sets the journal. Call before Run.
func (w *Writer) SetJournal(j Journal) {
	w.journal = j
}

// OnApplied registers an observer. Call before Run.
func (w *Writer) OnApplied(fn AppliedFunc) {
	w.onApplied = fn
}

// Run applies instructions in FIFO order until the queue is closed and
// drained. ctx only scopes logging, metrics and journal calls; cancelling it
// does not stop the writer, closing the queue does.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	ctx = context.WithoutCancel(ctx)

	w.logger.Info("Mutation writer started", "zone", w.store.Origin(), "capacity", w.queue.Cap())
	for {
		ins, ok := w.queue.next()
		if !ok {
			break
		}
		w.process(ctx, ins)
	}
	w.logger.Info("Mutation writer stopped",
		"applied", w.applied.Load(),
		"dropped", w.dropped.Load(),
		"version", w.store.Version())
}

// Done is closed after Run returns
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Applied returns the number of instructions applied so far
func (w *Writer) Applied() uint64 {
	return w.applied.Load()
}

// Dropped returns the number of instructions rejected so far
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *Writer) process(ctx context.Context, ins Instruction) {
	var setDelta int64
	err := w.safeApply(ins, &setDelta)

	key := ins.Target()
	if err != nil {
		w.dropped.Add(1)
		w.logger.Event(ctx, slog.LevelWarn, "mutation dropped",
			"kind", ins.Kind.String(),
			"key", key.String(),
			"version", ins.Version,
			"source", ins.Source,
			"error", err)
	} else {
		w.applied.Add(1)
		w.logger.Event(ctx, slog.LevelInfo, "mutation applied",
			"kind", ins.Kind.String(),
			"key", key.String(),
			"version", ins.Version,
			"source", ins.Source)
	}

	w.metrics.AddMutation(ctx, ins.Kind.String(), err == nil, setDelta)
	w.record(ctx, ins, key, err)

	if w.onApplied != nil {
		w.onApplied(ins, err)
	}
}

// safeApply turns a panic while applying into a dropped instruction so the
// writer keeps running
func (w *Writer) safeApply(ins Instruction, setDelta *int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic while applying: %v", ErrInvalidInstruction, r)
		}
	}()
	return w.apply(ins, setDelta)
}

func (w *Writer) apply(ins Instruction, setDelta *int64) error {
	if err := ins.Validate(); err != nil {
		return err
	}

	switch ins.Kind {
	case KindAdd:
		changes, err := w.store.UpsertSet(ins.Records, ins.Version)
		if err != nil {
			return err
		}
		for _, change := range changes {
			*setDelta += change.SetDelta
		}
	case KindReplace:
		change, err := w.store.Replace(ins.Records, ins.Version)
		if err != nil {
			return err
		}
		*setDelta += change.SetDelta
	case KindRemove:
		change, err := w.store.Remove(ins.Name, ins.Type, ins.Version)
		if err != nil {
			return err
		}
		*setDelta += change.SetDelta
	}
	return nil
}

func (w *Writer) record(ctx context.Context, ins Instruction, key localrecords.Key, err error) {
	if w.journal == nil {
		return
	}

	entry := &storage.MutationEntry{
		Timestamp: time.Now(),
		Version:   ins.Version,
		Kind:      ins.Kind.String(),
		Name:      key.Name,
		Type:      localrecords.TypeLabel(key.Type),
		Source:    ins.Source,
		Applied:   err == nil,
	}
	for _, rr := range ins.Records {
		if rr != nil {
			entry.Records = append(entry.Records, rr.String())
		}
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if jerr := w.journal.LogMutation(ctx, entry); jerr != nil && !errors.Is(jerr, storage.ErrClosed) {
		w.logger.Debug("Failed to journal mutation", "version", ins.Version, "error", jerr)
	}
}
