// Package feed ingests registries, certificates and slices published by
// the external registry feed into the ledger.
package feed

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/olehkaliuzhnyi/certwallet/internal/ledger"
	"github.com/olehkaliuzhnyi/certwallet/internal/metrics"
	"github.com/olehkaliuzhnyi/certwallet/internal/storage"
	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
)

// Source delivers feed records in batches.
type Source interface {
	// Fetch returns the next batch. An empty batch means nothing is pending.
	Fetch(ctx context.Context) ([]Record, error)
	// Commit acknowledges every record returned by Fetch so far.
	Commit(ctx context.Context) error
}

// Ingester polls a Source and applies each batch in one transaction. The
// source is committed only after its batch is applied; a failed batch is
// retried on the next tick without fetching again.
type Ingester struct {
	source       Source
	tx           storage.Tx
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	pending []Record
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Ingester)

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingester) {
		i.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func NewIngester(source Source, tx storage.Tx, pollInterval time.Duration, opts ...Option) *Ingester {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	i := &Ingester{
		source:       source,
		tx:           tx,
		pollInterval: pollInterval,
		logger:       slog.Default().With("component", "feed"),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Ingester) Start(ctx context.Context) error {
	ctx, i.cancel = context.WithCancel(ctx)

	i.logger.Info("starting feed ingester", "poll_interval", i.pollInterval)

	go i.pollLoop(ctx)
	return nil
}

// Stop halts a started ingester and waits for the poll loop to exit. It is
// a no-op if Start was never called.
func (i *Ingester) Stop() error {
	if i.cancel == nil {
		return nil
	}
	i.cancel()
	<-i.done
	i.logger.Info("feed ingester stopped")
	return nil
}

// Run ingests until ctx is cancelled.
func (i *Ingester) Run(ctx context.Context) error {
	if err := i.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return i.Stop()
}

func (i *Ingester) pollLoop(ctx context.Context) {
	defer close(i.done)
	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.Poll(ctx); err != nil && ctx.Err() == nil {
				i.metrics.IncrementFeedFailures()
				i.logger.Error("feed poll failed", "error", err, "pending", len(i.pending))
			}
		}
	}
}

// Poll applies one batch: the pending one if the last attempt failed,
// otherwise a freshly fetched one. It is not safe to call concurrently with
// a running poll loop.
func (i *Ingester) Poll(ctx context.Context) error {
	if i.pending == nil {
		batch, err := i.source.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("fetch batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		i.pending = batch
	}

	applied, err := i.Apply(ctx, i.pending)
	if err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	if err := i.source.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	i.pending = nil

	for kind, n := range applied {
		i.metrics.AddFeedRecords(kind, n)
	}
	return nil
}

// Apply writes batch in one transaction and returns the number of records
// applied per kind. Registries go first, then certificates, then slices, so
// a batch may carry a slice together with the certificate it references.
//
// Records the ledger rejects as invalid or conflicting are logged and
// skipped: redelivering them can never succeed.
func (i *Ingester) Apply(ctx context.Context, batch []Record) (map[string]int, error) {
	ordered := slices.Clone(batch)
	slices.SortStableFunc(ordered, func(a, b Record) int {
		return cmp.Compare(rank(a.Kind()), rank(b.Kind()))
	})

	var applied map[string]int
	err := i.tx.RunInTx(ctx, func(st storage.Store) error {
		applied = make(map[string]int)
		for _, rec := range ordered {
			kind := rec.Kind()
			err := applyRecord(ctx, st, rec)
			switch {
			case err == nil:
				applied[kind]++
			case dErrors.HasCode(err, dErrors.CodeInvalidArgument), dErrors.HasCode(err, dErrors.CodeConflict):
				i.logger.WarnContext(ctx, "skipping rejected feed record", "kind", kind, "error", err)
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func applyRecord(ctx context.Context, st storage.Store, rec Record) error {
	switch rec.Kind() {
	case KindRegistry:
		return ledger.ApplyRegistry(ctx, st, rec.Registry)
	case KindCertificate:
		return ledger.ApplyCertificate(ctx, st, rec.Certificate)
	case KindSlice:
		return ledger.ApplySlice(ctx, st, rec.Slice)
	default:
		return dErrors.New(dErrors.CodeInvalidArgument, "feed record must carry exactly one payload")
	}
}
