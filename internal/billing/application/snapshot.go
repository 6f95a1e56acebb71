package application

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	billing "billing-recon/internal/billing/domain"
	"billing-recon/internal/observability/metrics"
)

const (
	sourceLedger    = "ledger"
	sourceDirectory = "directory"
	sourceLocks     = "lock_events"
)

// Snapshot is one request's view of the three primary sources.
type Snapshot struct {
	Invoices   []billing.Invoice
	Directory  []billing.CustomerRecord
	LockEvents []billing.LockEvent
	// Unavailable lists the sources whose fetch failed and were treated as empty.
	Unavailable []string
}

// Empty reports whether every source returned nothing.
func (s Snapshot) Empty() bool {
	return len(s.Invoices) == 0 && len(s.Directory) == 0 && len(s.LockEvents) == 0
}

// SnapshotLoader fetches ledger, directory and lock events concurrently.
type SnapshotLoader struct {
	ledger    LedgerSource
	directory CustomerDirectory
	locks     LockEventSource
	logger    logrus.FieldLogger
}

// NewSnapshotLoader constructs a loader.
func NewSnapshotLoader(ledger LedgerSource, directory CustomerDirectory, locks LockEventSource, logger logrus.FieldLogger) (*SnapshotLoader, error) {
	if ledger == nil || directory == nil || locks == nil {
		return nil, billing.ErrNilSource
	}
	return &SnapshotLoader{ledger: ledger, directory: directory, locks: locks, logger: orDiscard(logger)}, nil
}

// Load runs the three fetches in parallel and joins them. A failing source is
// logged and contributes an empty collection instead of an error.
func (l *SnapshotLoader) Load(ctx context.Context, customerIDs []string, rng billing.PeriodRange) Snapshot {
	var (
		snap                              Snapshot
		ledgerErr, directoryErr, locksErr error
		g                                 errgroup.Group
	)

	g.Go(func() error {
		snap.Invoices, ledgerErr = l.ledger.FetchInvoices(ctx, customerIDs, rng)
		return nil
	})
	g.Go(func() error {
		snap.Directory, directoryErr = l.directory.FetchCustomerDirectory(ctx)
		return nil
	})
	g.Go(func() error {
		snap.LockEvents, locksErr = l.locks.FetchLockEvents(ctx, customerIDs)
		return nil
	})
	_ = g.Wait()

	if ledgerErr != nil {
		snap.Invoices = nil
		snap.Unavailable = append(snap.Unavailable, l.unavailable(sourceLedger, ledgerErr))
	}
	if directoryErr != nil {
		snap.Directory = nil
		snap.Unavailable = append(snap.Unavailable, l.unavailable(sourceDirectory, directoryErr))
	}
	if locksErr != nil {
		snap.LockEvents = nil
		snap.Unavailable = append(snap.Unavailable, l.unavailable(sourceLocks, locksErr))
	}
	return snap
}

func (l *SnapshotLoader) unavailable(source string, err error) string {
	metrics.IncSourceFailure(source)
	l.logger.WithFields(logrus.Fields{
		"event":  "source_unavailable",
		"source": source,
	}).WithError(err).Warn("source fetch failed, continuing with empty data")
	return source
}
