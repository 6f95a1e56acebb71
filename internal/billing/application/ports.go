package application

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	billing "billing-recon/internal/billing/domain"
)

// LedgerSource loads raw invoice rows. A nil customerIDs slice means all customers.
type LedgerSource interface {
	FetchInvoices(ctx context.Context, customerIDs []string, rng billing.PeriodRange) ([]billing.Invoice, error)
}

// CustomerDirectory loads static customer attributes.
type CustomerDirectory interface {
	FetchCustomerDirectory(ctx context.Context) ([]billing.CustomerRecord, error)
}

// SettlementGateway returns bank confirmations for the given invoice references.
type SettlementGateway interface {
	VerifySettlements(ctx context.Context, invoiceRefs []string) ([]billing.SettlementRecord, error)
}

// LockEventSource loads service lock/unlock events. A nil customerIDs slice means all customers.
type LockEventSource interface {
	FetchLockEvents(ctx context.Context, customerIDs []string) ([]billing.LockEvent, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func orDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger == nil {
		return discardLogger()
	}
	return logger
}
