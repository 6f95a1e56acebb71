package integration_test

import (
	"context"
	"testing"
	"time"

	"billing-recon/internal/billing/application"
	billing "billing-recon/internal/billing/domain"
	"billing-recon/internal/billing/infrastructure/memory"
)

type fixture struct {
	ledger    *memory.Ledger
	directory *memory.Directory
	bank      *memory.SettlementBank
	locks     *memory.LockLog
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func invoice(customerID, route string, month int, due float64, ref string) billing.Invoice {
	return billing.Invoice{
		CustomerID: customerID,
		Period:     billing.Period{Month: month, Year: 2024},
		DueAmount:  due,
		InvoiceRef: ref,
		RouteBatch: route,
	}
}

func settled(inv billing.Invoice, at time.Time) billing.Invoice {
	inv.SettlementDate = &at
	return inv
}

// newFixture seeds one quarter of billing for six customers:
//
//	C1 route 02 seq 10: Jan-Mar unpaid in the ledger, bank confirms Jan on Jan 20
//	C2 route 02 seq 9:  Jan-Feb unpaid, an old lock that was lifted
//	C3 route 01 seq 5:  Mar unpaid only
//	C4 route 01 seq 1:  Feb-Mar unpaid, locked on Mar 15
//	C5 route 01 seq 2:  Jan-Mar unpaid, locked on Jan 10
//	C6 route 03 seq 1:  paid every month inside the month
func newFixture() *fixture {
	unlock := day(2023, time.December, 1)
	return &fixture{
		ledger: memory.NewLedger(
			invoice("C1", "02", 1, 100, "C1-01"),
			invoice("C1", "02", 2, 100, "C1-02"),
			invoice("C1", "02", 3, 100, "C1-03"),
			invoice("C2", "02", 1, 50, "C2-01"),
			invoice("C2", "02", 2, 50, "C2-02"),
			invoice("C3", "01", 3, 300, "C3-03"),
			invoice("C4", "01", 2, 80, "C4-02"),
			invoice("C4", "01", 3, 80, "C4-03"),
			invoice("C5", "01", 1, 100, "C5-01"),
			invoice("C5", "01", 2, 100, "C5-02"),
			invoice("C5", "01", 3, 100, "C5-03"),
			settled(invoice("C6", "03", 1, 40, "C6-01"), day(2024, time.January, 25)),
			settled(invoice("C6", "03", 2, 40, "C6-02"), day(2024, time.February, 10)),
			settled(invoice("C6", "03", 3, 40, "C6-03"), day(2024, time.March, 12)),
		),
		directory: memory.NewDirectory(
			billing.CustomerRecord{CustomerID: "C1", Name: "Alice", SequenceCode: "10"},
			billing.CustomerRecord{CustomerID: "C2", Name: "Bob", SequenceCode: "9"},
			billing.CustomerRecord{CustomerID: "C3", Name: "Carol", SequenceCode: "5"},
			billing.CustomerRecord{CustomerID: "C4", Name: "Dan", SequenceCode: "1"},
			billing.CustomerRecord{CustomerID: "C5", Name: "Eve", SequenceCode: "2"},
			billing.CustomerRecord{CustomerID: "C6", Name: "Frank", SequenceCode: "1"},
		),
		bank: memory.NewSettlementBank(
			billing.SettlementRecord{InvoiceRef: "C1-01", ConfirmedDate: day(2024, time.January, 20)},
		),
		locks: memory.NewLockLog(
			billing.LockEvent{CustomerID: "C4", LockDate: day(2024, time.March, 15), LockType: "debt", Status: billing.LockStatusLocked},
			billing.LockEvent{CustomerID: "C5", LockDate: day(2024, time.January, 10), LockType: "debt", Status: billing.LockStatusLocked},
			billing.LockEvent{CustomerID: "C2", LockDate: day(2023, time.November, 2), LockType: "debt", Status: billing.LockStatusUnlocked, UnlockDate: &unlock},
		),
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (f *fixture) service(t *testing.T) *application.ReportService {
	t.Helper()
	svc, err := application.NewReportService(
		f.ledger,
		f.directory,
		f.bank,
		f.locks,
		application.DefaultConfig(),
		application.WithClock(fixedClock{now: day(2024, time.April, 2)}),
		application.WithVerifierOptions(application.WithSleep(func(context.Context, time.Duration) error { return nil })),
	)
	if err != nil {
		t.Fatalf("new report service: %v", err)
	}
	return svc
}

func firstQuarter() billing.PeriodRange {
	return billing.PeriodRange{
		From: billing.Period{Month: 1, Year: 2024},
		To:   billing.Period{Month: 3, Year: 2024},
	}
}

func customerIDs[T any](rows []T, id func(T) string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, id(r))
	}
	return out
}
