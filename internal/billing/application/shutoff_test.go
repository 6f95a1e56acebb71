package application

import (
	"testing"
	"time"

	billing "billing-recon/internal/billing/domain"
)

func lockedOn(customerID string, date time.Time) billing.LockEvent {
	return billing.LockEvent{CustomerID: customerID, LockDate: date, LockType: "debt", Status: billing.LockStatusLocked}
}

func debtOf(customerID string, rows ...billing.MergedInvoice) CustomerDebt {
	d := summarize(customerID, rows)
	d.Thresholds = Thresholds{MinPeriods: 1}
	return d
}

func TestShutoff_ExcludesDebtNotAfterLock(t *testing.T) {
	lock := day(2024, time.March, 15)
	reconciler := NewShutoffReconciler([]billing.LockEvent{lockedOn("C1", lock)})

	onlyBefore := debtOf("C1", row("C1", p(2, 2024), 100, "a"), row("C1", p(3, 2024), 100, "b"))
	outcome := reconciler.Evaluate(onlyBefore)
	if !outcome.Locked || !outcome.Excluded || outcome.HasDebtAfterShutoff {
		t.Fatalf("expected exclusion, got %+v", outcome)
	}

	withApril := debtOf("C1", row("C1", p(3, 2024), 100, "b"), row("C1", p(4, 2024), 100, "c"))
	outcome = reconciler.Evaluate(withApril)
	if !outcome.Locked || outcome.Excluded || !outcome.HasDebtAfterShutoff {
		t.Fatalf("expected customer kept, got %+v", outcome)
	}
}

func TestShutoff_ZeroDueAfterLockDoesNotCount(t *testing.T) {
	reconciler := NewShutoffReconciler([]billing.LockEvent{lockedOn("C1", day(2024, time.March, 15))})
	debt := debtOf("C1", row("C1", p(3, 2024), 100, "b"), row("C1", p(4, 2024), 0, "c"))
	if outcome := reconciler.Evaluate(debt); !outcome.Excluded {
		t.Fatalf("zero-due period after lock should not keep the customer, got %+v", outcome)
	}
}

func TestShutoff_BoundaryDays(t *testing.T) {
	// Locked on the last day of March: March is the lock period, April is after.
	endOfMarch := day(2024, time.March, 31)
	if HasDebtAfterShutoff([]billing.MergedInvoice{row("C1", p(3, 2024), 10, "a")}, endOfMarch) {
		t.Fatalf("lock period must not count")
	}
	if !HasDebtAfterShutoff([]billing.MergedInvoice{row("C1", p(4, 2024), 10, "a")}, endOfMarch) {
		t.Fatalf("following period must count")
	}
	// Locked on the first day of April: April is the lock period.
	if HasDebtAfterShutoff([]billing.MergedInvoice{row("C1", p(4, 2024), 10, "a")}, day(2024, time.April, 1)) {
		t.Fatalf("period containing the lock day must not count")
	}
}

func TestShutoff_LatestEventWinsAndUnlocked(t *testing.T) {
	unlock := day(2024, time.March, 20)
	relocked := lockedOn("C2", day(2024, time.March, 1))
	released := lockedOn("C2", day(2024, time.March, 15))
	released.UnlockDate = &unlock
	reconciler := NewShutoffReconciler([]billing.LockEvent{relocked, released})

	debt := debtOf("C2", row("C2", p(2, 2024), 100, "a"))
	if outcome := reconciler.Evaluate(debt); outcome.Locked || outcome.Excluded {
		t.Fatalf("latest event is unlocked, expected no lock, got %+v", outcome)
	}
}

func TestShutoff_UndatedLockKeepsCustomer(t *testing.T) {
	reconciler := NewShutoffReconciler([]billing.LockEvent{{CustomerID: "C3", Status: billing.LockStatusLocked}})
	kept, outcomes, stats := reconciler.Reconcile([]CustomerDebt{debtOf("C3", row("C3", p(1, 2024), 5, "a"))})
	if len(kept) != 1 || !outcomes["C3"].Locked {
		t.Fatalf("undated lock should keep the customer, got %+v", outcomes)
	}
	if stats.CurrentlyLocked != 1 || stats.UndatedLocksKept != 1 || stats.ExcludedByShutoff != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestShutoff_ReconcileStats(t *testing.T) {
	lock := day(2024, time.March, 15)
	reconciler := NewShutoffReconciler([]billing.LockEvent{lockedOn("C1", lock), lockedOn("C2", lock)})
	candidates := []CustomerDebt{
		debtOf("C1", row("C1", p(3, 2024), 100, "a")),
		debtOf("C2", row("C2", p(5, 2024), 100, "b")),
		debtOf("C3", row("C3", p(1, 2024), 100, "c")),
	}
	kept, _, stats := reconciler.Reconcile(candidates)
	if len(kept) != 2 || kept[0].CustomerID != "C2" || kept[1].CustomerID != "C3" {
		t.Fatalf("unexpected kept %+v", kept)
	}
	if stats.CurrentlyLocked != 2 || stats.ExcludedByShutoff != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
