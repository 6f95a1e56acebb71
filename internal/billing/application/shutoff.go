package application

import (
	"time"

	billing "billing-recon/internal/billing/domain"
)

// ShutoffOutcome is the reconciliation verdict for one candidate.
type ShutoffOutcome struct {
	Locked              bool
	LockEvent           *billing.LockEvent
	HasDebtAfterShutoff bool
	Excluded            bool
}

// ShutoffStats counts reconciliation results across a run.
type ShutoffStats struct {
	CurrentlyLocked   int `json:"currently_locked"`
	ExcludedByShutoff int `json:"excluded_by_shutoff"`
	UndatedLocksKept  int `json:"undated_locks_kept"`
}

// ShutoffReconciler drops locked customers whose remaining debt does not extend past the lock.
type ShutoffReconciler struct {
	latest map[string]billing.LockEvent
}

// NewShutoffReconciler indexes the most recent lock event per customer.
func NewShutoffReconciler(events []billing.LockEvent) *ShutoffReconciler {
	return &ShutoffReconciler{latest: billing.LatestLockEvents(events)}
}

// LatestEvent returns the authoritative lock event of a customer.
func (r *ShutoffReconciler) LatestEvent(customerID string) (billing.LockEvent, bool) {
	evt, ok := r.latest[billing.NormalizeCustomerID(customerID)]
	return evt, ok
}

// Evaluate decides whether a candidate stays on the worklist.
func (r *ShutoffReconciler) Evaluate(debt CustomerDebt) ShutoffOutcome {
	evt, ok := r.LatestEvent(debt.CustomerID)
	if !ok || !evt.IsActive() {
		return ShutoffOutcome{}
	}
	outcome := ShutoffOutcome{Locked: true, LockEvent: &evt}
	if evt.LockDate.IsZero() {
		// Undated locks cannot be compared against periods; keep the customer.
		outcome.HasDebtAfterShutoff = true
		return outcome
	}
	outcome.HasDebtAfterShutoff = HasDebtAfterShutoff(debt.Invoices, evt.LockDate)
	outcome.Excluded = !outcome.HasDebtAfterShutoff
	return outcome
}

// Reconcile filters candidates and reports lock statistics.
func (r *ShutoffReconciler) Reconcile(candidates []CustomerDebt) ([]CustomerDebt, map[string]ShutoffOutcome, ShutoffStats) {
	var kept []CustomerDebt
	outcomes := make(map[string]ShutoffOutcome, len(candidates))
	var stats ShutoffStats
	for _, debt := range candidates {
		outcome := r.Evaluate(debt)
		outcomes[debt.CustomerID] = outcome
		if outcome.Locked {
			stats.CurrentlyLocked++
			if outcome.LockEvent != nil && outcome.LockEvent.LockDate.IsZero() {
				stats.UndatedLocksKept++
			}
		}
		if outcome.Excluded {
			stats.ExcludedByShutoff++
			continue
		}
		kept = append(kept, debt)
	}
	return kept, outcomes, stats
}

// HasDebtAfterShutoff reports whether any invoice with a nonzero due amount belongs
// to a period starting strictly after lockDate. The period containing the lock day
// never counts; the last day of a month belongs to that month.
func HasDebtAfterShutoff(invoices []billing.MergedInvoice, lockDate time.Time) bool {
	lockDay := time.Date(lockDate.Year(), lockDate.Month(), lockDate.Day(), 0, 0, 0, 0, time.UTC)
	for _, inv := range invoices {
		if inv.Period.Contains(lockDay) {
			continue
		}
		if inv.Period.Start().After(lockDay) && inv.DueAmount > 0 {
			return true
		}
	}
	return false
}
