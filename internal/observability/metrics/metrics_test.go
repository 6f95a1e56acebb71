package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpersBeforeAndAfterInit(t *testing.T) {
	// Before Init every helper is a no-op.
	ObserveReport("punctuality", ResultSuccess, time.Second)
	IncVerifyChunk(ResultError)
	IncSourceFailure("ledger")
	IncFlaggedColumn("lock_log", "tariff")
	AddShutoffExcluded(3)

	Init(nil, nil)
	Init(nil, nil)

	ObserveReport("punctuality", ResultSuccess, 250*time.Millisecond)
	ObserveReport("", "", time.Millisecond)
	IncVerifyChunk(ResultError)
	IncVerifyChunk(ResultError)
	IncSourceFailure("")
	IncFlaggedColumn("lock_log", "tariff")
	AddShutoffExcluded(2)
	AddShutoffExcluded(-5)

	if got := testutil.ToFloat64(reportTotal.WithLabelValues("punctuality", ResultSuccess)); got != 1 {
		t.Fatalf("report total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reportTotal.WithLabelValues("unknown", ResultSuccess)); got != 1 {
		t.Fatalf("unknown report total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(verifyChunks.WithLabelValues(ResultError)); got != 2 {
		t.Fatalf("verify chunks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sourceFailures.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("source failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(flaggedColumns.WithLabelValues("lock_log", "tariff")); got != 1 {
		t.Fatalf("flagged columns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(shutoffExcluded); got != 2 {
		t.Fatalf("shutoff excluded = %v, want 2", got)
	}
}

func TestQueryCountWithoutDB(t *testing.T) {
	if got := queryCount(nil, nil, "SELECT 1"); got != 0 {
		t.Fatalf("queryCount(nil) = %v, want 0", got)
	}
}
