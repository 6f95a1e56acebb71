package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	billing "billing-recon/internal/billing/domain"
	"billing-recon/internal/observability/metrics"
)

const (
	defaultChunkSize   = 100
	defaultMaxAttempts = 3
	defaultBackoff     = time.Second
)

// RetryPolicy controls per-chunk gateway retries.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
}

// FixedBackoff waits d between every attempt.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// DefaultRetryPolicy is 3 attempts with a fixed 1s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultMaxAttempts, Backoff: FixedBackoff(defaultBackoff)}
}

// FailedChunk identifies a chunk whose references stayed unverified.
type FailedChunk struct {
	Index int
	Refs  []string
	Err   error
}

// VerificationResult is the outcome of a verification run.
type VerificationResult struct {
	Confirmed    map[string]billing.SettlementRecord
	FailedChunks []FailedChunk
	Requested    int
	// Undated counts gateway records dropped for lacking a confirmation date.
	Undated int
}

// IsConfirmed reports whether the bank confirmed ref.
func (r VerificationResult) IsConfirmed(ref string) bool {
	_, ok := r.Confirmed[ref]
	return ok
}

// UnverifiedRefs counts references left unverified by failed chunks.
func (r VerificationResult) UnverifiedRefs() int {
	n := 0
	for _, c := range r.FailedChunks {
		n += len(c.Refs)
	}
	return n
}

// SettlementVerifier checks invoice references against the settlement gateway in chunks.
type SettlementVerifier struct {
	gateway   SettlementGateway
	chunkSize int
	policy    RetryPolicy
	logger    logrus.FieldLogger
	sleep     func(ctx context.Context, d time.Duration) error
}

// VerifierOption configures a SettlementVerifier.
type VerifierOption func(*SettlementVerifier)

// WithChunkSize overrides the chunk size.
func WithChunkSize(size int) VerifierOption {
	return func(v *SettlementVerifier) {
		if size > 0 {
			v.chunkSize = size
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(policy RetryPolicy) VerifierOption {
	return func(v *SettlementVerifier) {
		if policy.MaxAttempts > 0 {
			v.policy.MaxAttempts = policy.MaxAttempts
		}
		if policy.Backoff != nil {
			v.policy.Backoff = policy.Backoff
		}
	}
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger logrus.FieldLogger) VerifierOption {
	return func(v *SettlementVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) VerifierOption {
	return func(v *SettlementVerifier) {
		if sleep != nil {
			v.sleep = sleep
		}
	}
}

// NewSettlementVerifier constructs a verifier.
func NewSettlementVerifier(gateway SettlementGateway, opts ...VerifierOption) (*SettlementVerifier, error) {
	if gateway == nil {
		return nil, errors.New("settlement verifier: nil gateway")
	}
	v := &SettlementVerifier{
		gateway:   gateway,
		chunkSize: defaultChunkSize,
		policy:    DefaultRetryPolicy(),
		logger:    discardLogger(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify looks up refs chunk by chunk, sequentially. A chunk that exhausts its
// retries is recorded and skipped; its invoices stay unpaid downstream.
func (v *SettlementVerifier) Verify(ctx context.Context, refs []string) VerificationResult {
	refs = dedupeSorted(refs)
	result := VerificationResult{
		Confirmed: make(map[string]billing.SettlementRecord),
		Requested: len(refs),
	}
	chunks := chunkRefs(refs, v.chunkSize)
	for idx, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			result.FailedChunks = append(result.FailedChunks, FailedChunk{Index: idx, Refs: chunk, Err: err})
			metrics.IncVerifyChunk(metrics.ResultError)
			continue
		}
		records, err := v.verifyChunk(ctx, idx, chunk)
		if err != nil {
			v.logger.WithFields(logrus.Fields{
				"event":       "settlement_verify_chunk_skipped",
				"chunk_index": idx,
				"chunk_refs":  len(chunk),
				"attempts":    v.policy.MaxAttempts,
			}).WithError(err).Warn("settlement chunk unverified")
			result.FailedChunks = append(result.FailedChunks, FailedChunk{Index: idx, Refs: chunk, Err: err})
			metrics.IncVerifyChunk(metrics.ResultError)
			continue
		}
		metrics.IncVerifyChunk(metrics.ResultSuccess)

		asked := make(map[string]struct{}, len(chunk))
		for _, ref := range chunk {
			asked[ref] = struct{}{}
		}
		for _, rec := range records {
			if _, ok := asked[rec.InvoiceRef]; !ok {
				continue
			}
			// An undated confirmation cannot place the payment in a period.
			if rec.ConfirmedDate.IsZero() {
				result.Undated++
				continue
			}
			if existing, ok := result.Confirmed[rec.InvoiceRef]; ok && !rec.ConfirmedDate.Before(existing.ConfirmedDate) {
				continue
			}
			result.Confirmed[rec.InvoiceRef] = rec
		}
	}
	return result
}

func (v *SettlementVerifier) verifyChunk(ctx context.Context, idx int, chunk []string) ([]billing.SettlementRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= v.policy.MaxAttempts; attempt++ {
		records, err := v.gateway.VerifySettlements(ctx, chunk)
		if err == nil {
			return records, nil
		}
		lastErr = err
		v.logger.WithFields(logrus.Fields{
			"event":       "settlement_verify_attempt_failed",
			"chunk_index": idx,
			"attempt":     attempt,
		}).WithError(err).Debug("settlement gateway attempt failed")
		if attempt == v.policy.MaxAttempts {
			break
		}
		if err := v.sleep(ctx, v.policy.Backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func chunkRefs(refs []string, size int) [][]string {
	if size <= 0 {
		size = defaultChunkSize
	}
	var chunks [][]string
	for start := 0; start < len(refs); start += size {
		end := start + size
		if end > len(refs) {
			end = len(refs)
		}
		chunks = append(chunks, refs[start:end])
	}
	return chunks
}

func dedupeSorted(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
