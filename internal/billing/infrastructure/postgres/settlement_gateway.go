package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	billing "billing-recon/internal/billing/domain"
)

const (
	defaultSettlementTable = "bank_settlements"
	defaultQueryTimeout    = 15 * time.Second
)

// Schema is the DDL for the default settlement table.
const Schema = `
CREATE TABLE IF NOT EXISTS bank_settlements (
	invoice_ref    TEXT        NOT NULL,
	confirmed_date DATE        NOT NULL,
	bank_code      TEXT        NOT NULL DEFAULT '',
	amount         NUMERIC(18,2),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (invoice_ref, confirmed_date)
)`

// SettlementGateway reads bank confirmations from managed Postgres.
type SettlementGateway struct {
	db      *sql.DB
	table   string
	timeout time.Duration
}

// GatewayOption configures the gateway.
type GatewayOption func(*SettlementGateway)

// WithTable overrides the default table.
func WithTable(table string) GatewayOption {
	return func(g *SettlementGateway) {
		if table != "" {
			g.table = table
		}
	}
}

// WithQueryTimeout bounds each lookup.
func WithQueryTimeout(timeout time.Duration) GatewayOption {
	return func(g *SettlementGateway) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// NewSettlementGateway constructs a gateway with defaults.
func NewSettlementGateway(db *sql.DB, opts ...GatewayOption) (*SettlementGateway, error) {
	if db == nil {
		return nil, errors.New("settlement gateway: nil db")
	}
	g := &SettlementGateway{
		db:      db,
		table:   defaultSettlementTable,
		timeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// VerifySettlements returns the earliest confirmation per requested invoice reference.
func (g *SettlementGateway) VerifySettlements(ctx context.Context, invoiceRefs []string) ([]billing.SettlementRecord, error) {
	if g == nil || g.db == nil {
		return nil, errors.New("settlement gateway: nil db")
	}
	refs := make([]string, 0, len(invoiceRefs))
	for _, ref := range invoiceRefs {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	query := fmt.Sprintf(`
SELECT invoice_ref, MIN(confirmed_date)
FROM %s
WHERE invoice_ref = ANY($1)
GROUP BY invoice_ref
ORDER BY invoice_ref`, g.table)

	rows, err := g.db.QueryContext(ctx, query, refs)
	if err != nil {
		return nil, fmt.Errorf("settlement gateway: query: %w", err)
	}
	defer rows.Close()

	var records []billing.SettlementRecord
	for rows.Next() {
		var (
			ref       string
			confirmed time.Time
		)
		if err := rows.Scan(&ref, &confirmed); err != nil {
			return nil, fmt.Errorf("settlement gateway: scan: %w", err)
		}
		records = append(records, billing.SettlementRecord{InvoiceRef: ref, ConfirmedDate: confirmed.UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settlement gateway: rows: %w", err)
	}
	return records, nil
}
