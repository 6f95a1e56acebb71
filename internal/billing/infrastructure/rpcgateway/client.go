package rpcgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	billing "billing-recon/internal/billing/domain"
)

const (
	methodInvoices  = "ledger.invoices"
	methodDirectory = "directory.customers"
)

var errEmptyBaseURL = errors.New("rpcgateway: empty base url")

// Client is a JSON-over-HTTP client for the legacy billing RPC gateway.
// It serves both the ledger and the customer directory.
type Client struct {
	baseURL string
	token   string
	strict  bool
	client  *http.Client
	logger  logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with each call.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithStrictSchema rejects rows carrying unrecognized columns instead of flagging them.
func WithStrictSchema(strict bool) Option {
	return func(c *Client) {
		c.strict = strict
	}
}

// WithHTTPClient replaces the default client with a 10s timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger sets the logger used for flagged columns.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a gateway client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errEmptyBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Status string                       `json:"status"`
	Error  string                       `json:"error"`
	Rows   []map[string]json.RawMessage `json:"rows"`
}

type invoiceParams struct {
	CustomerIDs []string `json:"customer_ids,omitempty"`
	FromMonth   int      `json:"from_month"`
	FromYear    int      `json:"from_year"`
	ToMonth     int      `json:"to_month"`
	ToYear      int      `json:"to_year"`
}

// FetchInvoices loads ledger rows for the customers over rng.
func (c *Client) FetchInvoices(ctx context.Context, customerIDs []string, rng billing.PeriodRange) ([]billing.Invoice, error) {
	params := invoiceParams{
		CustomerIDs: customerIDs,
		FromMonth:   rng.From.Month,
		FromYear:    rng.From.Year,
		ToMonth:     rng.To.Month,
		ToYear:      rng.To.Year,
	}
	rows, err := c.call(ctx, methodInvoices, params)
	if err != nil {
		return nil, err
	}
	flags := newColumnFlags(methodInvoices)
	invoices := make([]billing.Invoice, 0, len(rows))
	for i, row := range rows {
		r, unknown := decodeRow(invoiceSchema, row)
		if err := c.checkColumns(flags, unknown); err != nil {
			return nil, fmt.Errorf("invoice row %d: %w", i, err)
		}
		period, periodErr := billing.NewPeriod(billing.ParseInt(r["month"]), billing.ParseInt(r["year"]))
		inv := billing.Invoice{
			CustomerID:     billing.NormalizeCustomerID(r["customer_id"]),
			Period:         period,
			DueAmount:      billing.ParseAmount(r["due_amount"]),
			SettlementDate: billing.ParseOptionalDate(r["settlement_date"]),
			InvoiceRef:     strings.TrimSpace(r["invoice_ref"]),
			RouteBatch:     strings.TrimSpace(r["route_batch"]),
			PriceTier:      strings.TrimSpace(r["price_tier"]),
		}
		if inv.CustomerID == "" || periodErr != nil {
			entry := c.logger.WithFields(logrus.Fields{
				"event":       "row_skipped",
				"source":      methodInvoices,
				"row":         i,
				"customer_id": inv.CustomerID,
			})
			if periodErr != nil {
				entry = entry.WithError(periodErr)
			}
			entry.Warn("invoice row without customer or valid period")
			continue
		}
		invoices = append(invoices, inv)
	}
	c.reportColumns(flags)
	return invoices, nil
}

// FetchCustomerDirectory loads the full customer directory.
func (c *Client) FetchCustomerDirectory(ctx context.Context) ([]billing.CustomerRecord, error) {
	rows, err := c.call(ctx, methodDirectory, nil)
	if err != nil {
		return nil, err
	}
	flags := newColumnFlags(methodDirectory)
	records := make([]billing.CustomerRecord, 0, len(rows))
	for i, row := range rows {
		r, unknown := decodeRow(directorySchema, row)
		if err := c.checkColumns(flags, unknown); err != nil {
			return nil, fmt.Errorf("directory row %d: %w", i, err)
		}
		rec := billing.CustomerRecord{
			CustomerID:   billing.NormalizeCustomerID(r["customer_id"]),
			Name:         strings.TrimSpace(r["name"]),
			Address:      strings.TrimSpace(r["address"]),
			MeterCode:    strings.TrimSpace(r["meter_code"]),
			SequenceCode: strings.TrimSpace(r["sequence_code"]),
		}
		if rec.CustomerID == "" {
			continue
		}
		records = append(records, rec)
	}
	c.reportColumns(flags)
	return records, nil
}

func (c *Client) call(ctx context.Context, method string, params any) ([]map[string]json.RawMessage, error) {
	var resp rpcResponse
	if err := c.doJSON(ctx, http.MethodPost, "/rpc", rpcRequest{Method: method, Params: params}, &resp); err != nil {
		return nil, fmt.Errorf("rpcgateway: %s: %w", method, err)
	}
	if resp.Error != "" || (resp.Status != "" && !strings.EqualFold(resp.Status, "ok")) {
		return nil, fmt.Errorf("rpcgateway: %s: status %q: %s", method, resp.Status, resp.Error)
	}
	return resp.Rows, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
