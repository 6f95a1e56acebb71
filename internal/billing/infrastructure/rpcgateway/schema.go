package rpcgateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"billing-recon/internal/observability/metrics"
)

// Columns the gateway is known to send. Anything else is flagged.
var (
	invoiceSchema = columnSet(
		"customer_id", "month", "year", "due_amount", "settlement_date",
		"invoice_ref", "route_batch", "price_tier",
	)
	directorySchema = columnSet(
		"customer_id", "name", "address", "meter_code", "sequence_code",
	)
)

// UnknownColumnError is returned in strict mode when a row carries an unrecognized column.
type UnknownColumnError struct {
	Source  string
	Columns []string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("rpcgateway: %s: unrecognized columns %s", e.Source, strings.Join(e.Columns, ","))
}

func columnSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// decodeRow flattens a row to strings keyed by lowercase column name and
// returns the columns outside schema, sorted.
func decodeRow(schema map[string]struct{}, row map[string]json.RawMessage) (map[string]string, []string) {
	out := make(map[string]string, len(row))
	var unknown []string
	for key, raw := range row {
		name := strings.ToLower(strings.TrimSpace(key))
		if _, ok := schema[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		out[name] = rawString(raw)
	}
	sort.Strings(unknown)
	return out, unknown
}

// columnFlags collects unrecognized columns over one call so they are reported once.
type columnFlags struct {
	source string
	seen   map[string]int
}

func newColumnFlags(source string) *columnFlags {
	return &columnFlags{source: source, seen: make(map[string]int)}
}

func (f *columnFlags) add(columns []string) {
	for _, name := range columns {
		f.seen[name]++
	}
}

func (c *Client) checkColumns(flags *columnFlags, columns []string) error {
	if len(columns) == 0 {
		return nil
	}
	if c.strict {
		return &UnknownColumnError{Source: flags.source, Columns: columns}
	}
	flags.add(columns)
	return nil
}

func (c *Client) reportColumns(flags *columnFlags) {
	if len(flags.seen) == 0 {
		return
	}
	names := make([]string, 0, len(flags.seen))
	for name := range flags.seen {
		names = append(names, name)
		metrics.IncFlaggedColumn(flags.source, name)
	}
	sort.Strings(names)
	c.logger.WithFields(logrus.Fields{
		"event":   "unrecognized_columns",
		"source":  flags.source,
		"columns": strings.Join(names, ","),
	}).Warn("gateway rows carry unrecognized columns")
}

// rawString renders strings, numbers and booleans as text; null and nested values are empty.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[':
		return ""
	case 't', 'f':
		b, err := strconv.ParseBool(string(raw))
		if err != nil {
			return ""
		}
		return strconv.FormatBool(b)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	}
}
