package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	billing "billing-recon/internal/billing/domain"
	"billing-recon/internal/observability/metrics"
)

const (
	flagSource     = "lock_log"
	// 9999-12-31 in the 1900 date system.
	maxExcelSerial = 2958466
)

var errEmptyPath = errors.New("spreadsheet: empty workbook path")

// headerAliases maps normalized header text to a lock event column.
var headerAliases = map[string]string{
	"customer_id": "customer_id",
	"customer":    "customer_id",
	"customer id": "customer_id",
	"lock_date":   "lock_date",
	"lock date":   "lock_date",
	"locked_at":   "lock_date",
	"lock_type":   "lock_type",
	"lock type":   "lock_type",
	"type":        "lock_type",
	"status":      "status",
	"unlock_date": "unlock_date",
	"unlock date": "unlock_date",
	"unlocked_at": "unlock_date",
	"group":       "group",
	"lock_group":  "group",
	"lock group":  "group",
}

// UnknownColumnError is returned in strict mode for an unrecognized header.
type UnknownColumnError struct {
	Sheet   string
	Columns []string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("spreadsheet: sheet %q: unrecognized columns %s", e.Sheet, strings.Join(e.Columns, ","))
}

// LockLog reads service lock/unlock events from an operations workbook.
// The workbook is reopened on every fetch since operators edit it in place.
type LockLog struct {
	path   string
	sheet  string
	strict bool
	logger logrus.FieldLogger
}

// Option configures a LockLog.
type Option func(*LockLog)

// WithSheet selects the sheet; the first sheet is used otherwise.
func WithSheet(sheet string) Option {
	return func(l *LockLog) {
		l.sheet = sheet
	}
}

// WithStrictSchema rejects workbooks with unrecognized headers.
func WithStrictSchema(strict bool) Option {
	return func(l *LockLog) {
		l.strict = strict
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *LockLog) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLockLog constructs a reader over the workbook at path.
func NewLockLog(path string, opts ...Option) (*LockLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errEmptyPath
	}
	l := &LockLog{path: path, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// FetchLockEvents returns events for customerIDs, or all events when customerIDs is nil.
func (l *LockLog) FetchLockEvents(ctx context.Context, customerIDs []string) ([]billing.LockEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: open %s: %w", l.path, err)
	}
	defer f.Close()

	sheet := l.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	columns, unknown := mapHeader(rows[0])
	if len(unknown) > 0 {
		if l.strict {
			return nil, &UnknownColumnError{Sheet: sheet, Columns: unknown}
		}
		for _, name := range unknown {
			metrics.IncFlaggedColumn(flagSource, name)
		}
		l.logger.WithFields(logrus.Fields{
			"event":   "unrecognized_columns",
			"source":  flagSource,
			"sheet":   sheet,
			"columns": strings.Join(unknown, ","),
		}).Warn("lock log carries unrecognized columns")
	}
	if _, ok := columns["customer_id"]; !ok {
		return nil, fmt.Errorf("spreadsheet: sheet %q: missing customer_id column", sheet)
	}

	var wanted map[string]struct{}
	if customerIDs != nil {
		wanted = make(map[string]struct{}, len(customerIDs))
		for _, id := range customerIDs {
			wanted[billing.NormalizeCustomerID(id)] = struct{}{}
		}
	}

	var events []billing.LockEvent
	for _, row := range rows[1:] {
		cell := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		id := billing.NormalizeCustomerID(cell("customer_id"))
		if id == "" {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[id]; !ok {
				continue
			}
		}
		evt := billing.LockEvent{
			CustomerID: id,
			LockDate:   cellDate(cell("lock_date")),
			LockType:   cell("lock_type"),
			Status:     strings.ToLower(cell("status")),
			Group:      cell("group"),
		}
		if unlock := cellDate(cell("unlock_date")); !unlock.IsZero() {
			evt.UnlockDate = &unlock
		}
		events = append(events, evt)
	}
	return events, nil
}

func mapHeader(header []string) (map[string]int, []string) {
	columns := make(map[string]int, len(header))
	var unknown []string
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		col, ok := headerAliases[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if _, dup := columns[col]; !dup {
			columns[col] = i
		}
	}
	sort.Strings(unknown)
	return columns, unknown
}

// cellDate accepts Excel serial dates as well as the text layouts billing.ParseDate knows.
func cellDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 && serial < maxExcelSerial && !strings.ContainsAny(raw, "-/") {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	return billing.ParseDate(raw)
}
