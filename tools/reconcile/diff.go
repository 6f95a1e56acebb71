package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"billing-recon/internal/billing/application"
	billing "billing-recon/internal/billing/domain"
)

// legacyDebt is one row of the legacy system's outstanding-debt export.
type legacyDebt struct {
	CustomerID  string
	TotalDue    float64
	PeriodCount int
}

type worklistEntry struct {
	CustomerID  string  `json:"customer_id"`
	TotalDue    float64 `json:"total_due"`
	PeriodCount int     `json:"period_count"`
}

type worklistMismatch struct {
	CustomerID        string  `json:"customer_id"`
	EngineTotalDue    float64 `json:"engine_total_due"`
	LegacyTotalDue    float64 `json:"legacy_total_due"`
	AmountDiff        float64 `json:"amount_diff"`
	EnginePeriodCount int     `json:"engine_period_count"`
	LegacyPeriodCount int     `json:"legacy_period_count"`
}

type worklistDiff struct {
	Matched    int                `json:"matched"`
	OnlyEngine []worklistEntry    `json:"only_engine"`
	OnlyLegacy []worklistEntry    `json:"only_legacy"`
	Mismatched []worklistMismatch `json:"mismatched"`
}

func loadLegacyWorklist(path string) ([]legacyDebt, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readLegacyWorklist(file)
}

func readLegacyWorklist(r io.Reader) ([]legacyDebt, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, errors.New("legacy csv: empty")
	}
	header := make(map[string]int)
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idIdx := findHeader(header, "customer_id", "customer", "meter")
	dueIdx := findHeader(header, "total_due", "debt", "amount")
	countIdx := findHeader(header, "period_count", "periods", "months")
	if idIdx < 0 || dueIdx < 0 {
		return nil, errors.New("legacy csv requires headers: customer_id, total_due")
	}

	var result []legacyDebt
	for line, row := range records[1:] {
		if idIdx >= len(row) || dueIdx >= len(row) {
			return nil, fmt.Errorf("legacy csv: line %d is short", line+2)
		}
		id := billing.NormalizeCustomerID(row[idIdx])
		if id == "" {
			continue
		}
		debt := legacyDebt{CustomerID: id, TotalDue: billing.ParseAmount(row[dueIdx])}
		if countIdx >= 0 && countIdx < len(row) {
			debt.PeriodCount = billing.ParseInt(row[countIdx])
		}
		result = append(result, debt)
	}
	return result, nil
}

// diffWorklists compares the engine worklist with a legacy export keyed by customer.
// Legacy rows for the same customer are summed.
func diffWorklists(engine []application.CustomerDebtRecord, legacy []legacyDebt, tolerance float64) worklistDiff {
	legacyByID := make(map[string]legacyDebt)
	for _, row := range legacy {
		acc := legacyByID[row.CustomerID]
		acc.CustomerID = row.CustomerID
		acc.TotalDue = decimal.NewFromFloat(acc.TotalDue).Add(decimal.NewFromFloat(row.TotalDue)).InexactFloat64()
		acc.PeriodCount += row.PeriodCount
		legacyByID[row.CustomerID] = acc
	}
	limit := decimal.NewFromFloat(tolerance).Abs()

	diff := worklistDiff{
		OnlyEngine: []worklistEntry{},
		OnlyLegacy: []worklistEntry{},
		Mismatched: []worklistMismatch{},
	}
	seen := make(map[string]struct{}, len(engine))
	for _, record := range engine {
		seen[record.CustomerID] = struct{}{}
		old, ok := legacyByID[record.CustomerID]
		if !ok {
			diff.OnlyEngine = append(diff.OnlyEngine, worklistEntry{
				CustomerID:  record.CustomerID,
				TotalDue:    record.TotalDue,
				PeriodCount: record.PeriodCount,
			})
			continue
		}
		delta := decimal.NewFromFloat(record.TotalDue).Sub(decimal.NewFromFloat(old.TotalDue))
		countDiffers := old.PeriodCount > 0 && old.PeriodCount != record.PeriodCount
		if delta.Abs().GreaterThan(limit) || countDiffers {
			diff.Mismatched = append(diff.Mismatched, worklistMismatch{
				CustomerID:        record.CustomerID,
				EngineTotalDue:    record.TotalDue,
				LegacyTotalDue:    old.TotalDue,
				AmountDiff:        delta.Round(2).InexactFloat64(),
				EnginePeriodCount: record.PeriodCount,
				LegacyPeriodCount: old.PeriodCount,
			})
			continue
		}
		diff.Matched++
	}
	for id, old := range legacyByID {
		if _, ok := seen[id]; ok {
			continue
		}
		diff.OnlyLegacy = append(diff.OnlyLegacy, worklistEntry{
			CustomerID:  id,
			TotalDue:    old.TotalDue,
			PeriodCount: old.PeriodCount,
		})
	}

	sort.Slice(diff.OnlyEngine, func(i, j int) bool { return diff.OnlyEngine[i].CustomerID < diff.OnlyEngine[j].CustomerID })
	sort.Slice(diff.OnlyLegacy, func(i, j int) bool { return diff.OnlyLegacy[i].CustomerID < diff.OnlyLegacy[j].CustomerID })
	sort.Slice(diff.Mismatched, func(i, j int) bool { return diff.Mismatched[i].CustomerID < diff.Mismatched[j].CustomerID })
	return diff
}

func findHeader(headers map[string]int, names ...string) int {
	for _, name := range names {
		if idx, ok := headers[strings.ToLower(name)]; ok {
			return idx
		}
	}
	return -1
}
