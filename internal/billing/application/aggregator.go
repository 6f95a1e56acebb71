package application

import (
	"math"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	billing "billing-recon/internal/billing/domain"
)

// BucketCount is one row of the punctuality histogram.
type BucketCount struct {
	Bucket    billing.ClassificationBucket `json:"bucket"`
	Customers int                          `json:"customers"`
}

// PunctualitySummary aggregates on-time rates across customers.
type PunctualitySummary struct {
	Customers   int           `json:"customers"`
	Periods     int           `json:"periods"`
	Histogram   []BucketCount `json:"histogram"`
	AverageRate float64       `json:"average_rate"`
	MinRate     float64       `json:"min_rate"`
	MaxRate     float64       `json:"max_rate"`
}

// YearDebt is the unsettled debt issued in one year.
type YearDebt struct {
	Year         int     `json:"year"`
	TotalDue     float64 `json:"total_due"`
	InvoiceCount int     `json:"invoice_count"`
}

// PeriodCountDebt groups customers by how many distinct periods they owe.
type PeriodCountDebt struct {
	Label     string  `json:"label"`
	Periods   int     `json:"periods"`
	OrMore    bool    `json:"or_more"`
	TotalDue  float64 `json:"total_due"`
	Customers int     `json:"customers"`
}

// SummarizePunctuality builds the bucket histogram and rate statistics.
func SummarizePunctuality(customers []CustomerPunctuality, periods int) PunctualitySummary {
	summary := PunctualitySummary{Customers: len(customers), Periods: periods}
	counts := make(map[billing.ClassificationBucket]int, len(billing.Buckets))
	if len(customers) > 0 {
		summary.MinRate = math.MaxFloat64
	}
	total := decimal.Zero
	for _, c := range customers {
		counts[c.Bucket]++
		total = total.Add(decimal.NewFromFloat(c.Rate))
		if c.Rate < summary.MinRate {
			summary.MinRate = c.Rate
		}
		if c.Rate > summary.MaxRate {
			summary.MaxRate = c.Rate
		}
	}
	for _, bucket := range billing.Buckets {
		summary.Histogram = append(summary.Histogram, BucketCount{Bucket: bucket, Customers: counts[bucket]})
	}
	if len(customers) > 0 {
		summary.AverageRate = total.DivRound(decimal.NewFromInt(int64(len(customers))), 2).InexactFloat64()
	}
	return summary
}

// SummarizeByYear totals remaining debt per invoice year, oldest first.
func SummarizeByYear(debts []CustomerDebt) []YearDebt {
	type acc struct {
		total decimal.Decimal
		count int
	}
	byYear := make(map[int]*acc)
	for _, d := range debts {
		for _, inv := range d.Invoices {
			a, ok := byYear[inv.Period.Year]
			if !ok {
				a = &acc{total: decimal.Zero}
				byYear[inv.Period.Year] = a
			}
			a.total = a.total.Add(decimal.NewFromFloat(inv.DueAmount))
			a.count++
		}
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	out := make([]YearDebt, 0, len(years))
	for _, y := range years {
		out = append(out, YearDebt{Year: y, TotalDue: byYear[y].total.InexactFloat64(), InvoiceCount: byYear[y].count})
	}
	return out
}

// SummarizeByPeriodCount buckets customers by distinct owed periods. Counts at or
// above capAt fall into a single trailing bucket.
func SummarizeByPeriodCount(debts []CustomerDebt, capAt int) []PeriodCountDebt {
	if capAt < 2 {
		capAt = 2
	}
	totals := make([]decimal.Decimal, capAt+1)
	customers := make([]int, capAt+1)
	for i := range totals {
		totals[i] = decimal.Zero
	}
	for _, d := range debts {
		n := d.PeriodCount
		if n <= 0 {
			continue
		}
		if n > capAt {
			n = capAt
		}
		totals[n] = totals[n].Add(decimal.NewFromFloat(d.TotalDue))
		customers[n]++
	}
	out := make([]PeriodCountDebt, 0, capAt)
	for n := 1; n <= capAt; n++ {
		if customers[n] == 0 {
			continue
		}
		row := PeriodCountDebt{Periods: n, Label: strconv.Itoa(n), TotalDue: totals[n].InexactFloat64(), Customers: customers[n]}
		if n == capAt {
			row.OrMore = true
			row.Label = strconv.Itoa(n) + "+"
		}
		out = append(out, row)
	}
	return out
}
