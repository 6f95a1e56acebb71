package integration_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"billing-recon/internal/billing/application"
	billing "billing-recon/internal/billing/domain"
)

func punctualityIDs(rows []application.CustomerPunctuality) []string {
	return customerIDs(rows, func(r application.CustomerPunctuality) string { return r.CustomerID })
}

func TestPunctuality_EndToEnd(t *testing.T) {
	svc := newFixture().service(t)
	result, err := svc.GetPunctualityAnalysis(context.Background(), firstQuarter(), application.PunctualityFilters{})
	if err != nil {
		t.Fatalf("punctuality: %v", err)
	}
	if fmt.Sprint(punctualityIDs(result.Customers)) != "[C1 C2 C3 C4 C5 C6]" {
		t.Fatalf("unexpected customers %v", punctualityIDs(result.Customers))
	}
	if len(result.Details) != 6*3 {
		t.Fatalf("expected one status per customer period, got %d", len(result.Details))
	}

	byID := make(map[string]application.CustomerPunctuality)
	for _, c := range result.Customers {
		byID[c.CustomerID] = c
		if c.Rate < 0 || c.Rate > 100 {
			t.Fatalf("rate out of bounds for %s: %v", c.CustomerID, c.Rate)
		}
	}
	if c := byID["C1"]; c.OnTime != 1 || c.Unpaid != 2 || c.Rate != 33.33 || c.Bucket != billing.BucketPoor {
		t.Fatalf("unexpected C1 %+v", c)
	}
	if c := byID["C6"]; c.Rate != 100 || c.Bucket != billing.BucketExcellent {
		t.Fatalf("unexpected C6 %+v", c)
	}
	if c := byID["C3"]; c.Unpaid != 3 || c.Bucket != billing.BucketVeryPoor {
		t.Fatalf("unexpected C3 %+v", c)
	}
	if result.Summary.Customers != 6 || result.Summary.Periods != 3 || result.Summary.MaxRate != 100 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
}

func TestPunctuality_BucketFilter(t *testing.T) {
	svc := newFixture().service(t)
	result, err := svc.GetPunctualityAnalysis(context.Background(), firstQuarter(), application.PunctualityFilters{
		Buckets: []billing.ClassificationBucket{billing.BucketExcellent},
	})
	if err != nil {
		t.Fatalf("punctuality: %v", err)
	}
	if fmt.Sprint(punctualityIDs(result.Customers)) != "[C6]" {
		t.Fatalf("expected only C6, got %v", punctualityIDs(result.Customers))
	}
}

func TestPunctuality_RouteFilterAndIdempotence(t *testing.T) {
	svc := newFixture().service(t)
	filters := application.PunctualityFilters{RowFilter: application.RowFilter{RouteBatch: "02"}}
	first, err := svc.GetPunctualityAnalysis(context.Background(), firstQuarter(), filters)
	if err != nil {
		t.Fatalf("punctuality: %v", err)
	}
	if fmt.Sprint(punctualityIDs(first.Customers)) != "[C1 C2]" {
		t.Fatalf("unexpected customers %v", punctualityIDs(first.Customers))
	}
	second, err := svc.GetPunctualityAnalysis(context.Background(), firstQuarter(), filters)
	if err != nil {
		t.Fatalf("punctuality: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated run differs (-first +second):\n%s", diff)
	}
}

func TestPunctuality_InvalidRange(t *testing.T) {
	svc := newFixture().service(t)
	rng := billing.PeriodRange{From: billing.Period{Month: 4, Year: 2024}, To: billing.Period{Month: 3, Year: 2024}}
	if _, err := svc.GetPunctualityAnalysis(context.Background(), rng, application.PunctualityFilters{}); !errors.Is(err, billing.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestDebtSummary_EndToEnd(t *testing.T) {
	svc := newFixture().service(t)
	result, err := svc.GetYearlyAndPeriodCountDebtSummary(context.Background(), application.SummaryFilters{
		Range:      firstQuarter(),
		Thresholds: &application.Thresholds{MinPeriods: 2},
	})
	if err != nil {
		t.Fatalf("debt summary: %v", err)
	}
	if len(result.ByYear) != 1 || result.ByYear[0].Year != 2024 || result.ByYear[0].TotalDue != 600 || result.ByYear[0].InvoiceCount != 7 {
		t.Fatalf("unexpected yearly summary %+v", result.ByYear)
	}
	want := []application.PeriodCountDebt{
		{Label: "2", Periods: 2, TotalDue: 300, Customers: 2},
		{Label: "3", Periods: 3, TotalDue: 300, Customers: 1},
	}
	if diff := cmp.Diff(want, result.ByPeriodCount); diff != "" {
		t.Fatalf("unexpected period-count summary (-want +got):\n%s", diff)
	}
	if result.Customers != 3 || result.TotalDue != 600 || result.Shutoff.ExcludedByShutoff != 1 {
		t.Fatalf("unexpected totals %+v", result)
	}
}

func TestDebtSummary_SkipShutoff(t *testing.T) {
	svc := newFixture().service(t)
	result, err := svc.GetYearlyAndPeriodCountDebtSummary(context.Background(), application.SummaryFilters{
		Range:       firstQuarter(),
		Thresholds:  &application.Thresholds{MinPeriods: 2},
		SkipShutoff: true,
	})
	if err != nil {
		t.Fatalf("debt summary: %v", err)
	}
	if result.Customers != 4 || result.TotalDue != 760 {
		t.Fatalf("expected locked customer kept, got %+v", result)
	}
}

func TestWeeklyCollections(t *testing.T) {
	svc := newFixture().service(t)
	result, err := svc.GetWeeklyCollectionReport(context.Background(), application.CollectionParams{
		From: day(2024, time.January, 15),
		To:   day(2024, time.January, 31),
	})
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	want := []application.WeeklyCollection{
		{WeekStart: day(2024, time.January, 15), WeekEnd: day(2024, time.January, 21), Invoices: 1, Customers: 1, Amount: 100, OnTime: 1},
		{WeekStart: day(2024, time.January, 22), WeekEnd: day(2024, time.January, 28), Invoices: 1, Customers: 1, Amount: 40, OnTime: 1},
	}
	if diff := cmp.Diff(want, result.Weeks); diff != "" {
		t.Fatalf("unexpected weeks (-want +got):\n%s", diff)
	}
	if result.Amount != 140 || result.Customers != 2 || result.Invoices != 2 {
		t.Fatalf("unexpected totals %+v", result)
	}
}

func TestWeeklyCollections_LateSettlement(t *testing.T) {
	f := newFixture()
	f.bank.Confirm(billing.SettlementRecord{InvoiceRef: "C2-01", ConfirmedDate: day(2024, time.February, 6)})
	result, err := f.service(t).GetWeeklyCollectionReport(context.Background(), application.CollectionParams{
		From: day(2024, time.February, 5),
		To:   day(2024, time.February, 11),
	})
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	if len(result.Weeks) != 1 {
		t.Fatalf("expected one week, got %+v", result.Weeks)
	}
	week := result.Weeks[0]
	if week.Invoices != 2 || week.Late != 1 || week.OnTime != 1 || week.Amount != 90 {
		t.Fatalf("unexpected week %+v", week)
	}
}

func TestWeeklyCollections_Validation(t *testing.T) {
	svc := newFixture().service(t)
	_, err := svc.GetWeeklyCollectionReport(context.Background(), application.CollectionParams{
		From: day(2024, time.February, 5),
		To:   day(2024, time.January, 5),
	})
	if !errors.Is(err, billing.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := svc.GetWeeklyCollectionReport(context.Background(), application.CollectionParams{}); !billing.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
