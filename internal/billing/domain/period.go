package billing

import (
	"fmt"
	"time"
)

// Period is a billing month.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// NewPeriod validates and builds a period.
func NewPeriod(month, year int) (Period, error) {
	p := Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate checks month and year bounds.
func (p Period) Validate() error {
	if p.Year == 0 {
		return NewValidationError("year", "is required")
	}
	if p.Month == 0 {
		return NewValidationError("month", "is required")
	}
	if p.Month < 1 || p.Month > 12 {
		return NewValidationError("month", "must be between 1 and 12")
	}
	if p.Year < 1900 || p.Year > 9999 {
		return NewValidationError("year", "out of range")
	}
	return nil
}

// Key orders periods as year*100+month.
func (p Period) Key() int { return p.Year*100 + p.Month }

// Before reports whether p is strictly earlier than other.
func (p Period) Before(other Period) bool { return p.Key() < other.Key() }

// Next returns the following month, wrapping December into January.
func (p Period) Next() Period {
	if p.Month >= 12 {
		return Period{Month: 1, Year: p.Year + 1}
	}
	return Period{Month: p.Month + 1, Year: p.Year}
}

// Start is the first day of the period at midnight UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End is the last day of the period at midnight UTC.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Contains reports whether the calendar day of t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	day := truncateDay(t)
	return !day.Before(p.Start()) && !day.After(p.End())
}

func (p Period) String() string { return fmt.Sprintf("%02d/%04d", p.Month, p.Year) }

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// PeriodRange is an inclusive sequence of periods.
type PeriodRange struct {
	From Period `json:"from"`
	To   Period `json:"to"`
}

// NewPeriodRange validates and builds a range.
func NewPeriodRange(fromMonth, fromYear, toMonth, toYear int) (PeriodRange, error) {
	r := PeriodRange{
		From: Period{Month: fromMonth, Year: fromYear},
		To:   Period{Month: toMonth, Year: toYear},
	}
	if err := r.Validate(); err != nil {
		return PeriodRange{}, err
	}
	return r, nil
}

// SinglePeriod builds a one-period range.
func SinglePeriod(p Period) PeriodRange { return PeriodRange{From: p, To: p} }

// Validate checks both ends and their order.
func (r PeriodRange) Validate() error {
	if err := r.From.Validate(); err != nil {
		ve := err.(*ValidationError)
		ve.Field = "from_" + ve.Field
		return ve
	}
	if err := r.To.Validate(); err != nil {
		ve := err.(*ValidationError)
		ve.Field = "to_" + ve.Field
		return ve
	}
	if r.To.Before(r.From) {
		return &ValidationError{Field: "range", Reason: fmt.Sprintf("%s is after %s", r.From, r.To), Err: ErrInvalidRange}
	}
	return nil
}

// IsZero reports whether no bound was set.
func (r PeriodRange) IsZero() bool { return r.From == (Period{}) && r.To == (Period{}) }

// Contains reports whether p lies inside the range.
func (r PeriodRange) Contains(p Period) bool {
	return p.Key() >= r.From.Key() && p.Key() <= r.To.Key()
}

// Periods enumerates the range in chronological order.
func (r PeriodRange) Periods() []Period {
	if r.To.Before(r.From) {
		return nil
	}
	var out []Period
	for p := r.From; p.Key() <= r.To.Key(); p = p.Next() {
		out = append(out, p)
	}
	return out
}

// Len returns the number of periods in the range.
func (r PeriodRange) Len() int {
	if r.To.Before(r.From) {
		return 0
	}
	return (r.To.Year-r.From.Year)*12 + r.To.Month - r.From.Month + 1
}

func (r PeriodRange) String() string { return r.From.String() + "-" + r.To.String() }

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
