package billing

import "github.com/shopspring/decimal"

// PaymentStatus is the outcome of one customer period.
type PaymentStatus string

const (
	StatusUnpaid     PaymentStatus = "unpaid"
	StatusPaidOnTime PaymentStatus = "paid_on_time"
	StatusPaidLate   PaymentStatus = "paid_late"
)

// CustomerPeriodStatus is the derived status of a customer for a period.
type CustomerPeriodStatus struct {
	CustomerID string        `json:"customer_id"`
	Period     Period        `json:"period"`
	Status     PaymentStatus `json:"status"`
}

// ClassificationBucket is a punctuality tier.
type ClassificationBucket string

const (
	BucketExcellent ClassificationBucket = "excellent"
	BucketGood      ClassificationBucket = "good"
	BucketAverage   ClassificationBucket = "average"
	BucketPoor      ClassificationBucket = "poor"
	BucketVeryPoor  ClassificationBucket = "very_poor"
)

// Buckets lists the tiers from best to worst.
var Buckets = []ClassificationBucket{BucketExcellent, BucketGood, BucketAverage, BucketPoor, BucketVeryPoor}

// BucketForRate maps an on-time rate to its tier.
func BucketForRate(rate float64) ClassificationBucket {
	switch {
	case rate >= 90:
		return BucketExcellent
	case rate >= 70:
		return BucketGood
	case rate >= 50:
		return BucketAverage
	case rate >= 30:
		return BucketPoor
	default:
		return BucketVeryPoor
	}
}

// OnTimeRate is onTime/total*100 rounded to 2 decimals and clamped to [0,100].
func OnTimeRate(onTime, total int) float64 {
	if total <= 0 || onTime <= 0 {
		return 0
	}
	if onTime >= total {
		return 100
	}
	rate := decimal.NewFromInt(int64(onTime)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(total)), 2)
	return rate.InexactFloat64()
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
