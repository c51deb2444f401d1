package rental

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// FeePolicy prices late returns
type FeePolicy struct {
	// GraceDays is the number of whole days a book may be kept without charge
	GraceDays int
	// DailyFee is charged per whole day past the grace period
	DailyFee decimal.Decimal
}

// DefaultFeePolicy is a 7 day grace period and 50 per late day
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{GraceDays: 7, DailyFee: decimal.NewFromInt(50)}
}

// ElapsedDays counts whole days between rented and returned, rounding down
func ElapsedDays(rented, returned time.Time) int64 {
	d := returned.Sub(rented)
	days := int64(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}

// Assess settles a return. A record already marked OVERDUE, or one kept past
// the grace period, becomes UNPAID with a fee for each day beyond the grace
// period; anything else completes free of charge.
func (p FeePolicy) Assess(current RentStatus, rented, returned time.Time) (RentStatus, decimal.Decimal) {
	days := ElapsedDays(rented, returned)
	grace := int64(p.GraceDays)

	if current != StatusOverdue && days <= grace {
		return StatusCompleted, decimal.Zero
	}

	late := days - grace
	if late < 0 {
		late = 0
	}
	return StatusUnpaid, decimal.NewFromInt(late).Mul(p.DailyFee)
}

// OverdueCutoff is the latest rented_date that, at now, already owes a fee:
// a record rented at or before it has at least one whole day past grace.
func (p FeePolicy) OverdueCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(p.GraceDays+1) * day)
}
