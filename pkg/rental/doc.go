// Package rental implements the book rental state machine.
//
// A book cycles AVAILABLE -> RENTED -> AVAILABLE. Each cycle is one rent
// record that starts IN_PROGRESS and ends COMPLETED, or UNPAID when the book
// came back late. OVERDUE is set from outside the request path by
// Service.MarkOverdue, which cmd/rentshelf-overdue runs on a schedule.
//
// CreateRent and ReturnBook each write the book and the rent record in one
// transaction. The book row is read FOR UPDATE first, and a partial unique
// index on rent_history allows a single non-COMPLETED record per book, so
// two concurrent rents of the same book cannot both succeed.
//
// Late fees are computed by FeePolicy:
//
//	days := floor((returned - rented) / 24h)
//	fee  := max(0, days - GraceDays) * DailyFee   // when OVERDUE or days > GraceDays
//
// Fees are decimal.Decimal amounts stored as NUMERIC(10,2). Direct edits
// through Service.Update are administrative, never recompute fees and round
// a supplied fee to the cent.
package rental
