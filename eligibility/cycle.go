/*
cycle.go - Renewal-cycle boundary arithmetic

PURPOSE:
  Computes which renewal cycle contains a given instant. Cycles are
  anchored at the employee's joining date and repeat every N months;
  they are NOT calendar-month-aligned. Cycle k spans:

    [joining + k*N months, joining + (k+1)*N months)

  The end bound is exclusive: an order placed exactly at a cycle
  boundary belongs to the NEW cycle.

PURITY:
  Everything here is a pure function of its inputs. In particular, a
  cycle whose remaining days reach zero is NOT reset here - expiry is
  only ever reported to the caller, and resetting consumption is a
  deliberate external event (admin action or scheduled job).

EDGE CASES:
  - asOf before the joining date: reports cycle 0 starting at the
    joining date. There are no negative cycle indexes.
  - Month addition follows time.AddDate semantics: Oct 31 + 6 months
    normalizes past the short month (consistent for both bounds, so
    cycles stay contiguous).
*/
package eligibility

import "time"

// =============================================================================
// CYCLE - One renewal window
// =============================================================================

// Cycle is a half-open renewal window [Start, End).
type Cycle struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Index int       `json:"index"` // 0-based, counted from the joining date

	// Carried so Next can re-anchor at the joining date. Recovering the
	// length from (Start, End) is lossy: AddDate normalizes month-end
	// anchors (Oct 31 + 6 months = May 1), which inflates the apparent
	// span and would drift every window after the first.
	anchor       time.Time
	lengthMonths int
}

// Contains reports whether t falls inside the cycle. The start is
// inclusive, the end exclusive.
func (c Cycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// Next returns the cycle immediately following this one. Both bounds
// are computed from the original anchor, never from the normalized
// Start/End of this window.
func (c Cycle) Next() Cycle {
	k := c.Index + 1
	return Cycle{
		Start:        c.anchor.AddDate(0, k*c.lengthMonths, 0),
		End:          c.anchor.AddDate(0, (k+1)*c.lengthMonths, 0),
		Index:        k,
		anchor:       c.anchor,
		lengthMonths: c.lengthMonths,
	}
}

// DaysRemaining returns the count of whole days left in the cycle at
// asOf, rounding partial days up and clamping at zero. Zero signals
// "cycle expired, reset pending" - the caller decides what to do.
func (c Cycle) DaysRemaining(asOf time.Time) int {
	remaining := c.End.Sub(asOf)
	if remaining <= 0 {
		return 0
	}
	const day = 24 * time.Hour
	days := int(remaining / day)
	if remaining%day != 0 {
		days++
	}
	return days
}

// =============================================================================
// CYCLE CALCULATOR
// =============================================================================

// CycleFor returns the cycle containing asOf, anchored at dateOfJoining
// and repeating every cycleLengthMonths months.
//
// cycleLengthMonths < 1 is treated as 1 so a corrupt rule can never
// divide by zero or loop.
func CycleFor(dateOfJoining time.Time, cycleLengthMonths int, asOf time.Time) Cycle {
	if cycleLengthMonths < 1 {
		cycleLengthMonths = 1
	}

	anchor := dateOfJoining.UTC()
	asOf = asOf.UTC()

	if asOf.Before(anchor) {
		return Cycle{
			Start:        anchor,
			End:          anchor.AddDate(0, cycleLengthMonths, 0),
			Index:        0,
			anchor:       anchor,
			lengthMonths: cycleLengthMonths,
		}
	}

	// Estimate the cycle index from elapsed calendar months, then walk
	// to the exact window. AddDate month normalization means the
	// estimate can be off by one in either direction, never more.
	elapsed := monthsElapsed(anchor, asOf)
	k := elapsed / cycleLengthMonths

	start := anchor.AddDate(0, k*cycleLengthMonths, 0)
	for start.After(asOf) && k > 0 {
		k--
		start = anchor.AddDate(0, k*cycleLengthMonths, 0)
	}
	for {
		end := anchor.AddDate(0, (k+1)*cycleLengthMonths, 0)
		if asOf.Before(end) {
			return Cycle{
				Start:        start,
				End:          end,
				Index:        k,
				anchor:       anchor,
				lengthMonths: cycleLengthMonths,
			}
		}
		k++
		start = end
	}
}

// CycleForEmployee resolves the cycle for an employee and category,
// applying the joining-date fallback and cycle-length resolution order
// (override, rule, category default).
func CycleForEmployee(emp Employee, c Category, rule *EligibilityRule, asOf time.Time) Cycle {
	return CycleFor(emp.JoiningDate(), emp.CycleMonthsFor(c, rule), asOf)
}

// monthsElapsed counts whole calendar months from a to b (a <= b).
func monthsElapsed(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if months > 0 && b.Day() < a.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
