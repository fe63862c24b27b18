// Package schedule derives quarterly-review dates and urgency tiers for
// client contact schedules. Everything here is pure: callers inject the
// current time and all dates are computed from UTC calendar fields so the
// results do not depend on the server's local timezone.
package schedule

import (
	"math"
	"time"
)

// Display thresholds used across the app.
const (
	LastContactThresholdDays = 30
	FaceToFaceThresholdDays  = 90
	FaceToFaceDueWindowDays  = 15
)

// Review is one of the four scheduled quarterly reviews.
type Review struct {
	Label string
	Date  time.Time
}

var quarterLabels = [4]string{"1st Quarter", "2nd Quarter", "3rd Quarter", "4th Quarter"}

// QuarterlyReviews computes the four review dates anchored on the annual
// assessment month. Q1-Q3 fall on the 1st of month+3/+6/+9. Q4 falls on the
// LAST day of the month immediately preceding the assessment month, so it
// lands just before the next annual assessment; the asymmetry is intentional.
func QuarterlyReviews(annual time.Time) [4]Review {
	year, month, _ := annual.UTC().Date()

	var out [4]Review
	for i, offset := range [3]int{3, 6, 9} {
		m := int(month) - 1 + offset
		out[i] = Review{
			Label: quarterLabels[i],
			Date:  time.Date(year+m/12, time.Month(m%12+1), 1, 0, 0, 0, 0, time.UTC),
		}
	}
	// Day zero of the assessment month normalizes to the last day of the
	// month before it, including the December-of-prior-year wrap.
	out[3] = Review{
		Label: quarterLabels[3],
		Date:  time.Date(year, month, 0, 0, 0, 0, 0, time.UTC),
	}
	return out
}

// ClientSchedule is the scheduling view of a client record.
type ClientSchedule struct {
	Annual    time.Time
	Completed [4]bool
	Overrides [4]*time.Time
}

// NextDue returns the index of the next due quarter and its effective date.
// The next due quarter is the first incomplete one in order; when all four
// are complete the cycle restarts at the first quarter. The effective date
// is the explicit per-quarter override when set, otherwise the calculated
// date.
func NextDue(cs ClientSchedule) (int, time.Time) {
	idx := 0
	for i, done := range cs.Completed {
		if !done {
			idx = i
			break
		}
	}
	if override := cs.Overrides[idx]; override != nil {
		return idx, *override
	}
	return idx, QuarterlyReviews(cs.Annual)[idx].Date
}

// Urgency orders display tiers from unknown (no event recorded) through
// critical (overdue). Higher values are more urgent.
type Urgency int

const (
	UrgencyUnknown Urgency = iota
	UrgencyNominal
	UrgencyLow
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyNominal:
		return "nominal"
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifyElapsed tiers an event by how much of the threshold has elapsed
// since it happened: 100% or more is critical, then 80/60/40% bands down to
// nominal. A zero event time means nothing was ever recorded.
func ClassifyElapsed(now, event time.Time, thresholdDays int) Urgency {
	if event.IsZero() {
		return UrgencyUnknown
	}
	days := int(math.Floor(now.Sub(event).Hours() / 24))
	threshold := float64(thresholdDays)
	switch {
	case days >= thresholdDays:
		return UrgencyCritical
	case float64(days) >= threshold*0.8:
		return UrgencyHigh
	case float64(days) >= threshold*0.6:
		return UrgencyMedium
	case float64(days) >= threshold*0.4:
		return UrgencyLow
	default:
		return UrgencyNominal
	}
}

// ClassifyUpcoming tiers a future due date by how close it is: due or past
// due is critical, then within 20/40/60% of the threshold window.
func ClassifyUpcoming(now, due time.Time, thresholdDays int) Urgency {
	days := int(math.Ceil(due.Sub(now).Hours() / 24))
	threshold := float64(thresholdDays)
	switch {
	case days <= 0:
		return UrgencyCritical
	case float64(days) <= threshold*0.2:
		return UrgencyHigh
	case float64(days) <= threshold*0.4:
		return UrgencyMedium
	case float64(days) <= threshold*0.6:
		return UrgencyLow
	default:
		return UrgencyNominal
	}
}

// NextFaceToFaceDue is the date the next face-to-face contact is due, one
// threshold window after the last one.
func NextFaceToFaceDue(lastFaceToFace time.Time) time.Time {
	return lastFaceToFace.AddDate(0, 0, FaceToFaceThresholdDays)
}
