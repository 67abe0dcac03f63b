// Package progress turns work counters into a percentage and an ETA.
package progress

import (
	"math"
	"time"
)

// Estimate is a point-in-time view of a unit of work. ETA fields are nil when
// there is not enough information to project.
type Estimate struct {
	Percentage       int        `json:"percentage"`
	ETA              *time.Time `json:"etaTimestamp"`
	RemainingSeconds *float64   `json:"remainingSeconds"`
	ElapsedSeconds   *float64   `json:"elapsedSeconds"`
}

// Percentage is round(processed/total*100) capped at 100, or 0 when total is 0.
func Percentage(total, processed int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(processed) / float64(total) * 100))
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// Calculate projects completion from the observed rate since startedAt.
func Calculate(total, processed int, startedAt *time.Time, now time.Time) Estimate {
	e := Estimate{Percentage: Percentage(total, processed)}
	if startedAt == nil || processed <= 0 || total <= 0 {
		return e
	}

	elapsed := now.Sub(*startedAt).Seconds()
	e.ElapsedSeconds = &elapsed
	if elapsed <= 0 {
		return e
	}
	rate := float64(processed) / elapsed
	if rate <= 0 {
		return e
	}
	project(&e, float64(max(0, total-processed))/rate, now)
	return e
}

// CalculateAtRate projects completion from a fixed hourly rate instead of an
// observed one. Campaign estimates use the warmup or manual send rate.
func CalculateAtRate(total, processed int, perHour int, startedAt *time.Time, now time.Time) Estimate {
	e := Estimate{Percentage: Percentage(total, processed)}
	if startedAt != nil {
		elapsed := now.Sub(*startedAt).Seconds()
		e.ElapsedSeconds = &elapsed
	}
	if total <= 0 || perHour <= 0 {
		return e
	}
	project(&e, float64(max(0, total-processed))*3600/float64(perHour), now)
	return e
}

func project(e *Estimate, remaining float64, now time.Time) {
	eta := now.Add(time.Duration(remaining * float64(time.Second)))
	e.RemainingSeconds = &remaining
	e.ETA = &eta
}
