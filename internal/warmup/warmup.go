// Package warmup computes the send rate a campaign is allowed at its age.
//
// The ramp is a day-indexed table: each day of campaign age unlocks a higher
// hourly rate, and volume already delivered can pull the campaign forward to
// the day whose cumulative volume it has matched. The result never exceeds
// the configured ceiling or the campaign's own size.
package warmup

import (
	"time"
)

// Step is the hourly rate allowed from Day onward (1-based).
type Step struct {
	Day     int
	PerHour int
}

// DefaultSchedule ramps over 30 days. Rates double roughly every few days,
// the same shape used for IP warmup.
var DefaultSchedule = []Step{
	{1, 50}, {3, 100}, {5, 250}, {8, 500},
	{11, 1000}, {15, 2500}, {19, 5000},
	{23, 10000}, {27, 25000},
}

// DefaultMaxPerHour is the steady-state ceiling when none is configured.
const DefaultMaxPerHour = 5000

// Calculator maps campaign age and history to emails/hour.
type Calculator struct {
	schedule   []Step
	maxPerHour int
	lastDay    int
}

// NewCalculator builds a Calculator. A nil or empty schedule uses
// DefaultSchedule, and maxPerHour <= 0 uses DefaultMaxPerHour. Steps must be
// sorted by Day with non-decreasing rates.
func NewCalculator(schedule []Step, maxPerHour int) *Calculator {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}
	return &Calculator{
		schedule:   schedule,
		maxPerHour: maxPerHour,
		lastDay:    schedule[len(schedule)-1].Day,
	}
}

// Day returns the 1-based warmup day for a campaign started at startedAt.
// Campaigns that have not started are on day 1.
func Day(startedAt *time.Time, now time.Time) int {
	if startedAt == nil || now.Before(*startedAt) {
		return 1
	}
	return int(now.Sub(*startedAt).Hours()/24) + 1
}

// EmailsPerHour returns the allowed rate. It is non-decreasing in campaign
// age and bounded by the ceiling and by totalContacts when that is positive.
func (c *Calculator) EmailsPerHour(totalContacts, sentContacts int, startedAt *time.Time, now time.Time) int {
	day := Day(startedAt, now)
	if hd := c.historyDay(sentContacts); hd > day {
		day = hd
	}

	rate := c.rateForDay(day)
	if rate > c.maxPerHour {
		rate = c.maxPerHour
	}
	if totalContacts > 0 && rate > totalContacts {
		rate = totalContacts
	}
	return rate
}

// State is the warmup view of one campaign for status screens.
type State struct {
	CampaignID    string `json:"campaignId"`
	Day           int    `json:"day"`
	EmailsPerHour int    `json:"emailsPerHour"`
	Manual        bool   `json:"manual"`
	AtCeiling     bool   `json:"atCeiling"`
}

// StateFor reports the effective rate, honouring a manual override.
func (c *Calculator) StateFor(campaignID string, manual *int, totalContacts, sentContacts int, startedAt *time.Time, now time.Time) State {
	s := State{CampaignID: campaignID, Day: Day(startedAt, now)}
	if manual != nil && *manual > 0 {
		s.EmailsPerHour = *manual
		s.Manual = true
		return s
	}
	s.EmailsPerHour = c.EmailsPerHour(totalContacts, sentContacts, startedAt, now)
	s.AtCeiling = s.EmailsPerHour >= c.maxPerHour
	return s
}

func (c *Calculator) rateForDay(day int) int {
	rate := c.schedule[0].PerHour
	for _, st := range c.schedule {
		if day < st.Day {
			break
		}
		rate = st.PerHour
	}
	return rate
}

// historyDay is the first day whose cumulative 24h volume exceeds sent.
func (c *Calculator) historyDay(sent int) int {
	if sent <= 0 {
		return 1
	}
	cumulative := 0
	for day := 1; day <= c.lastDay; day++ {
		cumulative += c.rateForDay(day) * 24
		if cumulative > sent {
			return day
		}
	}
	return c.lastDay
}
