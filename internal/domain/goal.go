package domain

import "time"

// GoalType determines what a goal counts.
type GoalType string

const (
	GoalTypeDailyCalls  GoalType = "daily_calls"
	GoalTypeWeeklyCalls GoalType = "weekly_calls"
	GoalTypeConversions GoalType = "conversions"
)

// Valid reports whether the goal type is known.
func (t GoalType) Valid() bool {
	switch t {
	case GoalTypeDailyCalls, GoalTypeWeeklyCalls, GoalTypeConversions:
		return true
	}
	return false
}

// GoalPeriod groups goals by window length.
type GoalPeriod string

const (
	GoalPeriodDaily  GoalPeriod = "daily"
	GoalPeriodWeekly GoalPeriod = "weekly"
)

// PeriodFor derives the period from the goal type.
func PeriodFor(t GoalType) GoalPeriod {
	if t == GoalTypeWeeklyCalls {
		return GoalPeriodWeekly
	}
	return GoalPeriodDaily
}

// Goal is a per-user productivity target for a time window.
type Goal struct {
	ID        string
	UserID    string
	Type      GoalType
	Period    GoalPeriod
	Target    int
	Achieved  int
	StartDate time.Time
	EndDate   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Covers reports whether asOf falls inside the goal window, bounds inclusive.
func (g *Goal) Covers(asOf time.Time) bool {
	return !asOf.Before(g.StartDate) && !asOf.After(g.EndDate)
}
