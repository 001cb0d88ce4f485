package models

import "time"

// ActiveDayRecord is the streak bookkeeping row of a learner
type ActiveDayRecord struct {
	Username       string    `json:"username" db:"username"`
	LastActiveDate string    `json:"last_active_date" db:"last_active_date"` // YYYY-MM-DD, server-local
	StreakDays     int       `json:"streak_days" db:"streak_days"`
	MaxStreak      int       `json:"max_streak" db:"max_streak"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DayKeyLayout is the layout of calendar-day keys
const DayKeyLayout = "2006-01-02"

// DayKey returns the calendar day of t in loc as YYYY-MM-DD
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayKeyLayout)
}
