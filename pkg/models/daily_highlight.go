package models

import "time"

// HighlightHardWord is the kind of the daily hard-word highlight
const HighlightHardWord = "hard_word"

// DailyHighlight is the deterministic pick shown to a learner on a calendar day
type DailyHighlight struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Lang      string    `json:"lang" db:"lang"`
	DayKey    string    `json:"day_key" db:"day_key"`
	Kind      string    `json:"kind" db:"kind"`
	SenseID   string    `json:"sense_id" db:"sense_id"`
	Meta      string    `json:"meta" db:"meta"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
