package models

import "time"

// Track is one of the three parallel mastery dimensions of a sense
type Track string

const (
	TrackBeginner    Track = "beginner"
	TrackExperienced Track = "experienced"
	TrackExpert      Track = "expert"
)

// MaxTrackScore is the upper bound of every track; the lower bound is 0
const MaxTrackScore = 100

// ItemProgress holds the per-track mastery scores of a learner for one sense
type ItemProgress struct {
	Username    string    `json:"username" db:"username"`
	SenseID     string    `json:"sense_id" db:"sense_id"`
	Beginner    int       `json:"beginner" db:"beginner"`
	Experienced int       `json:"experienced" db:"experienced"`
	Expert      int       `json:"expert" db:"expert"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// IsLearned reports whether both the beginner and experienced tracks are maxed out
func (p ItemProgress) IsLearned() bool {
	return p.Beginner == MaxTrackScore && p.Experienced == MaxTrackScore
}

// Phrase card types tracked by PhraseProgress
const (
	PhraseCollocation = "collocation"
	PhrasePattern     = "pattern"
	PhraseFormCard    = "form_card"
)

// PhraseProgress is the status of a collocation, pattern or derived-form card
type PhraseProgress struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	ItemType  string    `json:"item_type" db:"item_type"`
	ItemID    string    `json:"item_id" db:"item_id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
