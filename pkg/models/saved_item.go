package models

import "time"

// Saved item statuses
const (
	StatusQueue    = "queue"
	StatusLearning = "learning"
	StatusKnown    = "known"
	StatusHard     = "hard"
)

// Sources that create saved items
const (
	SourceManual     = "manual"
	SourceCollection = "collection"
	SourceGame       = "game"
	SourceLegacy     = "legacy"
)

// SavedItem records that a learner chose to study a sense
type SavedItem struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	SenseID   string    `json:"sense_id" db:"sense_id"`
	Status    string    `json:"status" db:"status"`
	Source    string    `json:"source" db:"source"`
	AddedAt   time.Time `json:"added_at" db:"added_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DueItem is a saved item joined with its progress, as shown in the today pack
type DueItem struct {
	SenseID     string    `json:"sense_id" db:"sense_id"`
	Lemma       string    `json:"lemma" db:"lemma"`
	Status      string    `json:"status" db:"status"`
	AddedAt     time.Time `json:"added_at" db:"added_at"`
	Beginner    int       `json:"beginner" db:"beginner"`
	Experienced int       `json:"experienced" db:"experienced"`
	Expert      int       `json:"expert" db:"expert"`
}
