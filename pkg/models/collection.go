package models

import "time"

// Collection is a curated set of items
type Collection struct {
	ID    string `json:"id" db:"id"`
	Lang  string `json:"lang" db:"lang"`
	Title string `json:"title" db:"title"`
}

// CollectionEnrollment is a learner's state in a collection
type CollectionEnrollment struct {
	Username     string     `json:"username" db:"username"`
	CollectionID string     `json:"collection_id" db:"collection_id"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at" db:"completed_at"`
}
