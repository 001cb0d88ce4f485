package models

import "time"

// Item kinds stored in the item store
const (
	KindLemma       = "lemma"
	KindSense       = "sense"
	KindForm        = "form"
	KindCollocation = "collocation"
	KindPattern     = "pattern"
)

// Item is one row of the item store. The content pipeline owns it; the engine
// only reads ids and the derived scalar fields.
type Item struct {
	ID            string    `json:"id" db:"id"`
	Lang          string    `json:"lang" db:"lang"`
	Kind          string    `json:"kind" db:"kind"`
	Lemma         string    `json:"lemma" db:"lemma"`
	Level         string    `json:"level" db:"level"`                   // CEFR level, A1..C2
	FrequencyRank *int      `json:"frequency_rank" db:"frequency_rank"` // 1 = most common
	Register      string    `json:"register" db:"register"`             // e.g. "neutral", "formal"
	Transcription string    `json:"transcription" db:"transcription"`   // IPA
	HasIrregular  bool      `json:"has_irregular" db:"has_irregular"`
	Payload       string    `json:"-" db:"payload"` // flat representation as received
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ItemForm is an inflected form derived from an item's flat payload
type ItemForm struct {
	ItemID    string `json:"item_id" db:"item_id"`
	Form      string `json:"form" db:"form"`
	Irregular bool   `json:"irregular" db:"irregular"`
}
