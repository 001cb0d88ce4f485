package database

import (
	"context"
	"fmt"
	"time"

	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

const phraseColumns = `id, username, item_type, item_id, status, created_at, updated_at`

// PhraseProgressRepository handles database operations for collocation,
// pattern and form-card progress
type PhraseProgressRepository struct {
	db *sqlx.DB
}

// NewPhraseProgressRepository creates a new repository instance
func NewPhraseProgressRepository(db *sqlx.DB) *PhraseProgressRepository {
	return &PhraseProgressRepository{db: db}
}

// Upsert creates or updates the status of one phrase card and returns the row
func (r *PhraseProgressRepository) Upsert(ctx context.Context, username, itemType, itemID, status string, now time.Time) (*models.PhraseProgress, error) {
	var p models.PhraseProgress
	err := r.db.GetContext(ctx, &p, r.db.Rebind(`
		INSERT INTO phrase_progress (username, item_type, item_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (username, item_type, item_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
		RETURNING `+phraseColumns), username, itemType, itemID, status, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert phrase progress: %w", err)
	}
	return &p, nil
}

// List returns the phrase progress of a user, optionally for one item type
func (r *PhraseProgressRepository) List(ctx context.Context, username, itemType string) ([]models.PhraseProgress, error) {
	rows := []models.PhraseProgress{}
	query := "SELECT " + phraseColumns + " FROM phrase_progress WHERE username = ?"
	args := []interface{}{username}
	if itemType != "" {
		query += " AND item_type = ?"
		args = append(args, itemType)
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list phrase progress: %w", err)
	}
	return rows, nil
}
