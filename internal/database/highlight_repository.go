package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

const highlightColumns = `id, username, lang, day_key, kind, sense_id, meta, created_at`

// HighlightRepository handles database operations for daily highlights
type HighlightRepository struct {
	db *sqlx.DB
}

// NewHighlightRepository creates a new repository instance
func NewHighlightRepository(db *sqlx.DB) *HighlightRepository {
	return &HighlightRepository{db: db}
}

// Get returns the highlight stored for (user, lang, day, kind)
func (r *HighlightRepository) Get(ctx context.Context, username, lang, dayKey, kind string) (*models.DailyHighlight, error) {
	var h models.DailyHighlight
	err := r.db.GetContext(ctx, &h, r.db.Rebind(`
		SELECT `+highlightColumns+` FROM daily_highlights
		WHERE username = ? AND lang = ? AND day_key = ? AND kind = ?
	`), username, lang, dayKey, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get highlight: %w", err)
	}
	return &h, nil
}

// InsertIfAbsent writes h unless a highlight already exists for its key.
// Reports whether this call's row was the one stored.
func (r *HighlightRepository) InsertIfAbsent(ctx context.Context, h *models.DailyHighlight) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO daily_highlights (username, lang, day_key, kind, sense_id, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (username, lang, day_key, kind) DO NOTHING
	`), h.Username, h.Lang, h.DayKey, h.Kind, h.SenseID, h.Meta, h.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert highlight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// PickedSince returns the senses picked for the user on or after sinceDayKey
func (r *HighlightRepository) PickedSince(ctx context.Context, username, lang, kind, sinceDayKey string) (map[string]bool, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
		SELECT sense_id FROM daily_highlights
		WHERE username = ? AND lang = ? AND kind = ? AND day_key >= ?
	`), username, lang, kind, sinceDayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent highlights: %w", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}
