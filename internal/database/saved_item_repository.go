package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

const savedItemColumns = `id, username, sense_id, status, source, added_at, updated_at`

// SavedItemRepository handles database operations for saved items
type SavedItemRepository struct {
	db *sqlx.DB
}

// NewSavedItemRepository creates a new repository instance
func NewSavedItemRepository(db *sqlx.DB) *SavedItemRepository {
	return &SavedItemRepository{db: db}
}

// Get returns the saved item of a user for a sense
func (r *SavedItemRepository) Get(ctx context.Context, tx *sqlx.Tx, username, senseID string) (*models.SavedItem, error) {
	q := pick(r.db, tx)
	var item models.SavedItem
	err := sqlx.GetContext(ctx, q, &item,
		q.Rebind("SELECT "+savedItemColumns+" FROM saved_items WHERE username = ? AND sense_id = ?"),
		username, senseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saved item: %w", err)
	}
	return &item, nil
}

// InsertMany saves every sense in one statement per chunk, leaving existing
// rows untouched. Returns the number of rows actually inserted.
func (r *SavedItemRepository) InsertMany(ctx context.Context, tx *sqlx.Tx, username string, senseIDs []string, status, source string, now time.Time) (int64, error) {
	q := pick(r.db, tx)
	var inserted int64
	for _, chunk := range chunkStrings(senseIDs, maxInParams/6) {
		rows := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*6)
		for _, id := range chunk {
			rows = append(rows, "(?, ?, ?, ?, ?, ?)")
			args = append(args, username, id, status, source, now, now)
		}
		query := `INSERT INTO saved_items (username, sense_id, status, source, added_at, updated_at)
			VALUES ` + strings.Join(rows, ", ") + `
			ON CONFLICT (username, sense_id) DO NOTHING`
		res, err := q.ExecContext(ctx, q.Rebind(query), args...)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert saved items: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += n
	}
	return inserted, nil
}

// UpdateStatus sets the status of an existing saved item. Reports false when
// there is no row for (username, senseID).
func (r *SavedItemRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, username, senseID, status string, now time.Time) (bool, error) {
	q := pick(r.db, tx)
	res, err := q.ExecContext(ctx,
		q.Rebind("UPDATE saved_items SET status = ?, updated_at = ? WHERE username = ? AND sense_id = ?"),
		status, now, username, senseID)
	if err != nil {
		return false, fmt.Errorf("failed to update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateStatusMany sets the status of every listed saved item with one UPDATE per chunk
func (r *SavedItemRepository) UpdateStatusMany(ctx context.Context, tx *sqlx.Tx, username string, senseIDs []string, status string, now time.Time) (int64, error) {
	q := pick(r.db, tx)
	var updated int64
	for _, chunk := range chunkStrings(senseIDs, maxInParams) {
		query, args, err := sqlx.In(
			"UPDATE saved_items SET status = ?, updated_at = ? WHERE username = ? AND sense_id IN (?)",
			status, now, username, chunk)
		if err != nil {
			return updated, err
		}
		res, err := q.ExecContext(ctx, q.Rebind(query), args...)
		if err != nil {
			return updated, fmt.Errorf("failed to update statuses: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return updated, fmt.Errorf("failed to get rows affected: %w", err)
		}
		updated += n
	}
	return updated, nil
}

// HasTrackedRows reports whether the user has any saved item or progress row
func (r *SavedItemRepository) HasTrackedRows(ctx context.Context, tx *sqlx.Tx, username string) (bool, error) {
	q := pick(r.db, tx)
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`
		SELECT
			(SELECT COUNT(*) FROM saved_items WHERE username = ?) +
			(SELECT COUNT(*) FROM item_progress WHERE username = ?)
	`), username, username)
	if err != nil {
		return false, fmt.Errorf("failed to check tracked rows: %w", err)
	}
	return n > 0, nil
}

// IDsWithStatus returns the sense ids the user has in the given status
func (r *SavedItemRepository) IDsWithStatus(ctx context.Context, username, status string) (map[string]bool, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		r.db.Rebind("SELECT sense_id FROM saved_items WHERE username = ? AND status = ?"), username, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s items: %w", status, err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// CountByStatus returns the number of saved items per status
func (r *SavedItemRepository) CountByStatus(ctx context.Context, username string) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	err := r.db.SelectContext(ctx, &rows,
		r.db.Rebind("SELECT status, COUNT(*) AS n FROM saved_items WHERE username = ? GROUP BY status"), username)
	if err != nil {
		return nil, fmt.Errorf("failed to count saved items: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Due returns the user's not-yet-known items in a language, weakest first,
// then most recently saved
func (r *SavedItemRepository) Due(ctx context.Context, username, lang string, limit int) ([]models.DueItem, error) {
	items := []models.DueItem{}
	query := `
		SELECT s.sense_id, i.lemma, s.status, s.added_at,
			COALESCE(p.beginner, 0) AS beginner,
			COALESCE(p.experienced, 0) AS experienced,
			COALESCE(p.expert, 0) AS expert
		FROM saved_items s
		JOIN items i ON i.id = s.sense_id
		LEFT JOIN item_progress p ON p.username = s.username AND p.sense_id = s.sense_id
		WHERE s.username = ? AND s.status <> ? AND i.lang = ?
		ORDER BY (COALESCE(p.beginner, 0) + COALESCE(p.experienced, 0)) ASC,
			s.added_at DESC,
			s.sense_id ASC
		LIMIT ?
	`
	err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), username, models.StatusKnown, lang, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due items: %w", err)
	}
	return items, nil
}
