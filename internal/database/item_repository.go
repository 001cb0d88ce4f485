package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

const itemColumns = `id, lang, kind, lemma, level, frequency_rank, register, transcription, has_irregular, payload, updated_at`

// noRank sorts items without a frequency rank after every ranked item
const noRank = 2147483647

// ItemRepository handles database operations for the item store
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository creates a new repository instance
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// GetByID returns an item by ID
func (r *ItemRepository) GetByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Item, error) {
	q := pick(r.db, tx)
	var item models.Item
	err := sqlx.GetContext(ctx, q, &item, q.Rebind("SELECT "+itemColumns+" FROM items WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by ID: %w", err)
	}
	return &item, nil
}

// ExistingIDs returns the subset of ids that resolve to an item, in one query
func (r *ItemRepository) ExistingIDs(ctx context.Context, tx *sqlx.Tx, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	q := pick(r.db, tx)
	for _, chunk := range chunkStrings(ids, maxInParams) {
		query, args, err := sqlx.In("SELECT id FROM items WHERE id IN (?)", chunk)
		if err != nil {
			return nil, err
		}
		var rows []string
		if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to resolve item ids: %w", err)
		}
		for _, id := range rows {
			found[id] = true
		}
	}
	return found, nil
}

// TopByFrequency returns the most common senses of a language, most common first
func (r *ItemRepository) TopByFrequency(ctx context.Context, lang string, limit int) ([]models.Item, error) {
	items := []models.Item{}
	query := `
		SELECT ` + itemColumns + ` FROM items
		WHERE lang = ? AND kind = ?
		ORDER BY COALESCE(frequency_rank, ?) ASC, id ASC
		LIMIT ?
	`
	err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), lang, models.KindSense, noRank, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top items: %w", err)
	}
	return items, nil
}

// Unsaved returns senses of a language the user hasn't saved yet, most common first
func (r *ItemRepository) Unsaved(ctx context.Context, username, lang string, limit int) ([]models.Item, error) {
	items := []models.Item{}
	query := `
		SELECT ` + itemColumns + ` FROM items i
		WHERE i.lang = ? AND i.kind = ?
		AND NOT EXISTS (
			SELECT 1 FROM saved_items s WHERE s.username = ? AND s.sense_id = i.id
		)
		ORDER BY COALESCE(i.frequency_rank, ?) ASC, i.id ASC
		LIMIT ?
	`
	err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), lang, models.KindSense, username, noRank, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsaved items: %w", err)
	}
	return items, nil
}

// Upsert inserts an item or replaces its flat fields
func (r *ItemRepository) Upsert(ctx context.Context, tx *sqlx.Tx, item *models.Item) error {
	q := pick(r.db, tx)
	query := `
		INSERT INTO items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			lang = excluded.lang,
			kind = excluded.kind,
			lemma = excluded.lemma,
			level = excluded.level,
			frequency_rank = excluded.frequency_rank,
			register = excluded.register,
			transcription = excluded.transcription,
			has_irregular = excluded.has_irregular,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, q.Rebind(query),
		item.ID,
		item.Lang,
		item.Kind,
		item.Lemma,
		item.Level,
		item.FrequencyRank,
		item.Register,
		item.Transcription,
		item.HasIrregular,
		item.Payload,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	return nil
}

// Delete removes an item together with its derived rows. Learner rows that
// reference it are kept; they simply stop resolving.
func (r *ItemRepository) Delete(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	q := pick(r.db, tx)
	for _, stmt := range []string{
		"DELETE FROM item_forms WHERE item_id = ?",
		"DELETE FROM collection_items WHERE item_id = ?",
	} {
		if _, err := q.ExecContext(ctx, q.Rebind(stmt), id); err != nil {
			return false, fmt.Errorf("failed to delete derived rows of %s: %w", id, err)
		}
	}
	res, err := q.ExecContext(ctx, q.Rebind("DELETE FROM items WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ReplaceForms resynchronizes item_forms for one item and the item's
// has_irregular flag
func (r *ItemRepository) ReplaceForms(ctx context.Context, tx *sqlx.Tx, itemID string, forms []models.ItemForm) error {
	q := pick(r.db, tx)
	if _, err := q.ExecContext(ctx, q.Rebind("DELETE FROM item_forms WHERE item_id = ?"), itemID); err != nil {
		return fmt.Errorf("failed to clear forms of %s: %w", itemID, err)
	}
	irregular := false
	for _, f := range forms {
		_, err := q.ExecContext(ctx, q.Rebind(`
			INSERT INTO item_forms (item_id, form, irregular) VALUES (?, ?, ?)
			ON CONFLICT (item_id, form) DO UPDATE SET irregular = excluded.irregular
		`), itemID, f.Form, f.Irregular)
		if err != nil {
			return fmt.Errorf("failed to insert form %q of %s: %w", f.Form, itemID, err)
		}
		irregular = irregular || f.Irregular
	}
	_, err := q.ExecContext(ctx, q.Rebind("UPDATE items SET has_irregular = ? WHERE id = ?"), irregular, itemID)
	if err != nil {
		return fmt.Errorf("failed to update irregular flag of %s: %w", itemID, err)
	}
	return nil
}

// Forms returns the derived forms of an item
func (r *ItemRepository) Forms(ctx context.Context, itemID string) ([]models.ItemForm, error) {
	forms := []models.ItemForm{}
	err := r.db.SelectContext(ctx, &forms,
		r.db.Rebind("SELECT item_id, form, irregular FROM item_forms WHERE item_id = ? ORDER BY form"), itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get forms: %w", err)
	}
	return forms, nil
}

// ReplaceMemberships resynchronizes the collections an item belongs to
func (r *ItemRepository) ReplaceMemberships(ctx context.Context, tx *sqlx.Tx, itemID, lang string, collectionIDs []string) error {
	q := pick(r.db, tx)
	if _, err := q.ExecContext(ctx, q.Rebind("DELETE FROM collection_items WHERE item_id = ?"), itemID); err != nil {
		return fmt.Errorf("failed to clear memberships of %s: %w", itemID, err)
	}
	for _, cid := range collectionIDs {
		_, err := q.ExecContext(ctx, q.Rebind(`
			INSERT INTO collections (id, lang, title) VALUES (?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`), cid, lang, cid)
		if err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", cid, err)
		}
		_, err = q.ExecContext(ctx, q.Rebind(`
			INSERT INTO collection_items (collection_id, item_id) VALUES (?, ?)
			ON CONFLICT (collection_id, item_id) DO NOTHING
		`), cid, itemID)
		if err != nil {
			return fmt.Errorf("failed to add %s to collection %s: %w", itemID, cid, err)
		}
	}
	return nil
}

// BumpVersion increments the content version of a language and returns the new value
func (r *ItemRepository) BumpVersion(ctx context.Context, tx *sqlx.Tx, lang string, now time.Time) (int64, error) {
	q := pick(r.db, tx)
	var version int64
	err := q.QueryRowxContext(ctx, q.Rebind(`
		INSERT INTO content_versions (lang, version, updated_at) VALUES (?, 1, ?)
		ON CONFLICT (lang) DO UPDATE SET
			version = content_versions.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`), lang, now).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to bump content version: %w", err)
	}
	return version, nil
}

// Version returns the current content version of a language, 0 when never bumped
func (r *ItemRepository) Version(ctx context.Context, lang string) (int64, error) {
	var version int64
	err := r.db.GetContext(ctx, &version, r.db.Rebind("SELECT version FROM content_versions WHERE lang = ?"), lang)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get content version: %w", err)
	}
	return version, nil
}
