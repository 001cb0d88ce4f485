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

// CollectionRepository handles database operations for collections and enrollments
type CollectionRepository struct {
	db *sqlx.DB
}

// NewCollectionRepository creates a new repository instance
func NewCollectionRepository(db *sqlx.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// GetByID returns a collection by ID
func (r *CollectionRepository) GetByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Collection, error) {
	q := pick(r.db, tx)
	var c models.Collection
	err := sqlx.GetContext(ctx, q, &c, q.Rebind("SELECT id, lang, title FROM collections WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &c, nil
}

// ItemIDs returns the ids of the items in a collection that still resolve
func (r *CollectionRepository) ItemIDs(ctx context.Context, tx *sqlx.Tx, collectionID string) ([]string, error) {
	q := pick(r.db, tx)
	ids := []string{}
	err := sqlx.SelectContext(ctx, q, &ids, q.Rebind(`
		SELECT ci.item_id FROM collection_items ci
		JOIN items i ON i.id = ci.item_id
		WHERE ci.collection_id = ?
		ORDER BY COALESCE(i.frequency_rank, ?) ASC, ci.item_id ASC
	`), collectionID, noRank)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection items: %w", err)
	}
	return ids, nil
}

// Enroll starts a collection for a user. Reports false when the user was
// already enrolled, in which case nothing changes.
func (r *CollectionRepository) Enroll(ctx context.Context, tx *sqlx.Tx, username, collectionID string, now time.Time) (bool, error) {
	q := pick(r.db, tx)
	res, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO collection_enrollments (username, collection_id, started_at)
		VALUES (?, ?, ?)
		ON CONFLICT (username, collection_id) DO NOTHING
	`), username, collectionID, now)
	if err != nil {
		return false, fmt.Errorf("failed to enroll: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// GetEnrollment returns a user's enrollment in a collection
func (r *CollectionRepository) GetEnrollment(ctx context.Context, tx *sqlx.Tx, username, collectionID string) (*models.CollectionEnrollment, error) {
	q := pick(r.db, tx)
	var e models.CollectionEnrollment
	err := sqlx.GetContext(ctx, q, &e, q.Rebind(`
		SELECT username, collection_id, started_at, completed_at
		FROM collection_enrollments WHERE username = ? AND collection_id = ?
	`), username, collectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return &e, nil
}

// MarkCompleted stamps completed_at once; later calls are no-ops
func (r *CollectionRepository) MarkCompleted(ctx context.Context, username, collectionID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE collection_enrollments SET completed_at = ?
		WHERE username = ? AND collection_id = ? AND completed_at IS NULL
	`), now, username, collectionID)
	if err != nil {
		return false, fmt.Errorf("failed to complete collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// OpenEnrollmentsWith returns the collections the user is enrolled in, not
// yet completed, that contain the given sense
func (r *CollectionRepository) OpenEnrollmentsWith(ctx context.Context, username, senseID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
		SELECT e.collection_id FROM collection_enrollments e
		JOIN collection_items ci ON ci.collection_id = e.collection_id
		WHERE e.username = ? AND ci.item_id = ? AND e.completed_at IS NULL
		ORDER BY e.collection_id
	`), username, senseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get open enrollments: %w", err)
	}
	return ids, nil
}
