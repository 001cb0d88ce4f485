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

const progressColumns = `username, sense_id, beginner, experienced, expert, updated_at`

// trackColumns maps tracks to their column; it is the only way a column name
// reaches the SQL text
var trackColumns = map[models.Track]string{
	models.TrackBeginner:    "beginner",
	models.TrackExperienced: "experienced",
	models.TrackExpert:      "expert",
}

// ErrUnknownTrack is returned for a track that has no column
var ErrUnknownTrack = errors.New("unknown track")

// ProgressRepository handles database operations for per-track progress
type ProgressRepository struct {
	db *sqlx.DB
}

// NewProgressRepository creates a new repository instance
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Get returns progress for a specific user and sense
func (r *ProgressRepository) Get(ctx context.Context, tx *sqlx.Tx, username, senseID string) (*models.ItemProgress, error) {
	q := pick(r.db, tx)
	var p models.ItemProgress
	err := sqlx.GetContext(ctx, q, &p,
		q.Rebind("SELECT "+progressColumns+" FROM item_progress WHERE username = ? AND sense_id = ?"),
		username, senseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &p, nil
}

// ApplyDelta adds delta to one track and clamps the result to [0, MaxTrackScore]
// in a single statement, creating the row when missing. Concurrent calls on the
// same row never lose an update. Returns the stored value.
func (r *ProgressRepository) ApplyDelta(ctx context.Context, tx *sqlx.Tx, username, senseID string, track models.Track, delta int, now time.Time) (int, error) {
	col, ok := trackColumns[track]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTrack, track)
	}
	initial := map[string]int{"beginner": 0, "experienced": 0, "expert": 0}
	initial[col] = clamp(delta, 0, models.MaxTrackScore)

	cur := "item_progress." + col
	query := `
		INSERT INTO item_progress (` + progressColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (username, sense_id) DO UPDATE SET
			` + col + ` = CASE
				WHEN ` + cur + ` + ? > ? THEN ?
				WHEN ` + cur + ` + ? < 0 THEN 0
				ELSE ` + cur + ` + ?
			END,
			updated_at = excluded.updated_at
		RETURNING ` + col

	q := pick(r.db, tx)
	var value int
	err := q.QueryRowxContext(ctx, q.Rebind(query),
		username, senseID, initial["beginner"], initial["experienced"], initial["expert"], now,
		delta, models.MaxTrackScore, models.MaxTrackScore,
		delta,
		delta,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to apply progress delta: %w", err)
	}
	return value, nil
}

// EnsureMany creates zero progress rows for the senses that have none
func (r *ProgressRepository) EnsureMany(ctx context.Context, tx *sqlx.Tx, username string, senseIDs []string, now time.Time) error {
	q := pick(r.db, tx)
	for _, chunk := range chunkStrings(senseIDs, maxInParams/3) {
		rows := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*3)
		for _, id := range chunk {
			rows = append(rows, "(?, ?, 0, 0, 0, ?)")
			args = append(args, username, id, now)
		}
		query := `INSERT INTO item_progress (` + progressColumns + `)
			VALUES ` + strings.Join(rows, ", ") + `
			ON CONFLICT (username, sense_id) DO NOTHING`
		if _, err := q.ExecContext(ctx, q.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to create progress rows: %w", err)
		}
	}
	return nil
}

// Put writes all three tracks of a progress row, inserting or overwriting it
func (r *ProgressRepository) Put(ctx context.Context, tx *sqlx.Tx, p *models.ItemProgress) error {
	q := pick(r.db, tx)
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO item_progress (`+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (username, sense_id) DO UPDATE SET
			beginner = excluded.beginner,
			experienced = excluded.experienced,
			expert = excluded.expert,
			updated_at = excluded.updated_at
	`), p.Username, p.SenseID, p.Beginner, p.Experienced, p.Expert, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put progress: %w", err)
	}
	return nil
}

// CountLearned returns how many of the given senses the user has learned.
// With no senses given it counts every learned sense of the user.
func (r *ProgressRepository) CountLearned(ctx context.Context, username string, senseIDs []string) (int, error) {
	base := "SELECT COUNT(*) FROM item_progress WHERE username = ? AND beginner = ? AND experienced = ?"
	if len(senseIDs) == 0 {
		var n int
		err := r.db.GetContext(ctx, &n, r.db.Rebind(base), username, models.MaxTrackScore, models.MaxTrackScore)
		if err != nil {
			return 0, fmt.Errorf("failed to count learned: %w", err)
		}
		return n, nil
	}
	total := 0
	for _, chunk := range chunkStrings(senseIDs, maxInParams) {
		query, args, err := sqlx.In(base+" AND sense_id IN (?)", username, models.MaxTrackScore, models.MaxTrackScore, chunk)
		if err != nil {
			return 0, err
		}
		var n int
		if err := r.db.GetContext(ctx, &n, r.db.Rebind(query), args...); err != nil {
			return 0, fmt.Errorf("failed to count learned: %w", err)
		}
		total += n
	}
	return total, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
