// Package progress tracks each learner's status and per-track mastery for the
// senses they study, plus the phrase and collection variants.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

var (
	ErrInvalidTrack       = errors.New("invalid track")
	ErrInvalidItemType    = errors.New("invalid item type")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrEmptyID            = errors.New("empty id")
	ErrUnknownSense       = errors.New("unknown sense")
)

var validStatuses = map[string]bool{
	models.StatusQueue:    true,
	models.StatusLearning: true,
	models.StatusKnown:    true,
	models.StatusHard:     true,
}

var validPhraseTypes = map[string]bool{
	models.PhraseCollocation: true,
	models.PhrasePattern:     true,
	models.PhraseFormCard:    true,
}

// NormalizeStatus maps a status string onto the known set; anything unknown
// becomes queue
func NormalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if validStatuses[s] {
		return s
	}
	return models.StatusQueue
}

// ParseTrack validates a track name
func ParseTrack(s string) (models.Track, error) {
	t := models.Track(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case models.TrackBeginner, models.TrackExperienced, models.TrackExpert:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTrack, s)
}

// Tracker is the personal state service
type Tracker struct {
	db          *sqlx.DB
	items       *database.ItemRepository
	saved       *database.SavedItemRepository
	progress    *database.ProgressRepository
	phrases     *database.PhraseProgressRepository
	collections *database.CollectionRepository
	legacy      *database.LegacyRepository
	log         *logger.Logger
	now         func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker over the given store
func NewTracker(db *sqlx.DB, log *logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		db:          db,
		items:       database.NewItemRepository(db),
		saved:       database.NewSavedItemRepository(db),
		progress:    database.NewProgressRepository(db),
		phrases:     database.NewPhraseProgressRepository(db),
		collections: database.NewCollectionRepository(db),
		legacy:      database.NewLegacyRepository(db),
		log:         log.With("component", "progress"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) clock() time.Time {
	return t.now().UTC()
}

// SetStatus changes the status of an item the user already saved. Unknown
// statuses are stored as queue. Reports false and writes nothing when the
// user has no row for the sense.
func (t *Tracker) SetStatus(ctx context.Context, username, senseID, status string) (bool, error) {
	return t.saved.UpdateStatus(ctx, nil, username, senseID, NormalizeStatus(status), t.clock())
}

// SaveItem creates the saved item when missing and then sets its status.
// An id that doesn't resolve to an item is dropped with a warning and
// reported as false.
func (t *Tracker) SaveItem(ctx context.Context, username, senseID, status, source string) (bool, error) {
	if strings.TrimSpace(senseID) == "" {
		return false, ErrEmptyID
	}
	status = NormalizeStatus(status)
	if source == "" {
		source = models.SourceManual
	}
	now := t.clock()

	err := database.WithTx(ctx, t.db, func(tx *sqlx.Tx) error {
		found, err := t.items.ExistingIDs(ctx, tx, []string{senseID})
		if err != nil {
			return err
		}
		if !found[senseID] {
			return errUnresolved
		}
		inserted, err := t.saved.InsertMany(ctx, tx, username, []string{senseID}, status, source, now)
		if err != nil {
			return err
		}
		if inserted == 0 {
			if _, err := t.saved.UpdateStatus(ctx, tx, username, senseID, status, now); err != nil {
				return err
			}
		}
		return t.progress.EnsureMany(ctx, tx, username, []string{senseID}, now)
	})
	if errors.Is(err, errUnresolved) {
		t.log.Warn("dropping unresolved sense id", "username", username, "sense_id", senseID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var errUnresolved = errors.New("unresolved id")

// UpdateTrackProgress moves one track of a sense up by one when correct,
// down by one otherwise, clamped to [0, 100]. The read-modify-write is a
// single statement, so concurrent updates of the same row are never lost.
// An id that doesn't resolve to an item writes nothing and returns
// ErrUnknownSense. A sense that becomes learned completes the user's
// collections it finishes.
func (t *Tracker) UpdateTrackProgress(ctx context.Context, username, senseID string, track models.Track, correct bool) (int, error) {
	if _, err := ParseTrack(string(track)); err != nil {
		return 0, err
	}
	if strings.TrimSpace(senseID) == "" {
		return 0, ErrEmptyID
	}
	delta := -1
	if correct {
		delta = 1
	}
	var value int
	err := database.WithTx(ctx, t.db, func(tx *sqlx.Tx) error {
		found, err := t.items.ExistingIDs(ctx, tx, []string{senseID})
		if err != nil {
			return err
		}
		if !found[senseID] {
			return errUnresolved
		}
		value, err = t.progress.ApplyDelta(ctx, tx, username, senseID, track, delta, t.clock())
		return err
	})
	switch {
	case errors.Is(err, errUnresolved):
		t.log.Warn("dropping progress for unresolved sense id", "username", username, "sense_id", senseID, "track", track)
		return 0, fmt.Errorf("%w: %q", ErrUnknownSense, senseID)
	case errors.Is(err, database.ErrUnknownTrack):
		return 0, fmt.Errorf("%w: %q", ErrInvalidTrack, track)
	case err != nil:
		return 0, err
	}

	if correct && value == models.MaxTrackScore && track != models.TrackExpert {
		t.completeCollections(ctx, username, senseID)
	}
	return value, nil
}

// completeCollections refreshes the open enrollments that contain a sense
// once it is learned. Failures are logged; the progress update stands.
func (t *Tracker) completeCollections(ctx context.Context, username, senseID string) {
	learned, err := t.IsLearned(ctx, username, senseID)
	if err != nil {
		t.log.Warn("failed to check learned sense", "username", username, "sense_id", senseID, "error", err)
		return
	}
	if !learned {
		return
	}
	collectionIDs, err := t.collections.OpenEnrollmentsWith(ctx, username, senseID)
	if err != nil {
		t.log.Warn("failed to list open enrollments", "username", username, "sense_id", senseID, "error", err)
		return
	}
	for _, id := range collectionIDs {
		done, err := t.RefreshCollectionCompletion(ctx, username, id)
		if err != nil {
			t.log.Warn("failed to refresh collection completion", "username", username, "collection_id", id, "error", err)
			continue
		}
		if done {
			t.log.Info("collection completed", "username", username, "collection_id", id)
		}
	}
}

// Progress returns the track scores of a sense; zero scores when untracked
func (t *Tracker) Progress(ctx context.Context, username, senseID string) (models.ItemProgress, error) {
	p, err := t.progress.Get(ctx, nil, username, senseID)
	if errors.Is(err, database.ErrNotFound) {
		return models.ItemProgress{Username: username, SenseID: senseID}, nil
	}
	if err != nil {
		return models.ItemProgress{}, err
	}
	return *p, nil
}

// IsLearned reports whether the beginner and experienced tracks are both full
func (t *Tracker) IsLearned(ctx context.Context, username, senseID string) (bool, error) {
	p, err := t.Progress(ctx, username, senseID)
	if err != nil {
		return false, err
	}
	return p.IsLearned(), nil
}

// AddResult reports what AddMany did
type AddResult struct {
	Requested int      `json:"requested"`
	Added     int64    `json:"added"`
	Skipped   []string `json:"skipped"`
}

// AddMany saves a batch of senses set-based: ids are deduplicated, resolved
// in one query, and inserted with one statement per chunk. Unresolved ids are
// skipped with a warning; ids the user already saved are left untouched.
func (t *Tracker) AddMany(ctx context.Context, username string, senseIDs []string, status, source string) (AddResult, error) {
	var result AddResult
	err := database.WithTx(ctx, t.db, func(tx *sqlx.Tx) error {
		var err error
		result, err = t.addMany(ctx, tx, username, senseIDs, status, source)
		return err
	})
	return result, err
}

func (t *Tracker) addMany(ctx context.Context, tx *sqlx.Tx, username string, senseIDs []string, status, source string) (AddResult, error) {
	ids := dedupe(senseIDs)
	result := AddResult{Requested: len(ids), Skipped: []string{}}
	if len(ids) == 0 {
		return result, nil
	}
	if source == "" {
		source = models.SourceManual
	}
	now := t.clock()

	found, err := t.items.ExistingIDs(ctx, tx, ids)
	if err != nil {
		return result, err
	}
	resolved := make([]string, 0, len(ids))
	for _, id := range ids {
		if found[id] {
			resolved = append(resolved, id)
		} else {
			result.Skipped = append(result.Skipped, id)
		}
	}
	if len(result.Skipped) > 0 {
		t.log.Warn("skipping unresolved sense ids", "username", username, "count", len(result.Skipped), "ids", result.Skipped)
	}

	result.Added, err = t.saved.InsertMany(ctx, tx, username, resolved, NormalizeStatus(status), source, now)
	if err != nil {
		return result, err
	}
	if err := t.progress.EnsureMany(ctx, tx, username, resolved, now); err != nil {
		return result, err
	}
	return result, nil
}

// SetStatusMany sets one status on many saved items with a single UPDATE per
// chunk. Returns how many rows changed.
func (t *Tracker) SetStatusMany(ctx context.Context, username string, senseIDs []string, status string) (int64, error) {
	ids := dedupe(senseIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	return t.saved.UpdateStatusMany(ctx, nil, username, ids, NormalizeStatus(status), t.clock())
}

// SetPhraseStatus stores the status of a collocation, pattern or form card
func (t *Tracker) SetPhraseStatus(ctx context.Context, username, itemType, itemID, status string) (*models.PhraseProgress, error) {
	if !validPhraseTypes[itemType] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidItemType, itemType)
	}
	if strings.TrimSpace(itemID) == "" {
		return nil, ErrEmptyID
	}
	return t.phrases.Upsert(ctx, username, itemType, itemID, NormalizeStatus(status), t.clock())
}

// PhraseProgress lists the phrase cards of a user; an empty itemType lists all
func (t *Tracker) PhraseProgress(ctx context.Context, username, itemType string) ([]models.PhraseProgress, error) {
	if itemType != "" && !validPhraseTypes[itemType] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidItemType, itemType)
	}
	return t.phrases.List(ctx, username, itemType)
}

// EnrollResult reports what EnrollCollection did
type EnrollResult struct {
	Enrolled bool      `json:"enrolled"`
	Added    AddResult `json:"added"`
}

// EnrollCollection starts a collection for a user and saves every sense in it.
// Re-enrolling a started collection changes nothing.
func (t *Tracker) EnrollCollection(ctx context.Context, username, collectionID string) (EnrollResult, error) {
	var result EnrollResult
	err := database.WithTx(ctx, t.db, func(tx *sqlx.Tx) error {
		if _, err := t.collections.GetByID(ctx, tx, collectionID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
			}
			return err
		}
		inserted, err := t.collections.Enroll(ctx, tx, username, collectionID, t.clock())
		if err != nil || !inserted {
			return err
		}
		result.Enrolled = true
		ids, err := t.collections.ItemIDs(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		result.Added, err = t.addMany(ctx, tx, username, ids, models.StatusQueue, models.SourceCollection)
		return err
	})
	if err != nil {
		return EnrollResult{}, err
	}
	if result.Enrolled {
		t.log.Info("collection enrolled", "username", username, "collection_id", collectionID, "added", result.Added.Added)
	}
	return result, nil
}

// RefreshCollectionCompletion stamps the enrollment completed once every
// sense of the collection is learned. Reports whether it was stamped now.
func (t *Tracker) RefreshCollectionCompletion(ctx context.Context, username, collectionID string) (bool, error) {
	ids, err := t.collections.ItemIDs(ctx, nil, collectionID)
	if err != nil || len(ids) == 0 {
		return false, err
	}
	learned, err := t.progress.CountLearned(ctx, username, ids)
	if err != nil {
		return false, err
	}
	if learned < len(ids) {
		return false, nil
	}
	return t.collections.MarkCompleted(ctx, username, collectionID, t.clock())
}

// MigrationResult reports what MigrateLegacy did
type MigrationResult struct {
	Migrated bool     `json:"migrated"`
	Reason   string   `json:"reason,omitempty"`
	Saved    int64    `json:"saved"`
	Progress int      `json:"progress"`
	Dropped  []string `json:"dropped"`
}

// MigrateLegacy backfills the tracker from the user's flat legacy list.
// A user with any saved item or progress row counts as migrated, so calling
// it again is a no-op.
func (t *Tracker) MigrateLegacy(ctx context.Context, username string) (MigrationResult, error) {
	result := MigrationResult{Dropped: []string{}}
	now := t.clock()

	err := database.WithTx(ctx, t.db, func(tx *sqlx.Tx) error {
		tracked, err := t.saved.HasTrackedRows(ctx, tx, username)
		if err != nil {
			return err
		}
		if tracked {
			result.Reason = "already migrated"
			return nil
		}
		list, err := t.legacy.Get(ctx, tx, username)
		if errors.Is(err, database.ErrNotFound) {
			result.Reason = "no legacy list"
			return nil
		}
		if err != nil {
			return err
		}

		values := map[string]json.RawMessage{}
		if list.Progress != "" {
			if err := json.Unmarshal([]byte(list.Progress), &values); err != nil {
				t.log.Warn("ignoring malformed legacy progress", "username", username, "error", err)
				values = map[string]json.RawMessage{}
			}
		}
		ids := decodeLegacyIDs(list.SavedIDs)
		progressIDs := make([]string, 0, len(values))
		for id := range values {
			progressIDs = append(progressIDs, id)
		}
		sort.Strings(progressIDs)
		ids = dedupe(append(ids, progressIDs...))

		found, err := t.items.ExistingIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		resolved := make([]string, 0, len(ids))
		for _, id := range ids {
			if found[id] {
				resolved = append(resolved, id)
			} else {
				result.Dropped = append(result.Dropped, id)
			}
		}

		result.Saved, err = t.saved.InsertMany(ctx, tx, username, resolved, models.StatusQueue, models.SourceLegacy, now)
		if err != nil {
			return err
		}
		if err := t.progress.EnsureMany(ctx, tx, username, resolved, now); err != nil {
			return err
		}
		for _, id := range progressIDs {
			if !found[id] {
				continue
			}
			p := DecodeLegacyProgress(values[id]).Normalize(username, id, now)
			if err := t.progress.Put(ctx, tx, &p); err != nil {
				return err
			}
			result.Progress++
		}
		result.Migrated = true
		return nil
	})
	if err != nil {
		return MigrationResult{}, err
	}
	if len(result.Dropped) > 0 {
		t.log.Warn("dropped unresolved legacy ids", "username", username, "count", len(result.Dropped))
	}
	if result.Migrated {
		t.log.Info("legacy list migrated", "username", username, "saved", result.Saved, "progress", result.Progress)
	}
	return result, nil
}

// Summary is a learner's totals
type Summary struct {
	ByStatus map[string]int `json:"by_status"`
	Learned  int            `json:"learned"`
}

// Summary counts saved items by status and learned senses
func (t *Tracker) Summary(ctx context.Context, username string) (Summary, error) {
	counts, err := t.saved.CountByStatus(ctx, username)
	if err != nil {
		return Summary{}, err
	}
	for status := range validStatuses {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}
	learned, err := t.progress.CountLearned(ctx, username, nil)
	if err != nil {
		return Summary{}, err
	}
	return Summary{ByStatus: counts, Learned: learned}, nil
}

// dedupe drops empty and repeated ids, keeping first-seen order
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
