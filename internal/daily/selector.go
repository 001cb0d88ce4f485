// Package daily composes what a learner sees today: the due list, the new
// list and the hard word of the day.
package daily

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

// Config holds the selection limits
type Config struct {
	PageSize         int
	CandidatePool    int
	RepeatWindowDays int
	PhoneticMarkers  string
	Location         *time.Location
}

// HardWord is the persisted highlight with the item it points at. Item is
// nil when the item was deleted after the pick.
type HardWord struct {
	Highlight models.DailyHighlight `json:"highlight"`
	Item      *models.Item          `json:"item,omitempty"`
}

// TodayPack is everything shown to a learner for a language today
type TodayPack struct {
	DayKey    string           `json:"day_key"`
	Due       []models.DueItem `json:"due"`
	New       []models.Item    `json:"new"`
	HardOfDay *HardWord        `json:"hard_of_day"`
}

type pickMeta struct {
	Pool  int `json:"pool"`
	Index int `json:"index"`
}

// Selector builds today packs
type Selector struct {
	items      *database.ItemRepository
	saved      *database.SavedItemRepository
	highlights *database.HighlightRepository
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
}

// Option configures a Selector
type Option func(*Selector)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// NewSelector creates a selector over the given store
func NewSelector(db *sqlx.DB, cfg Config, log *logger.Logger, opts ...Option) *Selector {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Selector{
		items:      database.NewItemRepository(db),
		saved:      database.NewSavedItemRepository(db),
		highlights: database.NewHighlightRepository(db),
		cfg:        cfg,
		log:        log.With("component", "daily"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DayKey returns today's key in the configured location
func (s *Selector) DayKey() string {
	return models.DayKey(s.now(), s.cfg.Location)
}

// Today returns the due list, the new list and the hard word of the day
func (s *Selector) Today(ctx context.Context, username, lang string) (*TodayPack, error) {
	pack := &TodayPack{DayKey: s.DayKey()}
	var err error
	if pack.Due, err = s.saved.Due(ctx, username, lang, s.cfg.PageSize); err != nil {
		return nil, err
	}
	if pack.New, err = s.items.Unsaved(ctx, username, lang, s.cfg.PageSize); err != nil {
		return nil, err
	}
	if pack.HardOfDay, err = s.HardWordOfDay(ctx, username, lang); err != nil {
		return nil, err
	}
	return pack, nil
}

// HardWordOfDay returns the learner's hard word for today, picking and
// storing it on the first call of the day. Later calls return the stored pick
// even if the candidates changed. Returns nil when no candidate qualifies.
func (s *Selector) HardWordOfDay(ctx context.Context, username, lang string) (*HardWord, error) {
	now := s.now()
	dayKey := models.DayKey(now, s.cfg.Location)
	kind := models.HighlightHardWord

	h, err := s.highlights.Get(ctx, username, lang, dayKey, kind)
	if err == nil {
		return s.withItem(ctx, h)
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	candidates, err := s.candidates(ctx, username, lang, now)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	idx := PickIndex(Seed(username, lang, dayKey, kind), len(candidates))
	meta, _ := json.Marshal(pickMeta{Pool: len(candidates), Index: idx})
	stored, err := s.highlights.InsertIfAbsent(ctx, &models.DailyHighlight{
		Username:  username,
		Lang:      lang,
		DayKey:    dayKey,
		Kind:      kind,
		SenseID:   candidates[idx].ID,
		Meta:      string(meta),
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return nil, err
	}
	if !stored {
		s.log.Debug("hard word already picked by a concurrent call", "username", username, "lang", lang, "day", dayKey)
	}

	// re-read: a concurrent call may have won the insert
	h, err = s.highlights.Get(ctx, username, lang, dayKey, kind)
	if err != nil {
		return nil, err
	}
	return s.withItem(ctx, h)
}

// candidates returns the hard, not-known, not-recently-picked items among the
// most common ones, most common first
func (s *Selector) candidates(ctx context.Context, username, lang string, now time.Time) ([]models.Item, error) {
	top, err := s.items.TopByFrequency(ctx, lang, s.cfg.CandidatePool)
	if err != nil {
		return nil, err
	}
	known, err := s.saved.IDsWithStatus(ctx, username, models.StatusKnown)
	if err != nil {
		return nil, err
	}
	since := models.DayKey(now.AddDate(0, 0, -s.cfg.RepeatWindowDays), s.cfg.Location)
	recent, err := s.highlights.PickedSince(ctx, username, lang, models.HighlightHardWord, since)
	if err != nil {
		return nil, err
	}

	out := make([]models.Item, 0, len(top))
	for _, item := range top {
		if known[item.ID] || recent[item.ID] {
			continue
		}
		if IsHard(item, s.cfg.PhoneticMarkers) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Selector) withItem(ctx context.Context, h *models.DailyHighlight) (*HardWord, error) {
	hw := &HardWord{Highlight: *h}
	item, err := s.items.GetByID(ctx, nil, h.SenseID)
	if errors.Is(err, database.ErrNotFound) {
		return hw, nil
	}
	if err != nil {
		return nil, err
	}
	hw.Item = item
	return hw, nil
}
