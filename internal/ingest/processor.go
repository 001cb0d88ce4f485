package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

// ApplyResult is stored as the result of a successful job
type ApplyResult struct {
	Applied  int              `json:"applied"`
	Deleted  int              `json:"deleted"`
	Skipped  int              `json:"skipped"`
	Version  int64            `json:"version"`
	Versions map[string]int64 `json:"versions"`
}

// Applier applies a claimed job to the item store
type Applier interface {
	Apply(ctx context.Context, job *models.SyncJob) (*ApplyResult, error)
}

// Processor applies batches to the item store
type Processor struct {
	db    *sqlx.DB
	items *database.ItemRepository
	log   *logger.Logger
	now   func() time.Time
}

// NewProcessor creates a processor over the given store
func NewProcessor(db *sqlx.DB, log *logger.Logger) *Processor {
	return &Processor{
		db:    db,
		items: database.NewItemRepository(db),
		log:   log.With("component", "ingest.processor"),
		now:   time.Now,
	}
}

// Apply writes every entry of the job in one transaction: items are upserted
// or deleted, their forms and collection memberships resynchronized, and the
// content version of each touched language bumped. Entries without an id are
// skipped.
func (p *Processor) Apply(ctx context.Context, job *models.SyncJob) (*ApplyResult, error) {
	payload, err := ParsePayload([]byte(job.Payload))
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()
	res := &ApplyResult{Versions: map[string]int64{}}

	err = database.WithTx(ctx, p.db, func(tx *sqlx.Tx) error {
		touched := map[string]bool{}
		for i, entry := range payload.Entries {
			id := strings.TrimSpace(entry.ID)
			lang := entry.Lang
			if lang == "" {
				lang = payload.Lang
			}
			if id == "" || lang == "" {
				p.log.Warn("skipping entry without id or lang", "request_id", job.RequestID, "index", i)
				res.Skipped++
				continue
			}

			if entry.Deleted {
				removed, err := p.items.Delete(ctx, tx, id)
				if err != nil {
					return err
				}
				if removed {
					res.Deleted++
					touched[lang] = true
				} else {
					res.Skipped++
				}
				continue
			}

			if err := p.upsert(ctx, tx, id, lang, entry, now); err != nil {
				return err
			}
			res.Applied++
			touched[lang] = true
		}

		langs := make([]string, 0, len(touched))
		for lang := range touched {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			v, err := p.items.BumpVersion(ctx, tx, lang, now)
			if err != nil {
				return err
			}
			res.Versions[lang] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply job %s: %w", job.RequestID, err)
	}
	res.Version = res.Versions[payload.Lang]
	p.log.Info("sync job applied",
		"request_id", job.RequestID,
		"applied", res.Applied,
		"deleted", res.Deleted,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (p *Processor) upsert(ctx context.Context, tx *sqlx.Tx, id, lang string, entry Entry, now time.Time) error {
	kind := entry.Kind
	if kind == "" {
		kind = models.KindSense
	}
	item := &models.Item{
		ID:            id,
		Lang:          lang,
		Kind:          kind,
		Lemma:         entry.Lemma,
		Level:         strings.ToUpper(strings.TrimSpace(entry.Level)),
		FrequencyRank: entry.FrequencyRank,
		Register:      entry.Register,
		Transcription: entry.Transcription,
		Payload:       string(entry.Raw()),
		UpdatedAt:     now,
	}
	if err := p.items.Upsert(ctx, tx, item); err != nil {
		return err
	}

	forms := make([]models.ItemForm, 0, len(entry.Forms))
	for _, f := range entry.Forms {
		if strings.TrimSpace(f.Form) == "" {
			continue
		}
		forms = append(forms, models.ItemForm{ItemID: id, Form: strings.TrimSpace(f.Form), Irregular: f.Irregular})
	}
	if err := p.items.ReplaceForms(ctx, tx, id, forms); err != nil {
		return err
	}
	return p.items.ReplaceMemberships(ctx, tx, id, lang, entry.Collections)
}
