package progress

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/database/dbtest"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTracker(t *testing.T, ids ...string) (*Tracker, *sqlx.DB) {
	t.Helper()
	db := dbtest.Open(t)
	items := database.NewItemRepository(db)
	for i, id := range ids {
		rank := i + 1
		require.NoError(t, items.Upsert(context.Background(), nil, &models.Item{
			ID: id, Lang: "de", Kind: models.KindSense, Lemma: id, FrequencyRank: &rank,
			Payload: "{}", UpdatedAt: fixedNow,
		}))
	}
	return NewTracker(db, logger.Nop(), WithClock(func() time.Time { return fixedNow })), db
}

func TestNormalizeStatus(t *testing.T) {
	require.Equal(t, models.StatusKnown, NormalizeStatus(" Known "))
	require.Equal(t, models.StatusHard, NormalizeStatus("hard"))
	require.Equal(t, models.StatusQueue, NormalizeStatus("mastered"))
	require.Equal(t, models.StatusQueue, NormalizeStatus(""))
}

func TestSetStatusIsNoOpWithoutRow(t *testing.T) {
	ctx := context.Background()
	tr, db := newTracker(t, "s1")

	changed, err := tr.SetStatus(ctx, "ana", "s1", models.StatusKnown)
	require.NoError(t, err)
	require.False(t, changed)

	_, err = database.NewSavedItemRepository(db).Get(ctx, nil, "ana", "s1")
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestSaveItemThenSetStatus(t *testing.T) {
	ctx := context.Background()
	tr, db := newTracker(t, "s1")

	saved, err := tr.SaveItem(ctx, "ana", "s1", "learning", "")
	require.NoError(t, err)
	require.True(t, saved)

	changed, err := tr.SetStatus(ctx, "ana", "s1", "bogus")
	require.NoError(t, err)
	require.True(t, changed)

	item, err := database.NewSavedItemRepository(db).Get(ctx, nil, "ana", "s1")
	require.NoError(t, err)
	require.Equal(t, models.StatusQueue, item.Status)
	require.Equal(t, models.SourceManual, item.Source)

	// saving again sets the status on the existing row
	_, err = tr.SaveItem(ctx, "ana", "s1", models.StatusHard, models.SourceGame)
	require.NoError(t, err)
	item, err = database.NewSavedItemRepository(db).Get(ctx, nil, "ana", "s1")
	require.NoError(t, err)
	require.Equal(t, models.StatusHard, item.Status)
}

func TestSaveItemDropsUnresolvedID(t *testing.T) {
	tr, _ := newTracker(t)
	saved, err := tr.SaveItem(context.Background(), "ana", "ghost", models.StatusQueue, "")
	require.NoError(t, err)
	require.False(t, saved)
}

func TestUpdateTrackProgressStaysInBounds(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, "s1")
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 400; i++ {
		v, err := tr.UpdateTrackProgress(ctx, "ana", "s1", models.TrackExpert, rng.Intn(3) > 0)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, 0)
		require.LessOrEqual(t, v, models.MaxTrackScore)
	}

	for i := 0; i < 150; i++ {
		_, err := tr.UpdateTrackProgress(ctx, "ana", "s1", models.TrackExpert, false)
		require.NoError(t, err)
	}
	p, err := tr.Progress(ctx, "ana", "s1")
	require.NoError(t, err)
	require.Zero(t, p.Expert)
}

func TestUpdateTrackProgressRejectsUnknownTrack(t *testing.T) {
	tr, _ := newTracker(t, "s1")
	_, err := tr.UpdateTrackProgress(context.Background(), "ana", "s1", models.Track("guru"), true)
	require.ErrorIs(t, err, ErrInvalidTrack)
}

func TestUpdateTrackProgressDropsUnresolvedID(t *testing.T) {
	ctx := context.Background()
	tr, db := newTracker(t, "s1")

	_, err := tr.UpdateTrackProgress(ctx, "ana", "no-such-sense", models.TrackBeginner, true)
	require.ErrorIs(t, err, ErrUnknownSense)
	_, err = database.NewProgressRepository(db).Get(ctx, nil, "ana", "no-such-sense")
	require.ErrorIs(t, err, database.ErrNotFound)

	// the stray event must not mark the user as migrated
	require.NoError(t, database.NewLegacyRepository(db).Put(ctx, &database.LegacyList{
		Username: "ana",
		SavedIDs: `["s1"]`,
		Progress: `{"s1": 40}`,
	}))
	res, err := tr.MigrateLegacy(ctx, "ana")
	require.NoError(t, err)
	require.True(t, res.Migrated)
	require.EqualValues(t, 1, res.Saved)

	p, err := tr.Progress(ctx, "ana", "s1")
	require.NoError(t, err)
	require.Equal(t, 40, p.Beginner)
}

func TestUpdateTrackProgressConcurrent(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, "s1")

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.UpdateTrackProgress(ctx, "ana", "s1", models.TrackBeginner, true)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := tr.Progress(ctx, "ana", "s1")
	require.NoError(t, err)
	require.Equal(t, 30, p.Beginner)
}

func TestIsLearned(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, "s1")

	learned, err := tr.IsLearned(ctx, "ana", "s1")
	require.NoError(t, err)
	require.False(t, learned)

	for i := 0; i < models.MaxTrackScore; i++ {
		_, err := tr.UpdateTrackProgress(ctx, "ana", "s1", models.TrackBeginner, true)
		require.NoError(t, err)
	}
	learned, err = tr.IsLearned(ctx, "ana", "s1")
	require.NoError(t, err)
	require.False(t, learned)

	for i := 0; i < models.MaxTrackScore; i++ {
		_, err := tr.UpdateTrackProgress(ctx, "ana", "s1", models.TrackExperienced, true)
		require.NoError(t, err)
	}
	learned, err = tr.IsLearned(ctx, "ana", "s1")
	require.NoError(t, err)
	require.True(t, learned)
}

func TestAddManyDedupesAndSkips(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, "s1", "s2", "s3")

	res, err := tr.AddMany(ctx, "ana", []string{"s1", "s2", "s1", "", "ghost"}, models.StatusQueue, "")
	require.NoError(t, err)
	require.Equal(t, 3, res.Requested)
	require.EqualValues(t, 2, res.Added)
	require.Equal(t, []string{"ghost"}, res.Skipped)

	res, err = tr.AddMany(ctx, "ana", []string{"s2", "s3"}, models.StatusQueue, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Added)

	n, err := tr.SetStatusMany(ctx, "ana", []string{"s1", "s3", "ghost"}, models.StatusKnown)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	sum, err := tr.Summary(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 2, sum.ByStatus[models.StatusKnown])
	require.Equal(t, 1, sum.ByStatus[models.StatusQueue])
	require.Zero(t, sum.ByStatus[models.StatusHard])
}

func TestSetPhraseStatus(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)

	_, err := tr.SetPhraseStatus(ctx, "ana", "idiom", "p1", models.StatusKnown)
	require.ErrorIs(t, err, ErrInvalidItemType)

	p, err := tr.SetPhraseStatus(ctx, "ana", models.PhraseCollocation, "c1", models.StatusLearning)
	require.NoError(t, err)
	require.Equal(t, models.StatusLearning, p.Status)

	p2, err := tr.SetPhraseStatus(ctx, "ana", models.PhraseCollocation, "c1", models.StatusKnown)
	require.NoError(t, err)
	require.Equal(t, p.ID, p2.ID)

	list, err := tr.PhraseProgress(ctx, "ana", models.PhraseCollocation)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.StatusKnown, list[0].Status)
}

func TestEnrollCollectionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tr, db := newTracker(t, "s1", "s2")
	items := database.NewItemRepository(db)
	require.NoError(t, items.ReplaceMemberships(ctx, nil, "s1", "de", []string{"basics"}))
	require.NoError(t, items.ReplaceMemberships(ctx, nil, "s2", "de", []string{"basics"}))

	res, err := tr.EnrollCollection(ctx, "ana", "basics")
	require.NoError(t, err)
	require.True(t, res.Enrolled)
	require.EqualValues(t, 2, res.Added.Added)

	// re-enrolling must not touch the learner's own changes
	_, err = tr.SetStatus(ctx, "ana", "s1", models.StatusHard)
	require.NoError(t, err)

	res, err = tr.EnrollCollection(ctx, "ana", "basics")
	require.NoError(t, err)
	require.False(t, res.Enrolled)

	item, err := database.NewSavedItemRepository(db).Get(ctx, nil, "ana", "s1")
	require.NoError(t, err)
	require.Equal(t, models.StatusHard, item.Status)
	require.Equal(t, models.SourceCollection, item.Source)

	_, err = tr.EnrollCollection(ctx, "ana", "missing")
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestRefreshCollectionCompletion(t *testing.T) {
	ctx := context.Background()
	tr, db := newTracker(t, "s1")
	require.NoError(t, database.NewItemRepository(db).ReplaceMemberships(ctx, nil, "s1", "de", []string{"basics"}))
	_, err := tr.EnrollCollection(ctx, "ana", "basics")
	require.NoError(t, err)

	done, err := tr.RefreshCollectionCompletion(ctx, "ana", "basics")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, database.NewProgressRepository(db).Put(ctx, nil, &models.ItemProgress{
		Username: "ana", SenseID: "s1", Beginner: 100, Experienced: 100, UpdatedAt: fixedNow,
	}))
	done, err = tr.RefreshCollectionCompletion(ctx, "ana", "basics")
	require.NoError(t, err)
	require.True(t, done)

	done, err = tr.RefreshCollectionCompletion(ctx, "ana", "basics")
	require.NoError(t, err)
	require.False(t, done)

	e, err := database.NewCollectionRepository(db).GetEnrollment(ctx, nil, "ana", "basics")
	require.NoError(t, err)
	require.NotNil(t, e.CompletedAt)
}

func learn(t *testing.T, tr *Tracker, senseID string) {
	t.Helper()
	for _, track := range []models.Track{models.TrackBeginner, models.TrackExperienced} {
		for i := 0; i < models.MaxTrackScore; i++ {
			_, err := tr.UpdateTrackProgress(context.Background(), "ana", senseID, track, true)
			require.NoError(t, err)
		}
	}
}

func TestLearningCompletesCollection(t *testing.T) {
	ctx := context.Background()
	tr, db := newTracker(t, "s1", "s2")
	items := database.NewItemRepository(db)
	require.NoError(t, items.ReplaceMemberships(ctx, nil, "s1", "de", []string{"basics"}))
	require.NoError(t, items.ReplaceMemberships(ctx, nil, "s2", "de", []string{"basics", "travel"}))
	_, err := tr.EnrollCollection(ctx, "ana", "basics")
	require.NoError(t, err)
	collections := database.NewCollectionRepository(db)

	learn(t, tr, "s1")
	e, err := collections.GetEnrollment(ctx, nil, "ana", "basics")
	require.NoError(t, err)
	require.Nil(t, e.CompletedAt)

	learn(t, tr, "s2")
	e, err = collections.GetEnrollment(ctx, nil, "ana", "basics")
	require.NoError(t, err)
	require.NotNil(t, e.CompletedAt)
	require.True(t, e.CompletedAt.Equal(fixedNow))

	// collections the user never started stay untouched
	_, err = collections.GetEnrollment(ctx, nil, "ana", "travel")
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestMigrateLegacy(t *testing.T) {
	ctx := context.Background()
	tr, db := newTracker(t, "s1", "s2", "s3", "s4")
	progress, err := json.Marshal(map[string]interface{}{
		"s1":    42,
		"s2":    map[string]interface{}{"beginner": 100, "experienced": "55", "expert": 400},
		"s3":    "lots",
		"ghost": 9,
	})
	require.NoError(t, err)
	require.NoError(t, database.NewLegacyRepository(db).Put(ctx, &database.LegacyList{
		Username: "ana",
		SavedIDs: `["s1", "s4", "s4", "gone"]`,
		Progress: string(progress),
	}))

	res, err := tr.MigrateLegacy(ctx, "ana")
	require.NoError(t, err)
	require.True(t, res.Migrated)
	require.EqualValues(t, 4, res.Saved)
	require.Equal(t, 3, res.Progress)
	require.ElementsMatch(t, []string{"gone", "ghost"}, res.Dropped)

	p1, err := tr.Progress(ctx, "ana", "s1")
	require.NoError(t, err)
	require.Equal(t, 42, p1.Beginner)
	require.Zero(t, p1.Experienced)

	p2, err := tr.Progress(ctx, "ana", "s2")
	require.NoError(t, err)
	require.Equal(t, 100, p2.Beginner)
	require.Equal(t, 55, p2.Experienced)
	require.Equal(t, 100, p2.Expert)

	p3, err := tr.Progress(ctx, "ana", "s3")
	require.NoError(t, err)
	require.Zero(t, p3.Beginner)

	// second run sees tracked rows and does nothing
	_, err = tr.UpdateTrackProgress(ctx, "ana", "s1", models.TrackBeginner, true)
	require.NoError(t, err)
	res, err = tr.MigrateLegacy(ctx, "ana")
	require.NoError(t, err)
	require.False(t, res.Migrated)
	p1, err = tr.Progress(ctx, "ana", "s1")
	require.NoError(t, err)
	require.Equal(t, 43, p1.Beginner)
}

func TestMigrateLegacyWithoutList(t *testing.T) {
	tr, _ := newTracker(t)
	res, err := tr.MigrateLegacy(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, res.Migrated)
}

func TestDecodeLegacyProgress(t *testing.T) {
	cases := []struct {
		raw  string
		want LegacyProgress
	}{
		{`17`, Legacy{Value: 17}},
		{`"23"`, Legacy{Value: 23}},
		{`12.9`, Legacy{Value: 12}},
		{`"n/a"`, Legacy{}},
		{`null`, Legacy{}},
		{`true`, Legacy{}},
		{`{"beginner": 5, "expert": "x"}`, PerTrack{Beginner: 5}},
		{`{"beginner": -3, "experienced": 250}`, PerTrack{Beginner: -3, Experienced: 250}},
	}
	for _, c := range cases {
		require.Equal(t, c.want, DecodeLegacyProgress(json.RawMessage(c.raw)), c.raw)
	}

	p := PerTrack{Beginner: -3, Experienced: 250}.Normalize("ana", "s1", fixedNow)
	require.Zero(t, p.Beginner)
	require.Equal(t, models.MaxTrackScore, p.Experienced)
}
