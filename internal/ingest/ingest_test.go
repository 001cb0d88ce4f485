package ingest

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/database/dbtest"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func payloadBody(t *testing.T, requestID string, entries ...Entry) []byte {
	t.Helper()
	body, err := json.Marshal(Payload{
		RequestID:      requestID,
		Source:         "sheet",
		PayloadVersion: PayloadVersion,
		Lang:           "de",
		Entries:        entries,
	})
	require.NoError(t, err)
	return body
}

func rank(n int) *int { return &n }

func TestSignAndVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"requestId":"req-1"}`)
	sig := Sign("s3cret", now.Unix(), "req-1", BodyHash(body))
	require.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)

	ts := strconv.FormatInt(now.Unix(), 10)
	require.NoError(t, Verify("s3cret", ts, "req-1", sig, body, now, time.Minute))
	require.ErrorIs(t, Verify("other", ts, "req-1", sig, body, now, time.Minute), ErrBadSignature)
	require.ErrorIs(t, Verify("s3cret", ts, "req-2", sig, body, now, time.Minute), ErrBadSignature)
	require.ErrorIs(t, Verify("s3cret", ts, "req-1", sig, []byte(`{}`), now, time.Minute), ErrBadSignature)
	require.ErrorIs(t, Verify("s3cret", ts, "req-1", sig, body, now.Add(2*time.Minute), time.Minute), ErrStaleTimestamp)
	require.ErrorIs(t, Verify("s3cret", "", "req-1", sig, body, now, time.Minute), ErrBadSignature)
	require.ErrorIs(t, Verify("", ts, "req-1", sig, body, now, time.Minute), ErrNoSecret)
}

func TestBodyHashOfEmptyObject(t *testing.T) {
	require.Equal(t, "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a", BodyHash(EmptyBody))
}

func TestParsePayloadValidation(t *testing.T) {
	_, err := ParsePayload([]byte(`not json`))
	require.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ParsePayload([]byte(`{"source":"x","entries":[{"id":"a"}]}`))
	require.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ParsePayload([]byte(`{"requestId":"r","source":"x","entries":[]}`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	p, err := ParsePayload([]byte(`{"requestId":"r","source":"x","lang":"de","entries":[{"id":"a","lemma":"Haus","extra":1}]}`))
	require.NoError(t, err)
	require.Equal(t, "Haus", p.Entries[0].Lemma)
	// unknown fields survive in the raw entry
	require.JSONEq(t, `{"id":"a","lemma":"Haus","extra":1}`, string(p.Entries[0].Raw()))
}

func TestEnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	q := NewQueue(db, logger.Nop())

	first, err := q.Enqueue(ctx, "req-1", "de", payloadBody(t, "req-1", Entry{ID: "de:haus:1"}))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "req-1", "de", payloadBody(t, "req-1", Entry{ID: "de:katze:1"}, Entry{ID: "de:maus:1"}))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Payload, second.Payload)

	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM sync_jobs WHERE request_id = ?", "req-1"))
	require.Equal(t, 1, n)
}

func TestEnqueueRejectsInvalidBodies(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(dbtest.Open(t), logger.Nop())

	_, err := q.Enqueue(ctx, "req-1", "de", payloadBody(t, "req-1"))
	require.ErrorIs(t, err, ErrInvalidPayload)
	_, err = q.Enqueue(ctx, "req-1", "de", payloadBody(t, "req-2", Entry{ID: "x"}))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = q.Status(ctx, "req-1")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestProcessorApply(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	items := database.NewItemRepository(db)
	q := NewQueue(db, logger.Nop())
	proc := NewProcessor(db, logger.Nop())

	job, err := q.Enqueue(ctx, "req-1", "sheet", payloadBody(t, "req-1",
		Entry{ID: "de:gehen:1", Lemma: "gehen", Level: "a1", FrequencyRank: rank(10),
			Forms: []Form{{Form: "ging", Irregular: true}, {Form: "gegangen", Irregular: true}}, Collections: []string{"verbs"}},
		Entry{ID: "de:haus:1", Lemma: "Haus", FrequencyRank: rank(3), Forms: []Form{{Form: "Häuser"}}},
		Entry{Lemma: "no id"},
	))
	require.NoError(t, err)

	res, err := proc.Apply(ctx, job)
	require.NoError(t, err)
	require.Equal(t, 2, res.Applied)
	require.Equal(t, 1, res.Skipped)
	require.EqualValues(t, 1, res.Version)

	gehen, err := items.GetByID(ctx, nil, "de:gehen:1")
	require.NoError(t, err)
	require.True(t, gehen.HasIrregular)
	require.Equal(t, "A1", gehen.Level)
	require.Equal(t, models.KindSense, gehen.Kind)
	forms, err := items.Forms(ctx, "de:gehen:1")
	require.NoError(t, err)
	require.Len(t, forms, 2)

	haus, err := items.GetByID(ctx, nil, "de:haus:1")
	require.NoError(t, err)
	require.False(t, haus.HasIrregular)

	ids, err := database.NewCollectionRepository(db).ItemIDs(ctx, nil, "verbs")
	require.NoError(t, err)
	require.Equal(t, []string{"de:gehen:1"}, ids)

	// second batch drops the irregular forms, leaves the collection and deletes Haus
	job2, err := q.Enqueue(ctx, "req-2", "sheet", payloadBody(t, "req-2",
		Entry{ID: "de:gehen:1", Lemma: "gehen", Level: "A1"},
		Entry{ID: "de:haus:1", Deleted: true},
		Entry{ID: "de:never:1", Deleted: true},
	))
	require.NoError(t, err)
	res, err = proc.Apply(ctx, job2)
	require.NoError(t, err)
	require.Equal(t, 1, res.Applied)
	require.Equal(t, 1, res.Deleted)
	require.Equal(t, 1, res.Skipped)
	require.EqualValues(t, 2, res.Version)

	gehen, err = items.GetByID(ctx, nil, "de:gehen:1")
	require.NoError(t, err)
	require.False(t, gehen.HasIrregular)
	ids, err = database.NewCollectionRepository(db).ItemIDs(ctx, nil, "verbs")
	require.NoError(t, err)
	require.Empty(t, ids)
	_, err = items.GetByID(ctx, nil, "de:haus:1")
	require.ErrorIs(t, err, database.ErrNotFound)

	version, err := items.Version(ctx, "de")
	require.NoError(t, err)
	require.EqualValues(t, 2, version)
}

type countingApplier struct {
	inner Applier
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingApplier) Apply(ctx context.Context, job *models.SyncJob) (*ApplyResult, error) {
	c.mu.Lock()
	c.calls[job.RequestID]++
	c.mu.Unlock()
	return c.inner.Apply(ctx, job)
}

type failingApplier struct{ panic bool }

func (f failingApplier) Apply(context.Context, *models.SyncJob) (*ApplyResult, error) {
	if f.panic {
		panic("boom")
	}
	return nil, fmt.Errorf("content store unavailable")
}

func enqueueMany(t *testing.T, db *sqlx.DB, n int) {
	t.Helper()
	q := NewQueue(db, logger.Nop())
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("req-%02d", i)
		_, err := q.Enqueue(context.Background(), id, "sheet", payloadBody(t, id, Entry{ID: fmt.Sprintf("de:w%02d", i)}))
		require.NoError(t, err)
	}
}

func TestConcurrentTicksProcessEachJobOnce(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	enqueueMany(t, db, 25)

	applier := &countingApplier{inner: NewProcessor(db, logger.Nop()), calls: map[string]int{}}
	const workers = 4
	var wg sync.WaitGroup
	var total atomic.Int64
	for i := 0; i < workers; i++ {
		w := NewWorker(db, applier, WorkerConfig{}, logger.Nop())
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := w.Tick(ctx)
			require.NoError(t, err)
			total.Add(int64(n))
		}()
	}
	wg.Wait()

	require.EqualValues(t, 25, total.Load())
	require.Len(t, applier.calls, 25)
	for id, n := range applier.calls {
		require.Equal(t, 1, n, "job %s applied more than once", id)
	}

	counts, err := database.NewSyncJobRepository(db).CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 25, counts[models.JobSuccess])
	require.Zero(t, counts[models.JobPending])
}

func TestTickRecordsFailuresAndContinues(t *testing.T) {
	ctx := context.Background()
	for _, panics := range []bool{false, true} {
		db := dbtest.Open(t)
		enqueueMany(t, db, 3)
		w := NewWorker(db, failingApplier{panic: panics}, WorkerConfig{}, logger.Nop())

		n, err := w.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, n)

		job, err := database.NewSyncJobRepository(db).GetByRequestID(ctx, "req-00")
		require.NoError(t, err)
		require.Equal(t, models.JobFailed, job.Status)
		require.NotNil(t, job.ErrorMessage)

		h, err := w.Health(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, h.Counts[models.JobFailed])
		require.NotEmpty(t, h.LastError)
		require.NotNil(t, h.LastRunAt)
		require.False(t, h.Busy)
	}
}

type flakyApplier struct {
	inner Applier
	fails atomic.Int32
}

func (f *flakyApplier) Apply(ctx context.Context, job *models.SyncJob) (*ApplyResult, error) {
	if f.fails.Add(-1) >= 0 {
		return nil, fmt.Errorf("apply: %w", driver.ErrBadConn)
	}
	return f.inner.Apply(ctx, job)
}

func TestTransientFailureLeavesJobForReaper(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	enqueueMany(t, db, 1)
	jobs := database.NewSyncJobRepository(db)

	applier := &flakyApplier{inner: NewProcessor(db, logger.Nop())}
	applier.fails.Store(1)
	w := NewWorker(db, applier, WorkerConfig{Lease: time.Minute, MaxAttempts: 3}, logger.Nop())

	n, err := w.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	job, err := jobs.GetByRequestID(ctx, "req-00")
	require.NoError(t, err)
	require.Equal(t, models.JobProcessing, job.Status)
	require.Nil(t, job.ErrorMessage)

	// once the lease runs out the job is retried
	w.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	w.Reap(ctx)
	_, err = w.Tick(ctx)
	require.NoError(t, err)

	job, err = jobs.GetByRequestID(ctx, "req-00")
	require.NoError(t, err)
	require.Equal(t, models.JobSuccess, job.Status)
	require.Equal(t, 2, job.AttemptCount)
}

func TestTickIsNotReentrant(t *testing.T) {
	db := dbtest.Open(t)
	w := NewWorker(db, NewProcessor(db, logger.Nop()), WorkerConfig{}, logger.Nop())
	w.busy.Store(true)
	n, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReapRequeuesExpiredLease(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	enqueueMany(t, db, 1)
	jobs := database.NewSyncJobRepository(db)

	// a crashed worker left the job processing
	_, err := jobs.ClaimNext(ctx, time.Now().UTC().Add(-time.Hour), time.Minute)
	require.NoError(t, err)

	w := NewWorker(db, NewProcessor(db, logger.Nop()), WorkerConfig{MaxAttempts: 3}, logger.Nop())
	w.Reap(ctx)
	n, err := w.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := jobs.GetByRequestID(ctx, "req-00")
	require.NoError(t, err)
	require.Equal(t, models.JobSuccess, job.Status)
	require.Equal(t, 2, job.AttemptCount)
}

func TestWorkerStartStop(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	enqueueMany(t, db, 2)
	w := NewWorker(db, NewProcessor(db, logger.Nop()), WorkerConfig{Interval: 20 * time.Millisecond}, logger.Nop())

	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))
	require.True(t, w.IsRunning())

	require.Eventually(t, func() bool {
		h, err := w.Health(ctx)
		return err == nil && h.Counts[models.JobSuccess] == 2
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
	require.False(t, w.IsRunning())
	w.Stop()
}
