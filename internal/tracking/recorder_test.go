package tracking_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/mocks"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/storage/postgres"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var thumbPayload = dto.Payload{Kwargs: map[string]any{"profile_id": 7}}

func setupStore(t *testing.T) *postgres.JobRecordRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, postgres.MigrateModels(db))
	return postgres.NewJobRecordRepository(db)
}

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type observerStub struct {
	mu        sync.Mutex
	events    []string
	conflicts int
}

func (o *observerStub) ObserveEvent(event string, applied bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf("%s:%t", event, applied))
}

func (o *observerStub) ObserveConflict() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts++
}

func newRecorder(t *testing.T, opts ...tracking.Option) (*tracking.Recorder, *postgres.JobRecordRepository) {
	store := setupStore(t)
	opts = append([]tracking.Option{tracking.WithClock(tickingClock())}, opts...)
	return tracking.NewRecorder(store, opts...), store
}

func TestRecorder_HappyPath(t *testing.T) {
	ctx := context.Background()
	obs := &observerStub{}
	r, _ := newRecorder(t, tracking.WithObserver(obs))

	out, err := r.OnQueued(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, config.JobStatusPending, out.Record.Status)

	out, err = r.OnStarted(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, config.JobStatusStarted, out.Record.Status)

	out, err = r.OnSucceeded(ctx, "job-1", map[string]any{"generated": true})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	rec, err := r.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusSuccess, rec.Status)
	assert.Equal(t, config.JobKindThumbnail, rec.JobKind)
	assert.JSONEq(t, `{"profile_id":7}`, string(rec.Kwargs))
	assert.JSONEq(t, `{"generated":true}`, string(rec.Result))
	assert.Empty(t, rec.ErrorDetail)
	assert.Equal(t, 3, rec.Version)

	require.NotNil(t, rec.StartedAt)
	require.NotNil(t, rec.CompletedAt)
	assert.False(t, rec.StartedAt.Before(rec.CreatedAt))
	assert.False(t, rec.CompletedAt.Before(*rec.StartedAt))

	assert.Equal(t, []string{"queued:true", "started:true", "succeeded:true"}, obs.events)
}

func TestRecorder_Failure(t *testing.T) {
	ctx := context.Background()
	r, _ := newRecorder(t)

	_, err := r.OnQueued(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
	require.NoError(t, err)
	_, err = r.OnStarted(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
	require.NoError(t, err)

	out, err := r.OnFailed(ctx, "job-1", "decode avatar: unexpected EOF", "goroutine 1 [running]")
	require.NoError(t, err)
	assert.True(t, out.Applied)

	rec, err := r.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusFailure, rec.Status)
	assert.Equal(t, "decode avatar: unexpected EOF", rec.ErrorDetail)
	assert.Equal(t, "goroutine 1 [running]", rec.Traceback)
	assert.Empty(t, rec.Result)
	require.NotNil(t, rec.CompletedAt)
}

func TestRecorder_OutOfOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("started before queued", func(t *testing.T) {
		r, _ := newRecorder(t)

		out, err := r.OnStarted(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
		require.NoError(t, err)
		assert.True(t, out.Applied)

		out, err = r.OnQueued(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
		require.NoError(t, err)
		assert.False(t, out.Applied)
		assert.Equal(t, config.JobStatusStarted, out.Record.Status)
	})

	t.Run("succeeded before started", func(t *testing.T) {
		r, _ := newRecorder(t)

		_, err := r.OnSucceeded(ctx, "job-1", nil)
		require.NoError(t, err)

		out, err := r.OnStarted(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
		require.NoError(t, err)
		assert.True(t, out.Applied, "kind and payload are filled in")

		rec, err := r.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusSuccess, rec.Status)
		assert.Equal(t, config.JobKindThumbnail, rec.JobKind)
		assert.JSONEq(t, `{"profile_id":7}`, string(rec.Kwargs))
		assert.Nil(t, rec.StartedAt)

		out, err = r.OnStarted(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
		require.NoError(t, err)
		assert.False(t, out.Applied)
	})

	t.Run("failed with nothing before it", func(t *testing.T) {
		r, _ := newRecorder(t)

		out, err := r.OnFailed(ctx, "job-1", "boom", "")
		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, config.JobStatusFailure, out.Record.Status)
		assert.False(t, out.Record.CreatedAt.IsZero())
	})

	t.Run("every permutation ends terminal", func(t *testing.T) {
		orders := [][]string{
			{"queued", "started", "succeeded"},
			{"queued", "succeeded", "started"},
			{"started", "queued", "succeeded"},
			{"started", "succeeded", "queued"},
			{"succeeded", "queued", "started"},
			{"succeeded", "started", "queued"},
		}

		for i, order := range orders {
			r, store := newRecorder(t)
			jobID := fmt.Sprintf("job-%d", i)

			for _, ev := range order {
				var err error
				switch ev {
				case "queued":
					_, err = r.OnQueued(ctx, jobID, config.JobKindThumbnail, thumbPayload)
				case "started":
					_, err = r.OnStarted(ctx, jobID, config.JobKindThumbnail, thumbPayload)
				case "succeeded":
					_, err = r.OnSucceeded(ctx, jobID, "ok")
				}
				require.NoError(t, err, "order %v", order)
			}

			recs, err := store.List(ctx, tracking.Filter{})
			require.NoError(t, err)
			require.Len(t, recs, 1, "order %v", order)
			assert.Equal(t, config.JobStatusSuccess, recs[0].Status, "order %v", order)
			assert.Equal(t, config.JobKindThumbnail, recs[0].JobKind, "order %v", order)
			assert.JSONEq(t, `"ok"`, string(recs[0].Result), "order %v", order)
		}
	})
}

func TestRecorder_Duplicates(t *testing.T) {
	ctx := context.Background()
	r, _ := newRecorder(t)

	_, err := r.OnQueued(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
	require.NoError(t, err)
	out, err := r.OnQueued(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
	require.NoError(t, err)
	assert.False(t, out.Applied)

	_, err = r.OnSucceeded(ctx, "job-1", "first")
	require.NoError(t, err)
	out, err = r.OnSucceeded(ctx, "job-1", "second")
	require.NoError(t, err)
	assert.False(t, out.Applied)

	rec, err := r.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.JSONEq(t, `"first"`, string(rec.Result))
	assert.Equal(t, 2, rec.Version)
}

func TestRecorder_TerminalPolicy(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		policy      config.TerminalPolicy
		wantStatus  config.JobStatus
		wantApplied bool
	}{
		{"first terminal wins", config.FirstTerminalWins, config.JobStatusSuccess, false},
		{"last terminal wins", config.LastTerminalWins, config.JobStatusFailure, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRecorder(t, tracking.WithTerminalPolicy(tt.policy))

			_, err := r.OnSucceeded(ctx, "job-1", "done")
			require.NoError(t, err)

			out, err := r.OnFailed(ctx, "job-1", "late failure", "trace")
			require.NoError(t, err)
			assert.Equal(t, tt.wantApplied, out.Applied)

			rec, err := r.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Status)
			if tt.wantStatus == config.JobStatusFailure {
				assert.Empty(t, rec.Result)
				assert.Equal(t, "late failure", rec.ErrorDetail)
			} else {
				assert.Empty(t, rec.ErrorDetail)
			}
		})
	}
}

// skewedClock replays offsets around a fixed instant, so consecutive calls
// may move backwards.
func skewedClock(rng *rand.Rand) func() time.Time {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(rng.IntN(7200)-3600) * time.Second)
	}
}

func TestRecorder_ArbitraryOrderWithSkewedClock(t *testing.T) {
	ctx := context.Background()
	events := []string{"queued", "started", "succeeded", "failed"}

	policies := []struct {
		name   string
		policy config.TerminalPolicy
		seed   uint64
	}{
		{"first terminal wins", config.FirstTerminalWins, 1},
		{"last terminal wins", config.LastTerminalWins, 2},
	}

	for _, pc := range policies {
		t.Run(pc.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(42, pc.seed))
			store := setupStore(t)
			r := tracking.NewRecorder(store,
				tracking.WithClock(skewedClock(rng)),
				tracking.WithTerminalPolicy(pc.policy))

			for i := range 150 {
				jobID := fmt.Sprintf("job-%d", i)
				seq := make([]string, 1+rng.IntN(8))
				for j := range seq {
					seq[j] = events[rng.IntN(len(events))]
				}

				var firstTerminal, lastTerminal config.JobStatus
				sawStart := false
				for _, ev := range seq {
					var err error
					switch ev {
					case "queued":
						_, err = r.OnQueued(ctx, jobID, config.JobKindThumbnail, thumbPayload)
					case "started":
						sawStart = true
						_, err = r.OnStarted(ctx, jobID, config.JobKindThumbnail, thumbPayload)
					case "succeeded":
						lastTerminal = config.JobStatusSuccess
						_, err = r.OnSucceeded(ctx, jobID, map[string]any{"thumbnails": 3})
					case "failed":
						lastTerminal = config.JobStatusFailure
						_, err = r.OnFailed(ctx, jobID, "boom", "trace")
					}
					if firstTerminal == "" {
						firstTerminal = lastTerminal
					}
					require.NoError(t, err, "sequence %v", seq)
				}

				rec, err := r.Get(ctx, jobID)
				require.NoError(t, err, "sequence %v", seq)

				want := config.JobStatusPending
				switch {
				case pc.policy == config.FirstTerminalWins && firstTerminal != "":
					want = firstTerminal
				case pc.policy == config.LastTerminalWins && lastTerminal != "":
					want = lastTerminal
				case sawStart:
					want = config.JobStatusStarted
				}
				require.True(t, rec.Status.Valid(), "sequence %v", seq)
				assert.Equal(t, want, rec.Status, "sequence %v", seq)

				if rec.StartedAt != nil {
					assert.False(t, rec.StartedAt.Before(rec.CreatedAt), "started before created: %v", seq)
				}
				if rec.Status.Terminal() {
					require.NotNil(t, rec.CompletedAt, "sequence %v", seq)
					assert.False(t, rec.CompletedAt.Before(rec.CreatedAt), "completed before created: %v", seq)
					if rec.StartedAt != nil {
						assert.False(t, rec.CompletedAt.Before(*rec.StartedAt), "completed before started: %v", seq)
					}
				} else {
					assert.Nil(t, rec.CompletedAt, "sequence %v", seq)
				}

				switch rec.Status {
				case config.JobStatusSuccess:
					assert.JSONEq(t, `{"thumbnails":3}`, string(rec.Result), "sequence %v", seq)
					assert.Empty(t, rec.ErrorDetail, "sequence %v", seq)
					assert.Empty(t, rec.Traceback, "sequence %v", seq)
				case config.JobStatusFailure:
					assert.Empty(t, rec.Result, "sequence %v", seq)
					assert.Equal(t, "boom", rec.ErrorDetail, "sequence %v", seq)
				}
			}

			recs, err := store.List(ctx, tracking.Filter{Limit: 500})
			require.NoError(t, err)
			assert.Len(t, recs, 150)
		})
	}
}

func TestRecorder_DefensiveCreateDisabled(t *testing.T) {
	ctx := context.Background()
	r, store := newRecorder(t, tracking.WithDefensiveCreate(false))

	_, err := r.OnStarted(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
	assert.ErrorIs(t, err, tracking.ErrJobNotFound)

	_, err = r.OnSucceeded(ctx, "job-1", nil)
	assert.ErrorIs(t, err, tracking.ErrJobNotFound)

	_, err = r.OnFailed(ctx, "job-1", "boom", "")
	assert.ErrorIs(t, err, tracking.ErrJobNotFound)

	_, err = store.FindByKey(ctx, "job-1")
	assert.ErrorIs(t, err, tracking.ErrJobNotFound)

	out, err := r.OnQueued(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	out, err = r.OnStarted(ctx, "job-1", config.JobKindThumbnail, thumbPayload)
	require.NoError(t, err)
	assert.True(t, out.Applied)
}

func TestRecorder_InvalidJobID(t *testing.T) {
	ctx := context.Background()
	r, _ := newRecorder(t)

	_, err := r.OnQueued(ctx, "", config.JobKindThumbnail, thumbPayload)
	assert.ErrorIs(t, err, tracking.ErrInvalidJobID)

	_, err = r.OnFailed(ctx, "  ", "boom", "")
	assert.ErrorIs(t, err, tracking.ErrInvalidJobID)

	_, err = r.Get(ctx, "")
	assert.ErrorIs(t, err, tracking.ErrInvalidJobID)

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, tracking.ErrJobNotFound)
}

func TestRecorder_ConflictRetry(t *testing.T) {
	ctx := context.Background()
	rec := &models.JobRecord{JobID: "job-1", Status: config.JobStatusStarted}

	t.Run("retries then succeeds", func(t *testing.T) {
		store := new(mocks.RecordStoreMock)
		obs := &observerStub{}
		store.On("UpsertByKey", mock.Anything, "job-1", mock.Anything).
			Return(nil, false, tracking.ErrRecordStoreConflict).Once()
		store.On("UpsertByKey", mock.Anything, "job-1", mock.Anything).
			Return(rec, true, nil).Once()

		r := tracking.NewRecorder(store, tracking.WithConflictRetries(3, time.Millisecond), tracking.WithObserver(obs))
		out, err := r.OnStarted(ctx, "job-1", config.JobKindThumbnail, thumbPayload)

		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, 1, obs.conflicts)
		store.AssertNumberOfCalls(t, "UpsertByKey", 2)
	})

	t.Run("retries exhausted", func(t *testing.T) {
		store := new(mocks.RecordStoreMock)
		store.On("UpsertByKey", mock.Anything, "job-1", mock.Anything).
			Return(nil, false, tracking.ErrRecordStoreConflict)

		r := tracking.NewRecorder(store, tracking.WithConflictRetries(2, time.Millisecond))
		_, err := r.OnSucceeded(ctx, "job-1", nil)

		assert.ErrorIs(t, err, tracking.ErrRecordStoreConflict)
		store.AssertNumberOfCalls(t, "UpsertByKey", 3)
	})

	t.Run("other store errors are not retried", func(t *testing.T) {
		store := new(mocks.RecordStoreMock)
		boom := errors.New("connection reset")
		store.On("UpsertByKey", mock.Anything, "job-1", mock.Anything).
			Return(nil, false, boom)

		r := tracking.NewRecorder(store, tracking.WithConflictRetries(3, time.Millisecond))
		_, err := r.OnQueued(ctx, "job-1", config.JobKindThumbnail, thumbPayload)

		assert.ErrorIs(t, err, boom)
		store.AssertNumberOfCalls(t, "UpsertByKey", 1)
	})

	t.Run("context canceled during backoff", func(t *testing.T) {
		store := new(mocks.RecordStoreMock)
		store.On("UpsertByKey", mock.Anything, "job-1", mock.Anything).
			Return(nil, false, tracking.ErrRecordStoreConflict)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		r := tracking.NewRecorder(store, tracking.WithConflictRetries(3, time.Hour))
		_, err := r.OnFailed(cctx, "job-1", "boom", "")

		assert.ErrorIs(t, err, context.Canceled)
		store.AssertNumberOfCalls(t, "UpsertByKey", 1)
	})

	t.Run("negative retry count still writes once", func(t *testing.T) {
		store := new(mocks.RecordStoreMock)
		store.On("UpsertByKey", mock.Anything, "job-1", mock.Anything).
			Return(rec, true, nil).Once()

		r := tracking.NewRecorder(store, tracking.WithConflictRetries(-1, time.Millisecond))
		out, err := r.OnStarted(ctx, "job-1", config.JobKindThumbnail, thumbPayload)

		require.NoError(t, err)
		assert.True(t, out.Applied)
		store.AssertNumberOfCalls(t, "UpsertByKey", 1)
	})

	t.Run("negative retry count surfaces the conflict", func(t *testing.T) {
		store := new(mocks.RecordStoreMock)
		store.On("UpsertByKey", mock.Anything, "job-1", mock.Anything).
			Return(nil, false, tracking.ErrRecordStoreConflict)

		r := tracking.NewRecorder(store, tracking.WithConflictRetries(-5, time.Millisecond))
		_, err := r.OnSucceeded(ctx, "job-1", nil)

		require.ErrorIs(t, err, tracking.ErrRecordStoreConflict)
		assert.NotContains(t, err.Error(), "%!")
		store.AssertNumberOfCalls(t, "UpsertByKey", 1)
	})
}

func TestRecorder_ConcurrentEvents(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	r := tracking.NewRecorder(store, tracking.WithConflictRetries(100, time.Millisecond))

	const jobs = 20
	var wg sync.WaitGroup
	var failures atomic.Int32

	for i := 0; i < jobs; i++ {
		jobID := fmt.Sprintf("job-%d", i)
		events := []func() error{
			func() error { _, err := r.OnQueued(ctx, jobID, config.JobKindThumbnail, thumbPayload); return err },
			func() error { _, err := r.OnStarted(ctx, jobID, config.JobKindThumbnail, thumbPayload); return err },
			func() error { _, err := r.OnSucceeded(ctx, jobID, "ok"); return err },
		}
		for _, ev := range events {
			wg.Add(1)
			go func(fire func() error) {
				defer wg.Done()
				if err := fire(); err != nil {
					failures.Add(1)
				}
			}(ev)
		}
	}
	wg.Wait()

	assert.Zero(t, failures.Load())

	recs, err := store.List(ctx, tracking.Filter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, recs, jobs)
	for _, rec := range recs {
		assert.Equal(t, config.JobStatusSuccess, rec.Status, rec.JobID)
		assert.Equal(t, config.JobKindThumbnail, rec.JobKind, rec.JobID)
	}
}
