package sessions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/common"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/notify"
	"github.com/ternarybob/lodestar/internal/storage/badger"
)

type testEnv struct {
	svc      *Service
	jobs     interfaces.JobStorage
	batches  interfaces.BatchJobStorage
	sessions interfaces.SessionStorage
	events   interfaces.EventStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	jobStorage := badger.NewJobStorage(db, logger)
	sessionStorage := badger.NewSessionStorage(db, logger)
	batchStorage := badger.NewBatchJobStorage(db, logger)
	notifier := notify.NewService(logger)
	t.Cleanup(notifier.Close)

	return &testEnv{
		svc:      NewService(sessionStorage, jobStorage, batchStorage, notifier, logger),
		jobs:     jobStorage,
		batches:  batchStorage,
		sessions: sessionStorage,
		events:   badger.NewEventStorage(db, logger),
	}
}

// seedJob inserts a job directly, bypassing the job service, so tests can
// control state and resources precisely.
func (e *testEnv) seedJob(t *testing.T, job *models.Job) *models.Job {
	t.Helper()
	if job.OwnerID == 0 {
		job.OwnerID = 1
	}
	if job.RanksPerNode == 0 {
		job.RanksPerNode = 1
	}
	if job.ThreadsPerRank == 0 {
		job.ThreadsPerRank = 1
	}
	if job.NodePackingCount == 0 {
		job.NodePackingCount = 1
	}
	if job.State == "" {
		job.State = models.JobStagedIn
	}
	job.LastUpdate = time.Now().UTC()
	require.NoError(t, e.jobs.InsertBatch(context.Background(), []*models.JobBundle{{Job: job}}))
	return job
}

func TestAcquireLeasesJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, wd := range []string{"runs/1", "runs/2", "runs/3"} {
		env.seedJob(t, &models.Job{SiteID: 5, Workdir: wd})
	}

	sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
	require.NoError(t, err)

	acquired, err := env.svc.Acquire(ctx, 1, sess.ID, &models.AcquireSpec{
		States:        []models.JobState{models.JobStagedIn},
		MaxNumAcquire: 10,
	})
	require.NoError(t, err)
	require.Len(t, acquired, 3)
	for _, job := range acquired {
		require.NotNil(t, job.SessionID)
		assert.Equal(t, sess.ID, *job.SessionID)
		assert.Equal(t, models.LockPreprocessing, job.LockStatus)
	}

	// Already-leased jobs are invisible to a second session.
	other, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
	require.NoError(t, err)
	again, err := env.svc.Acquire(ctx, 1, other.ID, &models.AcquireSpec{
		States:        []models.JobState{models.JobStagedIn},
		MaxNumAcquire: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestConcurrentAcquireNeverSharesAJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const jobCount = 24
	const launchers = 6
	for i := 0; i < jobCount; i++ {
		env.seedJob(t, &models.Job{SiteID: 5, Workdir: fmt.Sprintf("runs/%d", i)})
	}

	sessIDs := make([]uint64, launchers)
	for i := range sessIDs {
		sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
		require.NoError(t, err)
		sessIDs[i] = sess.ID
	}

	// Racing launchers all want every job; each job may end up in exactly
	// one lease.
	results := make([][]*models.Job, launchers)
	var wg sync.WaitGroup
	for i, id := range sessIDs {
		wg.Add(1)
		go func(i int, id uint64) {
			defer wg.Done()
			acquired, err := env.svc.Acquire(ctx, 1, id, &models.AcquireSpec{
				States:        []models.JobState{models.JobStagedIn},
				MaxNumAcquire: jobCount,
			})
			assert.NoError(t, err)
			results[i] = acquired
		}(i, id)
	}
	wg.Wait()

	leased := map[uint64]uint64{}
	total := 0
	for i, acquired := range results {
		for _, job := range acquired {
			if holder, dup := leased[job.ID]; dup {
				t.Fatalf("job %d leased to sessions %d and %d", job.ID, holder, sessIDs[i])
			}
			leased[job.ID] = sessIDs[i]
			total++
		}
	}
	assert.Equal(t, jobCount, total)
}

func TestAcquireRespectsMaxAndSite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/1"})
	env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/2"})
	env.seedJob(t, &models.Job{SiteID: 9, Workdir: "runs/3"})

	sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
	require.NoError(t, err)

	acquired, err := env.svc.Acquire(ctx, 1, sess.ID, &models.AcquireSpec{
		States:        []models.JobState{models.JobStagedIn},
		MaxNumAcquire: 1,
	})
	require.NoError(t, err)
	assert.Len(t, acquired, 1)
	assert.Equal(t, uint64(5), acquired[0].SiteID)
}

func TestAcquireBinPacking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for wd, wall := range map[string]int{"runs/a": 40, "runs/b": 33, "runs/c": 32, "runs/d": 31} {
		env.seedJob(t, &models.Job{SiteID: 5, Workdir: wd, WallTimeMin: wall})
	}

	sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
	require.NoError(t, err)

	acquired, err := env.svc.Acquire(ctx, 1, sess.ID, &models.AcquireSpec{
		States:        []models.JobState{models.JobStagedIn},
		MaxNumAcquire: 10,
		OrderBy:       []string{"-wall_time_min"},
		NodeResources: &models.NodeResources{
			MaxJobsPerNode:   1,
			MaxWallTimeMin:   35,
			RunningJobCounts: []int{0, 0},
			NodeOccupancies:  []float64{0, 0},
			IdleCores:        []int{64, 64},
			IdleGPUs:         []float64{0, 0},
		},
	})
	require.NoError(t, err)

	// 40 exceeds the window, 33 and 32 fill the two nodes, 31 has nowhere
	// left to go.
	require.Len(t, acquired, 2)
	assert.Equal(t, 33, acquired[0].WallTimeMin)
	assert.Equal(t, 32, acquired[1].WallTimeMin)
}

func TestAcquireFilterTags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/1", Tags: map[string]string{"exp": "alpha"}})
	env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/2", Tags: map[string]string{"exp": "beta"}})

	sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
	require.NoError(t, err)

	acquired, err := env.svc.Acquire(ctx, 1, sess.ID, &models.AcquireSpec{
		States:        []models.JobState{models.JobStagedIn},
		MaxNumAcquire: 10,
		FilterTags:    map[string]string{"exp": "alpha"},
	})
	require.NoError(t, err)
	require.Len(t, acquired, 1)
	assert.Equal(t, "runs/1", acquired[0].Workdir)
}

func TestAcquireBatchJobBinding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bj := &models.BatchJob{
		OwnerID: 1, SiteID: 5, Project: "proj", Queue: "default",
		NumNodes: 1, WallTimeMin: 60, JobMode: "mpi",
		FilterTags: map[string]string{"exp": "alpha"},
		State:      models.BatchRunning,
	}
	require.NoError(t, env.batches.Create(ctx, bj))

	otherID := bj.ID + 100
	matching := env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/1", Tags: map[string]string{"exp": "alpha", "extra": "x"}})
	env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/2", Tags: map[string]string{"exp": "beta"}})
	env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/3", Tags: map[string]string{"exp": "alpha"}, BatchJobID: &otherID})

	sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5, BatchJobID: &bj.ID})
	require.NoError(t, err)

	acquired, err := env.svc.Acquire(ctx, 1, sess.ID, &models.AcquireSpec{
		States:        []models.JobState{models.JobStagedIn},
		MaxNumAcquire: 10,
	})
	require.NoError(t, err)

	// Only the unbound job whose tags cover the batch job's filter tags is
	// taken, and the acquire binds it.
	require.Len(t, acquired, 1)
	assert.Equal(t, matching.ID, acquired[0].ID)
	require.NotNil(t, acquired[0].BatchJobID)
	assert.Equal(t, bj.ID, *acquired[0].BatchJobID)
}

func TestAcquireUnboundOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	boundID := uint64(77)
	env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/1", BatchJobID: &boundID})
	free := env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/2"})

	sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
	require.NoError(t, err)

	acquired, err := env.svc.Acquire(ctx, 1, sess.ID, &models.AcquireSpec{
		AcquireUnbound: true,
		States:         []models.JobState{models.JobStagedIn},
		MaxNumAcquire:  10,
	})
	require.NoError(t, err)
	require.Len(t, acquired, 1)
	assert.Equal(t, free.ID, acquired[0].ID)
	assert.Nil(t, acquired[0].BatchJobID)
}

func TestDeleteReleasesJobsWithoutEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/1"})

	sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
	require.NoError(t, err)
	_, err = env.svc.Acquire(ctx, 1, sess.ID, &models.AcquireSpec{
		States:        []models.JobState{models.JobStagedIn},
		MaxNumAcquire: 10,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, 1, sess.ID))

	released, err := env.jobs.Get(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Nil(t, released.SessionID)
	assert.Equal(t, models.JobStagedIn, released.State)

	// Releasing a lease writes no log events.
	_, events, err := env.events.Find(ctx, 1, &models.EventQuery{JobIDs: []uint64{job.ID}}, nil)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = env.svc.Tick(ctx, 1, sess.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestImplicitBindingClearedOnRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bj := &models.BatchJob{
		OwnerID: 1, SiteID: 5, Project: "proj", Queue: "default",
		NumNodes: 1, WallTimeMin: 60, JobMode: "mpi",
		State: models.BatchRunning,
	}
	require.NoError(t, env.batches.Create(ctx, bj))

	implicit := env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/1"})
	explicit := env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/2", BatchJobID: &bj.ID})

	sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5, BatchJobID: &bj.ID})
	require.NoError(t, err)
	acquired, err := env.svc.Acquire(ctx, 1, sess.ID, &models.AcquireSpec{
		States:        []models.JobState{models.JobStagedIn},
		MaxNumAcquire: 10,
	})
	require.NoError(t, err)
	require.Len(t, acquired, 2)

	require.NoError(t, env.svc.Delete(ctx, 1, sess.ID))

	// The implicitly bound job loses its binding, the pre-bound one keeps it.
	got, err := env.jobs.Get(ctx, 1, implicit.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BatchJobID)

	got, err = env.jobs.Get(ctx, 1, explicit.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BatchJobID)
	assert.Equal(t, bj.ID, *got.BatchJobID)
}

func TestSweepExpiredReapsStaleSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.seedJob(t, &models.Job{SiteID: 5, Workdir: "runs/1"})

	sess, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
	require.NoError(t, err)
	_, err = env.svc.Acquire(ctx, 1, sess.ID, &models.AcquireSpec{
		States:        []models.JobState{models.JobStagedIn},
		MaxNumAcquire: 10,
	})
	require.NoError(t, err)

	// Age the heartbeat past the expiry window.
	stale, err := env.sessions.Get(ctx, 1, sess.ID)
	require.NoError(t, err)
	stale.Heartbeat = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, env.sessions.Update(ctx, stale))

	require.NoError(t, env.svc.SweepExpired(ctx, time.Minute))

	released, err := env.jobs.Get(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Nil(t, released.SessionID)

	_, err = env.svc.Tick(ctx, 1, sess.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// A fresh session survives the sweep.
	fresh, err := env.svc.Create(ctx, 1, &models.SessionCreate{SiteID: 5})
	require.NoError(t, err)
	require.NoError(t, env.svc.SweepExpired(ctx, time.Minute))
	_, err = env.svc.Tick(ctx, 1, fresh.ID)
	assert.NoError(t, err)
}
