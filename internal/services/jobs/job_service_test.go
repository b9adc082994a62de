package jobs

import (
	"context"
	"testing"

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
	svc    *Service
	apps   interfaces.AppStorage
	events interfaces.EventStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	jobStorage := badger.NewJobStorage(db, logger)
	appStorage := badger.NewAppStorage(db, logger)
	notifier := notify.NewService(logger)
	t.Cleanup(notifier.Close)

	return &testEnv{
		svc:    NewService(jobStorage, appStorage, notifier, logger),
		apps:   appStorage,
		events: badger.NewEventStorage(db, logger),
	}
}

func (e *testEnv) createApp(t *testing.T, ownerID uint64, name string, siteID uint64) *models.App {
	t.Helper()
	app := &models.App{
		OwnerID: ownerID,
		Name:    name,
		Backends: []models.AppBackend{
			{SiteID: siteID, ClassName: "demo.Hello"},
		},
		Parameters: []string{"name"},
	}
	require.NoError(t, e.apps.Create(context.Background(), app))
	return app
}

func (e *testEnv) jobEvents(t *testing.T, ownerID, jobID uint64) []*models.LogEvent {
	t.Helper()
	_, events, err := e.events.Find(context.Background(), ownerID, &models.EventQuery{JobIDs: []uint64{jobID}}, nil)
	require.NoError(t, err)
	return events
}

func stateOf(s models.JobState) *models.JobState { return &s }

func TestBulkCreateParentlessJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	created, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/1", AppID: app.ID, Parameters: map[string]string{"name": "world"}},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	job := created[0]
	assert.NotZero(t, job.ID)
	assert.Equal(t, uint64(5), job.SiteID)
	assert.Equal(t, models.JobStagedIn, job.State)
	assert.Equal(t, models.LockUnlocked, job.LockStatus)
	assert.Equal(t, 1, job.RanksPerNode)
	assert.Equal(t, 1, job.ThreadsPerRank)
	assert.Equal(t, 1, job.NodePackingCount)

	// History: CREATED -> STAGED_IN, STAGED_IN -> READY, both at creation.
	events := env.jobEvents(t, 1, job.ID)
	require.Len(t, events, 2)
	assert.Equal(t, models.JobCreated, events[0].FromState)
	assert.Equal(t, models.JobStagedIn, events[0].ToState)
	assert.Equal(t, models.JobStagedIn, events[1].FromState)
	assert.Equal(t, models.JobReady, events[1].ToState)
}

func TestBulkCreateWithPendingParents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	parents, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/parent", AppID: app.ID},
	})
	require.NoError(t, err)

	children, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/child", AppID: app.ID, ParentIDs: []uint64{parents[0].ID}},
	})
	require.NoError(t, err)

	child := children[0]
	assert.Equal(t, models.JobAwaitingParents, child.State)

	events := env.jobEvents(t, 1, child.ID)
	require.Len(t, events, 2)
	assert.Equal(t, models.JobAwaitingParents, events[1].ToState)
}

func TestBulkCreateUnknownParentRejected(t *testing.T) {
	env := newTestEnv(t)
	app := env.createApp(t, 1, "hello", 5)

	_, err := env.svc.BulkCreate(context.Background(), 1, []models.JobCreate{
		{Workdir: "runs/orphan", AppID: app.ID, ParentIDs: []uint64{999}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestBulkCreateWorkdirConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	_, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/1", AppID: app.ID},
	})
	require.NoError(t, err)

	// Same workdir at the same site conflicts.
	_, err = env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/1", AppID: app.ID},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Duplicate within a single batch conflicts too.
	_, err = env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/2", AppID: app.ID},
		{Workdir: "runs/2", AppID: app.ID},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestBulkCreateStageInTransfersDeferStaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	created, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{
			Workdir: "runs/xfer",
			AppID:   app.ID,
			Transfers: []models.TransferItemCreate{
				{Direction: models.TransferIn, LocationAlias: "laptop", RemotePath: "/data/in.dat", LocalPath: "in.dat"},
			},
		},
	})
	require.NoError(t, err)

	job := created[0]
	assert.Equal(t, models.JobCreated, job.State)
	assert.Empty(t, env.jobEvents(t, 1, job.ID))

	// Transfer completion triggers staging.
	require.NoError(t, env.svc.StageIn(ctx, 1, job.ID))

	staged, err := env.svc.Get(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStagedIn, staged.State)
	assert.Len(t, env.jobEvents(t, 1, job.ID), 2)

	// Idempotent once past CREATED.
	require.NoError(t, env.svc.StageIn(ctx, 1, job.ID))
	assert.Len(t, env.jobEvents(t, 1, job.ID), 2)
}

func TestStateMessageLandsInEventNotRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	created, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/1", AppID: app.ID},
	})
	require.NoError(t, err)
	id := created[0].ID

	msg := "picked up by launcher"
	updated, err := env.svc.Update(ctx, 1, id, &models.JobUpdate{
		State:        stateOf(models.JobPreprocessed),
		StateMessage: &msg,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobPreprocessed, updated.State)
	assert.Empty(t, updated.StateMessage)
	assert.Nil(t, updated.StateTimestamp)

	fetched, err := env.svc.Get(ctx, 1, id)
	require.NoError(t, err)
	assert.Empty(t, fetched.StateMessage)

	events := env.jobEvents(t, 1, id)
	require.Len(t, events, 3)
	last := events[len(events)-1]
	assert.Equal(t, models.JobPreprocessed, last.ToState)
	assert.Equal(t, msg, last.Message)
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	created, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/1", AppID: app.ID},
	})
	require.NoError(t, err)

	_, err = env.svc.Update(ctx, 1, created[0].ID, &models.JobUpdate{
		State: stateOf(models.JobRunning),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestBulkUpdateDuplicateIDsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	created, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/1", AppID: app.ID},
	})
	require.NoError(t, err)
	id := created[0].ID

	_, err = env.svc.BulkUpdate(ctx, 1, []models.JobBulkUpdate{
		{ID: id, JobUpdate: models.JobUpdate{State: stateOf(models.JobPreprocessed)}},
		{ID: id, JobUpdate: models.JobUpdate{State: stateOf(models.JobRunning)}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestParentFinishPromotesChild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	parents, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/parent", AppID: app.ID},
	})
	require.NoError(t, err)
	parentID := parents[0].ID

	children, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/child", AppID: app.ID, ParentIDs: []uint64{parentID}},
	})
	require.NoError(t, err)
	childID := children[0].ID

	// Drive the parent through its lifecycle to the terminal success state.
	walk := []models.JobState{
		models.JobPreprocessed,
		models.JobRunning,
		models.JobRunDone,
		models.JobPostprocessed,
		models.JobStagedOut,
		models.JobFinished,
	}
	for _, next := range walk {
		_, err = env.svc.Update(ctx, 1, parentID, &models.JobUpdate{State: stateOf(next)})
		require.NoError(t, err, "transition to %s", next)
	}

	child, err := env.svc.Get(ctx, 1, childID)
	require.NoError(t, err)
	assert.Equal(t, models.JobReady, child.State)

	events := env.jobEvents(t, 1, childID)
	last := events[len(events)-1]
	assert.Equal(t, models.JobAwaitingParents, last.FromState)
	assert.Equal(t, models.JobReady, last.ToState)
}

func TestOwnerIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	created, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/1", AppID: app.ID},
	})
	require.NoError(t, err)

	// Another owner sees neither the row nor its existence.
	_, err = env.svc.Get(ctx, 2, created[0].ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)

	count, _, err := env.svc.List(ctx, 2, &models.JobQuery{}, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteByQuery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.createApp(t, 1, "hello", 5)

	_, err := env.svc.BulkCreate(ctx, 1, []models.JobCreate{
		{Workdir: "runs/1", AppID: app.ID, Tags: map[string]string{"batch": "a"}},
		{Workdir: "runs/2", AppID: app.ID, Tags: map[string]string{"batch": "a"}},
		{Workdir: "runs/3", AppID: app.ID, Tags: map[string]string{"batch": "b"}},
	})
	require.NoError(t, err)

	deleted, err := env.svc.DeleteByQuery(ctx, 1, &models.JobQuery{Tags: map[string]string{"batch": "a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, _, err := env.svc.List(ctx, 1, &models.JobQuery{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
