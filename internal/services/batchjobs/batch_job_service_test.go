package batchjobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/common"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/notify"
	"github.com/ternarybob/lodestar/internal/storage/badger"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := notify.NewService(logger)
	t.Cleanup(notifier.Close)

	return NewService(badger.NewBatchJobStorage(db, logger), badger.NewJobStorage(db, logger), notifier, cfg, logger)
}

func createBatchJob(t *testing.T, svc *Service) *models.BatchJob {
	t.Helper()
	bj, err := svc.Create(context.Background(), 1, &models.BatchJobCreate{
		SiteID: 5, Project: "proj", Queue: "default",
		NumNodes: 4, WallTimeMin: 60, JobMode: "mpi",
	})
	require.NoError(t, err)
	require.Equal(t, models.BatchPendingSubmission, bj.State)
	return bj
}

func intOf(v int) *int { return &v }

func strOf(v string) *string { return &v }

func batchStateOf(s models.BatchState) *models.BatchState { return &s }

func TestUpdateBeforeScheduling(t *testing.T) {
	svc := newTestService(t, Config{})
	bj := createBatchJob(t, svc)

	updated, err := svc.Update(context.Background(), 1, bj.ID, &models.BatchJobUpdate{
		NumNodes: intOf(8),
		Queue:    strOf("debug"),
	})
	require.NoError(t, err)
	assert.Equal(t, 8, updated.NumNodes)
	assert.Equal(t, "debug", updated.Queue)
}

func TestFrozenFieldConflictsOnceScheduled(t *testing.T) {
	svc := newTestService(t, Config{})
	bj := createBatchJob(t, svc)
	ctx := context.Background()

	// Scheduler hands the allocation to the queue.
	sid := int64(12345)
	_, err := svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{
		SchedulerID: &sid,
		State:       batchStateOf(models.BatchQueued),
	})
	require.NoError(t, err)

	// A stale client write to a frozen field conflicts.
	_, err = svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{NumNodes: intOf(16)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Writing the stored value back is a no-op, not a conflict.
	_, err = svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{NumNodes: intOf(4)})
	require.NoError(t, err)
}

func TestRevertDiscardsProposedValue(t *testing.T) {
	svc := newTestService(t, Config{})
	bj := createBatchJob(t, svc)
	ctx := context.Background()

	_, err := svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{State: batchStateOf(models.BatchQueued)})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{
		NumNodes: intOf(16),
		Revert:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.NumNodes)
}

func TestLenientFreezeAllowsDriftWhileQueued(t *testing.T) {
	svc := newTestService(t, Config{LenientFreeze: true})
	bj := createBatchJob(t, svc)
	ctx := context.Background()

	_, err := svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{State: batchStateOf(models.BatchQueued)})
	require.NoError(t, err)

	// Queued is still mutable under the lenient boundary.
	updated, err := svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{NumNodes: intOf(16)})
	require.NoError(t, err)
	assert.Equal(t, 16, updated.NumNodes)

	// Running is not.
	_, err = svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{State: batchStateOf(models.BatchRunning)})
	require.NoError(t, err)
	_, err = svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{NumNodes: intOf(32)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestSchedulerFieldsAlwaysWritable(t *testing.T) {
	svc := newTestService(t, Config{})
	bj := createBatchJob(t, svc)
	ctx := context.Background()

	sid := int64(999)
	updated, err := svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{
		State:       batchStateOf(models.BatchRunning),
		SchedulerID: &sid,
		StatusInfo:  map[string]string{"queue_position": "0"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.BatchRunning, updated.State)
	require.NotNil(t, updated.SchedulerID)
	assert.Equal(t, sid, *updated.SchedulerID)
}

func TestDeleteRunningMarksPendingDeletion(t *testing.T) {
	svc := newTestService(t, Config{})
	bj := createBatchJob(t, svc)
	ctx := context.Background()

	_, err := svc.Update(ctx, 1, bj.ID, &models.BatchJobUpdate{State: batchStateOf(models.BatchRunning)})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, 1, bj.ID))

	got, err := svc.Get(ctx, 1, bj.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPendingDeletion, got.State)
}

func TestDeletePendingSubmissionRemovesRow(t *testing.T) {
	svc := newTestService(t, Config{})
	bj := createBatchJob(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, 1, bj.ID))

	_, err := svc.Get(ctx, 1, bj.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteByQueryNotImplemented(t *testing.T) {
	svc := newTestService(t, Config{})
	err := svc.DeleteByQuery(context.Background(), 1, nil)
	assert.ErrorIs(t, err, models.ErrNotImplemented)
}

func TestBulkUpdateFrozenRowAbortsBatch(t *testing.T) {
	svc := newTestService(t, Config{})
	open := createBatchJob(t, svc)
	queued := createBatchJob(t, svc)
	ctx := context.Background()

	_, err := svc.BulkUpdate(ctx, 1, []models.BatchJobBulkUpdate{
		{ID: queued.ID, BatchJobUpdate: models.BatchJobUpdate{State: batchStateOf(models.BatchQueued)}},
	})
	require.NoError(t, err)

	// The frozen-field patch on the queued row fails; the valid patch on the
	// open row must not land either.
	_, err = svc.BulkUpdate(ctx, 1, []models.BatchJobBulkUpdate{
		{ID: open.ID, BatchJobUpdate: models.BatchJobUpdate{NumNodes: intOf(8)}},
		{ID: queued.ID, BatchJobUpdate: models.BatchJobUpdate{NumNodes: intOf(8)}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)

	got, err := svc.Get(ctx, 1, open.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.NumNodes)
}

func TestBulkUpdateDuplicateIDsRejected(t *testing.T) {
	svc := newTestService(t, Config{})
	bj := createBatchJob(t, svc)

	_, err := svc.BulkUpdate(context.Background(), 1, []models.BatchJobBulkUpdate{
		{ID: bj.ID, BatchJobUpdate: models.BatchJobUpdate{NumNodes: intOf(8)}},
		{ID: bj.ID, BatchJobUpdate: models.BatchJobUpdate{NumNodes: intOf(16)}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}
