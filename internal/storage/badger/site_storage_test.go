package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/common"
	"github.com/ternarybob/lodestar/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFreshStoreAssignsNonZeroIDs(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	ctx := context.Background()

	// Id 0 means "absent" in the query layer, so the very first row of each
	// sequence must not get it.
	site := &models.Site{OwnerID: 1, Hostname: "theta", Path: "/projects/foo"}
	require.NoError(t, NewSiteStorage(db, logger).Create(ctx, site))
	assert.NotZero(t, site.ID)

	job := &models.Job{OwnerID: 1, SiteID: site.ID, Workdir: "runs/1", State: models.JobStagedIn}
	require.NoError(t, NewJobStorage(db, logger).InsertBatch(ctx, []*models.JobBundle{{Job: job}}))
	assert.NotZero(t, job.ID)

	sess := &models.Session{OwnerID: 1, SiteID: site.ID}
	require.NoError(t, NewSessionStorage(db, logger).Create(ctx, sess))
	assert.NotZero(t, sess.ID)

	bj := &models.BatchJob{OwnerID: 1, SiteID: site.ID, Project: "p", Queue: "q", NumNodes: 1, WallTimeMin: 10, JobMode: "mpi", State: models.BatchPendingSubmission}
	require.NoError(t, NewBatchJobStorage(db, logger).Create(ctx, bj))
	assert.NotZero(t, bj.ID)

	// A lease on the first session must survive persistence: a pointer to a
	// zero id would drop out of the gob encoding.
	job.SessionID = &sess.ID
	require.NoError(t, NewJobStorage(db, logger).SaveBatch(ctx, []*models.Job{job}, nil))
	got, err := NewJobStorage(db, logger).Get(ctx, 1, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SessionID)
	assert.Equal(t, sess.ID, *got.SessionID)
}

func TestSiteUniqueTriple(t *testing.T) {
	db := newTestDB(t)
	storage := NewSiteStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Create(ctx, &models.Site{OwnerID: 1, Hostname: "theta", Path: "/projects/foo"}))

	// Same (owner, hostname, path) conflicts.
	err := storage.Create(ctx, &models.Site{OwnerID: 1, Hostname: "theta", Path: "/projects/foo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Different path or different owner is fine.
	require.NoError(t, storage.Create(ctx, &models.Site{OwnerID: 1, Hostname: "theta", Path: "/projects/bar"}))
	require.NoError(t, storage.Create(ctx, &models.Site{OwnerID: 2, Hostname: "theta", Path: "/projects/foo"}))
}

func TestSiteGetHidesOtherOwners(t *testing.T) {
	db := newTestDB(t)
	storage := NewSiteStorage(db, arbor.NewLogger())
	ctx := context.Background()

	site := &models.Site{OwnerID: 1, Hostname: "theta", Path: "/projects/foo"}
	require.NoError(t, storage.Create(ctx, site))

	_, err := storage.Get(ctx, 2, site.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSiteFindPagination(t *testing.T) {
	db := newTestDB(t)
	storage := NewSiteStorage(db, arbor.NewLogger())
	ctx := context.Background()

	paths := []string{"/a", "/b", "/c", "/d", "/e"}
	for _, p := range paths {
		require.NoError(t, storage.Create(ctx, &models.Site{OwnerID: 1, Hostname: "theta", Path: p}))
	}

	count, page, err := storage.Find(ctx, 1, &models.SiteQuery{OrderBy: []string{"path"}}, &models.Paginator{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	require.Len(t, page, 2)
	assert.Equal(t, "/b", page[0].Path)
	assert.Equal(t, "/c", page[1].Path)

	// Offset past the end yields an empty page, count unchanged.
	count, page, err = storage.Find(ctx, 1, nil, &models.Paginator{Offset: 10, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Empty(t, page)
}

func TestSiteDeleteCascades(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	siteStorage := NewSiteStorage(db, logger)
	appStorage := NewAppStorage(db, logger)
	jobStorage := NewJobStorage(db, logger)
	batchStorage := NewBatchJobStorage(db, logger)
	ctx := context.Background()

	site := &models.Site{OwnerID: 1, Hostname: "theta", Path: "/projects/foo"}
	require.NoError(t, siteStorage.Create(ctx, site))
	other := &models.Site{OwnerID: 1, Hostname: "cooley", Path: "/projects/foo"}
	require.NoError(t, siteStorage.Create(ctx, other))

	// One app only at the doomed site, one spanning both.
	single := &models.App{OwnerID: 1, Name: "single", Backends: []models.AppBackend{{SiteID: site.ID, ClassName: "demo.A"}}}
	require.NoError(t, appStorage.Create(ctx, single))
	spanning := &models.App{OwnerID: 1, Name: "spanning", Backends: []models.AppBackend{
		{SiteID: site.ID, ClassName: "demo.B"},
		{SiteID: other.ID, ClassName: "demo.B"},
	}}
	require.NoError(t, appStorage.Create(ctx, spanning))

	job := &models.Job{OwnerID: 1, SiteID: site.ID, AppID: single.ID, Workdir: "runs/1", State: models.JobStagedIn}
	require.NoError(t, jobStorage.InsertBatch(ctx, []*models.JobBundle{{Job: job}}))

	bj := &models.BatchJob{OwnerID: 1, SiteID: site.ID, Project: "p", Queue: "q", NumNodes: 1, WallTimeMin: 10, JobMode: "mpi", State: models.BatchQueued}
	require.NoError(t, batchStorage.Create(ctx, bj))

	require.NoError(t, siteStorage.Delete(ctx, 1, site.ID))

	_, err := siteStorage.Get(ctx, 1, site.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = jobStorage.Get(ctx, 1, job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = batchStorage.Get(ctx, 1, bj.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// The single-backend app is gone; the spanning one lost just the backend.
	_, err = appStorage.Get(ctx, 1, single.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	kept, err := appStorage.Get(ctx, 1, spanning.ID)
	require.NoError(t, err)
	require.Len(t, kept.Backends, 1)
	assert.Equal(t, other.ID, kept.Backends[0].SiteID)
}

func TestTokenStorageRoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewTokenStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Put(ctx, "secret-token", 7))

	ownerID, err := storage.Resolve(ctx, "secret-token")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ownerID)

	_, err = storage.Resolve(ctx, "unknown")
	assert.ErrorIs(t, err, models.ErrAuth)
}
