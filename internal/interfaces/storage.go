package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/lodestar/internal/models"
)

// SiteStorage - site persistence. Delete cascades to apps, jobs, events,
// transfer items, batch jobs and sessions at the site.
type SiteStorage interface {
	Create(ctx context.Context, site *models.Site) error
	Get(ctx context.Context, ownerID, id uint64) (*models.Site, error)
	Find(ctx context.Context, ownerID uint64, q *models.SiteQuery, p *models.Paginator) (int, []*models.Site, error)
	Update(ctx context.Context, site *models.Site) error
	Delete(ctx context.Context, ownerID, id uint64) error
}

// AppStorage - app persistence. Delete cascades to the app's jobs.
type AppStorage interface {
	Create(ctx context.Context, app *models.App) error
	Get(ctx context.Context, ownerID, id uint64) (*models.App, error)
	Find(ctx context.Context, ownerID uint64, q *models.AppQuery, p *models.Paginator) (int, []*models.App, error)
	Update(ctx context.Context, app *models.App) error
	Delete(ctx context.Context, ownerID, id uint64) error
}

// JobStorage - job persistence. Batch writes commit in a single store
// transaction together with the log events they produce.
type JobStorage interface {
	InsertBatch(ctx context.Context, bundles []*models.JobBundle) error
	Get(ctx context.Context, ownerID, id uint64) (*models.Job, error)
	Find(ctx context.Context, ownerID uint64, q *models.JobQuery, p *models.Paginator) (int, []*models.Job, error)
	SaveBatch(ctx context.Context, jobs []*models.Job, events []*models.LogEvent) error
	DeleteBatch(ctx context.Context, ownerID uint64, ids []uint64) error
	GetByWorkdir(ctx context.Context, siteID uint64, workdir string) (*models.Job, error)
}

// EventStorage - append-only log-event reads. Writes happen through
// JobStorage batch operations.
type EventStorage interface {
	Find(ctx context.Context, ownerID uint64, q *models.EventQuery, p *models.Paginator) (int, []*models.LogEvent, error)
}

// BatchJobStorage - batch-job persistence. Per-row delete only; the filter
// surface never deletes batch jobs.
type BatchJobStorage interface {
	Create(ctx context.Context, bj *models.BatchJob) error
	Get(ctx context.Context, ownerID, id uint64) (*models.BatchJob, error)
	Find(ctx context.Context, ownerID uint64, q *models.BatchJobQuery, p *models.Paginator) (int, []*models.BatchJob, error)
	Update(ctx context.Context, bj *models.BatchJob) error
	UpdateBatch(ctx context.Context, batches []*models.BatchJob) error
	Delete(ctx context.Context, ownerID, id uint64) error
}

// SessionStorage - launcher lease rows.
type SessionStorage interface {
	Create(ctx context.Context, sess *models.Session) error
	Get(ctx context.Context, ownerID, id uint64) (*models.Session, error)
	Update(ctx context.Context, sess *models.Session) error
	Delete(ctx context.Context, ownerID, id uint64) error
	ListExpired(ctx context.Context, before time.Time) ([]*models.Session, error)
}

// TransferStorage - transfer-item rows attached to jobs.
type TransferStorage interface {
	Get(ctx context.Context, ownerID, id uint64) (*models.TransferItem, error)
	Find(ctx context.Context, ownerID uint64, jobIDs []uint64, state models.TransferState, p *models.Paginator) (int, []*models.TransferItem, error)
	Update(ctx context.Context, item *models.TransferItem) error
}

// TokenStorage - opaque API token to owner resolution.
type TokenStorage interface {
	Put(ctx context.Context, token string, ownerID uint64) error
	Resolve(ctx context.Context, token string) (uint64, error)
}
