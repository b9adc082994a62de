package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AppStorage implements the AppStorage interface for Badger.
type AppStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAppStorage creates a new AppStorage instance.
func NewAppStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AppStorage {
	return &AppStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AppStorage) Create(ctx context.Context, app *models.App) error {
	count, err := s.db.Store().Count(&models.App{},
		badgerhold.Where("OwnerID").Eq(app.OwnerID).And("Name").Eq(app.Name))
	if err != nil {
		return fmt.Errorf("failed to check app uniqueness: %w", err)
	}
	if count > 0 {
		return models.Conflictf("app %q already exists", app.Name)
	}

	if err := s.db.Store().Insert(badgerhold.NextSequence(), app); err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	return nil
}

func (s *AppStorage) Get(ctx context.Context, ownerID, id uint64) (*models.App, error) {
	var app models.App
	if err := s.db.Store().Get(id, &app); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NotFoundf("app %d", id)
		}
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	if app.OwnerID != ownerID {
		return nil, models.NotFoundf("app %d", id)
	}
	return &app, nil
}

func (s *AppStorage) Find(ctx context.Context, ownerID uint64, q *models.AppQuery, p *models.Paginator) (int, []*models.App, error) {
	var rows []models.App
	if err := s.db.Store().Find(&rows, badgerhold.Where("OwnerID").Eq(ownerID)); err != nil {
		return 0, nil, fmt.Errorf("failed to list apps: %w", err)
	}

	matched := make([]*models.App, 0, len(rows))
	for i := range rows {
		if q == nil || appMatches(&rows[i], q) {
			matched = append(matched, &rows[i])
		}
	}

	orderBy := []string{"id"}
	if q != nil && len(q.OrderBy) > 0 {
		orderBy = q.OrderBy
	}
	sortByColumns(matched, orderBy, compareApps)

	return len(matched), paginate(matched, p), nil
}

func appMatches(app *models.App, q *models.AppQuery) bool {
	if len(q.IDs) > 0 && !containsID(q.IDs, app.ID) {
		return false
	}
	if q.Name != "" && app.Name != q.Name {
		return false
	}
	if q.SiteID != 0 {
		found := false
		for _, backend := range app.Backends {
			if backend.SiteID == q.SiteID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.SiteHostname != "" {
		found := false
		for _, backend := range app.Backends {
			if backend.SiteHostname == q.SiteHostname {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func compareApps(a, b *models.App, col string) int {
	switch col {
	case "id":
		return compareUint64(a.ID, b.ID)
	case "name":
		return strings.Compare(a.Name, b.Name)
	default:
		return 0
	}
}

func (s *AppStorage) Update(ctx context.Context, app *models.App) error {
	if err := s.db.Store().Update(app.ID, app); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.NotFoundf("app %d", app.ID)
		}
		return fmt.Errorf("failed to update app: %w", err)
	}
	return nil
}

// Delete removes the app and cascades to its jobs.
func (s *AppStorage) Delete(ctx context.Context, ownerID, id uint64) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("AppID").Eq(id)); err != nil {
		return fmt.Errorf("failed to list app jobs: %w", err)
	}
	jobIDs := make([]uint64, len(jobs))
	for i := range jobs {
		jobIDs[i] = jobs[i].ID
	}
	jobStorage := &JobStorage{db: s.db, logger: s.logger}
	if err := jobStorage.DeleteBatch(ctx, ownerID, jobIDs); err != nil {
		return err
	}

	if err := s.db.Store().Delete(id, &models.App{}); err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}

	s.logger.Debug().Int64("app_id", int64(id)).Int("jobs", len(jobIDs)).Msg("App deleted with cascade")
	return nil
}
