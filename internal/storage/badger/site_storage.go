package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SiteStorage implements the SiteStorage interface for Badger.
type SiteStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSiteStorage creates a new SiteStorage instance.
func NewSiteStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SiteStorage {
	return &SiteStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SiteStorage) Create(ctx context.Context, site *models.Site) error {
	count, err := s.db.Store().Count(&models.Site{},
		badgerhold.Where("OwnerID").Eq(site.OwnerID).
			And("Hostname").Eq(site.Hostname).
			And("Path").Eq(site.Path))
	if err != nil {
		return fmt.Errorf("failed to check site uniqueness: %w", err)
	}
	if count > 0 {
		return models.Conflictf("site %s:%s already exists", site.Hostname, site.Path)
	}

	site.LastRefresh = time.Now().UTC()
	if err := s.db.Store().Insert(badgerhold.NextSequence(), site); err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

func (s *SiteStorage) Get(ctx context.Context, ownerID, id uint64) (*models.Site, error) {
	var site models.Site
	if err := s.db.Store().Get(id, &site); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NotFoundf("site %d", id)
		}
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	if site.OwnerID != ownerID {
		return nil, models.NotFoundf("site %d", id)
	}
	return &site, nil
}

func (s *SiteStorage) Find(ctx context.Context, ownerID uint64, q *models.SiteQuery, p *models.Paginator) (int, []*models.Site, error) {
	var rows []models.Site
	if err := s.db.Store().Find(&rows, badgerhold.Where("OwnerID").Eq(ownerID)); err != nil {
		return 0, nil, fmt.Errorf("failed to list sites: %w", err)
	}

	matched := make([]*models.Site, 0, len(rows))
	for i := range rows {
		if q == nil || siteMatches(&rows[i], q) {
			matched = append(matched, &rows[i])
		}
	}

	orderBy := []string{"id"}
	if q != nil && len(q.OrderBy) > 0 {
		orderBy = q.OrderBy
	}
	sortByColumns(matched, orderBy, compareSites)

	return len(matched), paginate(matched, p), nil
}

func siteMatches(site *models.Site, q *models.SiteQuery) bool {
	if len(q.IDs) > 0 && !containsID(q.IDs, site.ID) {
		return false
	}
	if q.Hostname != "" && site.Hostname != q.Hostname {
		return false
	}
	if q.PathContains != "" && !strings.Contains(site.Path, q.PathContains) {
		return false
	}
	return true
}

func compareSites(a, b *models.Site, col string) int {
	switch col {
	case "id":
		return compareUint64(a.ID, b.ID)
	case "hostname":
		return strings.Compare(a.Hostname, b.Hostname)
	case "path":
		return strings.Compare(a.Path, b.Path)
	case "last_refresh":
		return a.LastRefresh.Compare(b.LastRefresh)
	default:
		return 0
	}
}

func (s *SiteStorage) Update(ctx context.Context, site *models.Site) error {
	site.LastRefresh = time.Now().UTC()
	if err := s.db.Store().Update(site.ID, site); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.NotFoundf("site %d", site.ID)
		}
		return fmt.Errorf("failed to update site: %w", err)
	}
	return nil
}

// Delete removes the site and everything beneath it: apps, jobs (with their
// events and transfer items), batch jobs and sessions.
func (s *SiteStorage) Delete(ctx context.Context, ownerID, id uint64) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("SiteID").Eq(id)); err != nil {
		return fmt.Errorf("failed to list site jobs: %w", err)
	}
	jobIDs := make([]uint64, len(jobs))
	for i := range jobs {
		jobIDs[i] = jobs[i].ID
	}
	jobStorage := &JobStorage{db: s.db, logger: s.logger}
	if err := jobStorage.DeleteBatch(ctx, ownerID, jobIDs); err != nil {
		return err
	}

	// Apps keep backends at multiple sites; drop the backend, and the app
	// itself only when this site held its last backend.
	var apps []models.App
	if err := s.db.Store().Find(&apps, badgerhold.Where("OwnerID").Eq(ownerID)); err != nil {
		return fmt.Errorf("failed to list apps: %w", err)
	}
	for i := range apps {
		kept := apps[i].Backends[:0]
		for _, backend := range apps[i].Backends {
			if backend.SiteID != id {
				kept = append(kept, backend)
			}
		}
		if len(kept) == len(apps[i].Backends) {
			continue
		}
		if len(kept) == 0 {
			if err := s.db.Store().Delete(apps[i].ID, &models.App{}); err != nil && err != badgerhold.ErrNotFound {
				return fmt.Errorf("failed to delete app %d: %w", apps[i].ID, err)
			}
			continue
		}
		apps[i].Backends = kept
		if err := s.db.Store().Update(apps[i].ID, &apps[i]); err != nil {
			return fmt.Errorf("failed to update app %d: %w", apps[i].ID, err)
		}
	}

	if err := s.db.Store().DeleteMatching(&models.BatchJob{},
		badgerhold.Where("SiteID").Eq(id)); err != nil {
		return fmt.Errorf("failed to delete site batch jobs: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.Session{},
		badgerhold.Where("SiteID").Eq(id)); err != nil {
		return fmt.Errorf("failed to delete site sessions: %w", err)
	}

	if err := s.db.Store().Delete(id, &models.Site{}); err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}

	s.logger.Debug().Int64("site_id", int64(id)).Int("jobs", len(jobIDs)).Msg("Site deleted with cascade")
	return nil
}
