// Package sites implements site registration and the scheduler-reported
// status updates that keep backfill windows current.
package sites

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
	"github.com/ternarybob/lodestar/internal/services/scheduler"
)

// Service manages the site collection.
type Service struct {
	sites    interfaces.SiteStorage
	notifier interfaces.Notifier
	logger   arbor.ILogger
}

// NewService creates a new site service.
func NewService(sites interfaces.SiteStorage, notifier interfaces.Notifier, logger arbor.ILogger) *Service {
	return &Service{
		sites:    sites,
		notifier: notifier,
		logger:   logger,
	}
}

// Create registers a site. The (owner, hostname, path) triple must be
// unique.
func (s *Service) Create(ctx context.Context, ownerID uint64, spec *models.SiteCreate) (*models.Site, error) {
	site := &models.Site{
		OwnerID:  ownerID,
		Hostname: spec.Hostname,
		Path:     spec.Path,
	}
	if err := s.sites.Create(ctx, site); err != nil {
		return nil, err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkCreate, interfaces.EntitySite, []*models.Site{site})
	s.logger.Info().Int64("site_id", int64(site.ID)).Str("hostname", site.Hostname).Msg("Site registered")
	return site, nil
}

// Get returns one site.
func (s *Service) Get(ctx context.Context, ownerID, id uint64) (*models.Site, error) {
	return s.sites.Get(ctx, ownerID, id)
}

// List returns the filtered count and one page of sites.
func (s *Service) List(ctx context.Context, ownerID uint64, q *models.SiteQuery, p *models.Paginator) (int, []*models.Site, error) {
	return s.sites.Find(ctx, ownerID, q, p)
}

// Update applies one patch to one site. LastRefresh bumps on every write.
func (s *Service) Update(ctx context.Context, ownerID, id uint64, patch *models.SiteUpdate) (*models.Site, error) {
	site, err := s.sites.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if patch.Hostname != nil {
		site.Hostname = *patch.Hostname
	}
	if patch.Path != nil {
		site.Path = *patch.Path
	}
	if patch.Status != nil {
		site.Status = *patch.Status
	}
	if len(patch.IdleNodes) > 0 {
		windows, err := aggregateBackfill(patch.IdleNodes)
		if err != nil {
			return nil, err
		}
		site.Status.BackfillWindows = windows
	}
	if err := s.sites.Update(ctx, site); err != nil {
		return nil, err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkUpdate, interfaces.EntitySite, []*models.Site{site})
	return site, nil
}

// aggregateBackfill parses each report's scheduler wall time and folds the
// records into per-queue cumulative windows.
func aggregateBackfill(reports []models.IdleNodeReport) (map[string][]models.BackfillWindow, error) {
	nodes := make([]scheduler.IdleNode, 0, len(reports))
	for _, r := range reports {
		minutes, err := scheduler.ParseWallTime(r.WallTime)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, scheduler.IdleNode{
			Queues:      r.Queues,
			WallTimeMin: minutes,
		})
	}
	return scheduler.BackfillWindows(nodes), nil
}

// Delete removes a site and everything beneath it.
func (s *Service) Delete(ctx context.Context, ownerID, id uint64) error {
	site, err := s.sites.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.sites.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkDelete, interfaces.EntitySite, []*models.Site{site})
	return nil
}
