// Package apps manages the app collection, including backend
// denormalization against sites and the merge operation.
package apps

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/models"
)

// Service manages apps and their site backends.
type Service struct {
	apps     interfaces.AppStorage
	sites    interfaces.SiteStorage
	jobs     interfaces.JobStorage
	notifier interfaces.Notifier
	logger   arbor.ILogger
}

// NewService creates a new app service.
func NewService(apps interfaces.AppStorage, sites interfaces.SiteStorage, jobs interfaces.JobStorage, notifier interfaces.Notifier, logger arbor.ILogger) *Service {
	return &Service{
		apps:     apps,
		sites:    sites,
		jobs:     jobs,
		notifier: notifier,
		logger:   logger,
	}
}

// Create registers an app with at least one backend. Backend site hostname
// and path are denormalized at write time.
func (s *Service) Create(ctx context.Context, ownerID uint64, spec *models.AppCreate) (*models.App, error) {
	backends, err := s.resolveBackends(ctx, ownerID, spec.Backends)
	if err != nil {
		return nil, err
	}
	app := &models.App{
		OwnerID:    ownerID,
		Name:       spec.Name,
		Backends:   backends,
		Parameters: spec.Parameters,
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkCreate, interfaces.EntityApp, []*models.App{app})
	return app, nil
}

// Get returns one app.
func (s *Service) Get(ctx context.Context, ownerID, id uint64) (*models.App, error) {
	return s.apps.Get(ctx, ownerID, id)
}

// List returns the filtered count and one page of apps.
func (s *Service) List(ctx context.Context, ownerID uint64, q *models.AppQuery, p *models.Paginator) (int, []*models.App, error) {
	return s.apps.Find(ctx, ownerID, q, p)
}

// Update applies one patch to one app. A backends list in the patch
// replaces the whole set.
func (s *Service) Update(ctx context.Context, ownerID, id uint64, patch *models.AppUpdate) (*models.App, error) {
	app, err := s.apps.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		app.Name = *patch.Name
	}
	if patch.Backends != nil {
		if len(patch.Backends) == 0 {
			return nil, models.Validationf("app needs at least one backend")
		}
		backends, err := s.resolveBackends(ctx, ownerID, patch.Backends)
		if err != nil {
			return nil, err
		}
		app.Backends = backends
	}
	if patch.Parameters != nil {
		app.Parameters = patch.Parameters
	}
	if err := s.apps.Update(ctx, app); err != nil {
		return nil, err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkUpdate, interfaces.EntityApp, []*models.App{app})
	return app, nil
}

// Delete removes an app and its jobs.
func (s *Service) Delete(ctx context.Context, ownerID, id uint64) error {
	app, err := s.apps.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.apps.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.notifier.Publish(ownerID, interfaces.ActionBulkDelete, interfaces.EntityApp, []*models.App{app})
	return nil
}

// Merge combines same-owner apps into one carrying the union of their
// backends in input order. Jobs of the merged-away apps re-point to the
// merged app; the old rows delete.
func (s *Service) Merge(ctx context.Context, ownerID uint64, spec *models.AppMerge) (*models.App, error) {
	var sources []*models.App
	for _, id := range spec.AppIDs {
		app, err := s.apps.Get(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, app)
	}

	var backends []models.AppBackend
	seen := map[string]bool{}
	for _, app := range sources {
		for _, b := range app.Backends {
			key := backendKey(b)
			if seen[key] {
				continue
			}
			seen[key] = true
			backends = append(backends, b)
		}
	}

	merged := &models.App{
		OwnerID:    ownerID,
		Name:       spec.Name,
		Backends:   backends,
		Parameters: sources[0].Parameters,
	}
	if err := s.apps.Create(ctx, merged); err != nil {
		return nil, err
	}

	for _, app := range sources {
		_, jobs, err := s.jobs.Find(ctx, ownerID, &models.JobQuery{AppID: app.ID}, nil)
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			job.AppID = merged.ID
		}
		if len(jobs) > 0 {
			if err := s.jobs.SaveBatch(ctx, jobs, nil); err != nil {
				return nil, err
			}
		}
		// Jobs are re-pointed, so the cascading delete finds nothing to
		// remove beyond the app row itself.
		if err := s.apps.Delete(ctx, ownerID, app.ID); err != nil {
			return nil, err
		}
	}

	s.notifier.Publish(ownerID, interfaces.ActionBulkCreate, interfaces.EntityApp, []*models.App{merged})
	s.notifier.Publish(ownerID, interfaces.ActionBulkDelete, interfaces.EntityApp, sources)
	s.logger.Info().Int64("app_id", int64(merged.ID)).Int("merged", len(sources)).Msg("Apps merged")
	return merged, nil
}

func (s *Service) resolveBackends(ctx context.Context, ownerID uint64, in []models.AppBackend) ([]models.AppBackend, error) {
	out := make([]models.AppBackend, len(in))
	for i, b := range in {
		site, err := s.sites.Get(ctx, ownerID, b.SiteID)
		if err != nil {
			return nil, err
		}
		out[i] = models.AppBackend{
			SiteID:       b.SiteID,
			ClassName:    b.ClassName,
			SiteHostname: site.Hostname,
			SitePath:     site.Path,
		}
	}
	return out, nil
}

func backendKey(b models.AppBackend) string {
	return b.ClassName + "@" + b.SiteHostname + ":" + b.SitePath
}
