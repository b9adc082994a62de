package models

import "time"

// BackfillWindow is a (num_nodes, wall_time_min) capacity slot advertised by
// a site's scheduler: num_nodes are available right now for up to
// wall_time_min minutes.
type BackfillWindow struct {
	NumNodes    int `json:"num_nodes"`
	WallTimeMin int `json:"wall_time_min"`
}

// SiteStatus is the scheduler-reported snapshot embedded in a Site.
// BackfillWindows maps queue name to available windows, longest first.
type SiteStatus struct {
	NumNodes        int                         `json:"num_nodes"`
	NumIdleNodes    int                         `json:"num_idle_nodes"`
	NumBusyNodes    int                         `json:"num_busy_nodes"`
	BackfillWindows map[string][]BackfillWindow `json:"backfill_windows,omitempty"`
}

// Site is a named compute resource owned by one user. The
// (owner, hostname, path) triple is unique. LastRefresh is bumped by the
// server on every write.
type Site struct {
	ID          uint64     `json:"id" badgerhold:"key"`
	OwnerID     uint64     `json:"-" badgerhold:"index"`
	Hostname    string     `json:"hostname" badgerhold:"index"`
	Path        string     `json:"path"`
	Status      SiteStatus `json:"status"`
	LastRefresh time.Time  `json:"last_refresh"`
}

// SiteCreate is the POST /sites payload.
type SiteCreate struct {
	Hostname string `json:"hostname" validate:"required"`
	Path     string `json:"path" validate:"required"`
}

// IdleNodeReport is one idle-node record in a site status update. WallTime
// arrives as the scheduler prints it, "HH:MM:SS"; the server folds these
// into per-queue backfill windows.
type IdleNodeReport struct {
	Queues   []string `json:"queues"`
	WallTime string   `json:"wall_time" validate:"required"`
}

// SiteUpdate is the PUT /sites/{id} payload. Nil fields are left unchanged.
type SiteUpdate struct {
	Hostname  *string          `json:"hostname,omitempty"`
	Path      *string          `json:"path,omitempty"`
	Status    *SiteStatus      `json:"status,omitempty"`
	IdleNodes []IdleNodeReport `json:"idle_nodes,omitempty"`
}
