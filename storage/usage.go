package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruteri/legal-docstore/interfaces"
)

const (
	planNotConfigured = "not configured"
	planUnavailable   = "unavailable"
)

// UsageReport is the aggregate of every backend's usage.
type UsageReport struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Priority    []interfaces.BackendID    `json:"priority"`
	Backends    []interfaces.BackendUsage `json:"backends"`

	// LocalFiles and LocalBytes come from scanning the local root.
	LocalFiles int64 `json:"local_files"`
	LocalBytes int64 `json:"local_bytes"`

	// CDN holds the CDN usage and quota when the CDN could be queried.
	CDN *interfaces.BackendUsage `json:"cdn,omitempty"`

	TotalFiles int64 `json:"total_files"`
	TotalBytes int64 `json:"total_bytes"`
}

// Backend returns the entry for id.
func (r *UsageReport) Backend(id interfaces.BackendID) (interfaces.BackendUsage, bool) {
	for _, u := range r.Backends {
		if u.Backend == id {
			return u, true
		}
	}
	return interfaces.BackendUsage{}, false
}

// UsageReporter queries each adapter's usage and merges the results.
// A failing backend gets an "unavailable" entry; the report itself never fails.
type UsageReporter struct {
	adapters []interfaces.StorageAdapter
	priority []interfaces.BackendID
	log      *slog.Logger
	now      func() time.Time
}

func NewUsageReporter(adapters []interfaces.StorageAdapter, priority []interfaces.BackendID, log *slog.Logger) *UsageReporter {
	if log == nil {
		log = slog.Default()
	}
	return &UsageReporter{
		adapters: adapters,
		priority: priority,
		log:      log,
		now:      time.Now,
	}
}

func (u *UsageReporter) Report(ctx context.Context) *UsageReport {
	report := &UsageReport{
		GeneratedAt: u.now().UTC(),
		Priority:    append([]interfaces.BackendID(nil), u.priority...),
		Backends:    make([]interfaces.BackendUsage, 0, len(u.adapters)),
	}

	for _, a := range u.adapters {
		entry := u.backendUsage(ctx, a)
		report.Backends = append(report.Backends, entry)
		if entry.Error != "" || !entry.Available {
			continue
		}

		report.TotalFiles += entry.Files
		report.TotalBytes += entry.Bytes
		switch entry.Backend {
		case interfaces.BackendLocal:
			report.LocalFiles = entry.Files
			report.LocalBytes = entry.Bytes
		case interfaces.BackendCDN:
			cdn := entry
			report.CDN = &cdn
		}
	}
	return report
}

func (u *UsageReporter) backendUsage(ctx context.Context, a interfaces.StorageAdapter) interfaces.BackendUsage {
	id := a.ID()
	if !a.Available() {
		return interfaces.BackendUsage{Backend: id, Plan: planNotConfigured}
	}

	start := time.Now()
	usage, err := a.Usage(ctx)
	if err != nil || usage == nil {
		msg := "no usage reported"
		if err != nil {
			msg = err.Error()
		}
		u.log.Warn("Failed to query backend usage",
			slog.String("backend", id.String()),
			"err", err)
		return interfaces.BackendUsage{Backend: id, Plan: planUnavailable, Error: msg}
	}

	u.log.Debug("Queried backend usage",
		slog.String("backend", id.String()),
		slog.Int64("files", usage.Files),
		slog.Int64("bytes", usage.Bytes),
		slog.Duration("duration", time.Since(start)))

	entry := *usage
	entry.Backend = id
	entry.Available = true
	if l, ok := a.(locator); ok && entry.Location == "" {
		entry.Location = l.LocationURI()
	}
	return entry
}

// locator is implemented by adapters that can name where they keep objects.
type locator interface {
	LocationURI() string
}
