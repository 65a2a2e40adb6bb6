package domain

import (
	"log/slog"
	"time"

	"github.com/homelab-tools/beszel-proxy/internal/domain/systems"
)

// Container wires domain services together.
type Container struct {
	Systems systems.Service
}

// Options configures the domain container.
type Options struct {
	SystemsSource systems.Source
	SnapshotCache systems.Cache
	CacheTTL      time.Duration
	Logger        *slog.Logger
	ObserveCount  func(count int)
}

// New constructs a domain container with the provided upstream and cache.
func New(opts Options) Container {
	source := opts.SystemsSource
	if source == nil {
		source = systems.NullSource{}
	}

	return Container{
		Systems: systems.NewService(systems.Options{
			Source:   source,
			Cache:    opts.SnapshotCache,
			CacheTTL: opts.CacheTTL,
			Logger:   opts.Logger,
			Observe:  opts.ObserveCount,
		}),
	}
}
