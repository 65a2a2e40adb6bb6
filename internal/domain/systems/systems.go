package systems

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrAuth marks failures to obtain a hub token.
	ErrAuth = errors.New("systems: authentication failed")
	// ErrFetch marks failures to read the systems collection.
	ErrFetch = errors.New("systems: fetch failed")
	// ErrNotConfigured is returned by NullSource.
	ErrNotConfigured = errors.New("systems: source not configured")
)

// Status values reported by the hub.
const (
	StatusUp = "up"
)

// System is one monitored host as reported by the hub.
type System struct {
	Name   string
	Status string
	Host   string
	Info   Info
}

// Up reports whether the hub currently sees the agent.
func (s System) Up() bool {
	return s.Status == StatusUp
}

// Info carries the latest agent measurements.
type Info struct {
	CPU         float64
	MemPercent  float64
	DiskPercent float64
	Kernel      string
	Uptime      float64 // seconds
	CPUModel    string
}

// Snapshot is one read of the systems collection.
type Snapshot struct {
	Raw       json.RawMessage
	Items     []System
	FetchedAt time.Time
}

// Count returns the number of systems in the snapshot.
func (s Snapshot) Count() int {
	return len(s.Items)
}

type recordList struct {
	Items []record `json:"items"`
}

type record struct {
	Name   *string     `json:"name"`
	Status *string     `json:"status"`
	Host   *string     `json:"host"`
	Info   *recordInfo `json:"info"`
}

type recordInfo struct {
	CPU      *float64 `json:"cpu"`
	Mem      *float64 `json:"mp"`
	Disk     *float64 `json:"dp"`
	Kernel   *string  `json:"k"`
	Uptime   *float64 `json:"u"`
	CPUModel *string  `json:"m"`
}

// Decode parses a systems collection response, filling hub defaults for
// missing fields. The raw body is retained on the snapshot.
func Decode(raw []byte, fetchedAt time.Time) (Snapshot, error) {
	var list recordList
	if err := json.Unmarshal(raw, &list); err != nil {
		return Snapshot{}, fmt.Errorf("decode systems: %w", err)
	}

	items := make([]System, 0, len(list.Items))
	for _, rec := range list.Items {
		items = append(items, rec.toSystem())
	}

	return Snapshot{
		Raw:       json.RawMessage(raw),
		Items:     items,
		FetchedAt: fetchedAt,
	}, nil
}

func (r record) toSystem() System {
	sys := System{
		Name:   stringOr(r.Name, "Unknown"),
		Status: stringOr(r.Status, "unknown"),
		Host:   stringOr(r.Host, ""),
		Info: Info{
			Kernel:   "N/A",
			CPUModel: "N/A",
		},
	}
	if in := r.Info; in != nil {
		sys.Info = Info{
			CPU:         floatOr(in.CPU),
			MemPercent:  floatOr(in.Mem),
			DiskPercent: floatOr(in.Disk),
			Kernel:      stringOr(in.Kernel, "N/A"),
			Uptime:      floatOr(in.Uptime),
			CPUModel:    stringOr(in.CPUModel, "N/A"),
		}
	}
	return sys
}

func stringOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func floatOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Source abstracts the upstream hub.
type Source interface {
	FetchSystems(ctx context.Context) (Snapshot, error)
}

// NullSource returns ErrNotConfigured for all operations.
type NullSource struct{}

func (NullSource) FetchSystems(ctx context.Context) (Snapshot, error) {
	return Snapshot{}, ErrNotConfigured
}

// Cache memoises the latest snapshot.
type Cache interface {
	Get(maxAge time.Duration, now time.Time) (Snapshot, bool)
	Put(snapshot Snapshot)
}

// Service provides read access to the monitored systems.
type Service interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Options configures the systems service.
type Options struct {
	Source   Source
	Cache    Cache
	CacheTTL time.Duration
	Logger   *slog.Logger
	// Observe, when set, receives the item count of every fresh snapshot.
	Observe func(count int)
}

// NewService builds a systems service.
func NewService(opts Options) Service {
	src := opts.Source
	if src == nil {
		src = NullSource{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &service{
		source:  src,
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		logger:  log,
		observe: opts.Observe,
		now:     time.Now,
	}
}

type service struct {
	source  Source
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
	observe func(count int)
	now     func() time.Time
}

func (s *service) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.cache != nil && s.ttl > 0 {
		if snap, ok := s.cache.Get(s.ttl, s.now()); ok {
			s.logger.Debug("serving cached snapshot", "age", s.now().Sub(snap.FetchedAt))
			return snap, nil
		}
	}

	snap, err := s.source.FetchSystems(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	if s.cache != nil && s.ttl > 0 {
		s.cache.Put(snap)
	}
	if s.observe != nil {
		s.observe(snap.Count())
	}
	return snap, nil
}
