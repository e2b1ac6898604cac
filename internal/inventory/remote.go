package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CMDBClient is the wire-level collaborator the RemoteAdapter queries.
// The concrete protocol (SWQL, REST, GraphQL) is owned by the implementation;
// the adapter only sees tabular records.
type CMDBClient interface {
	// FetchNodes returns raw node records matching the given field filter.
	// An empty filter returns every node the source knows about.
	FetchNodes(ctx context.Context, filter map[string]string) ([]map[string]any, error)
}

// RemoteConfig controls RemoteAdapter caching behaviour.
type RemoteConfig struct {
	// CacheTTL is how long a cached selector result stays fresh.
	// Default: 300s.
	CacheTTL time.Duration

	// ServeStaleOnError allows an expired cache entry to be served when a
	// live refresh fails. Off by default: a failed refresh surfaces
	// ErrUnavailable rather than silently returning stale data.
	ServeStaleOnError bool

	// Groups maps group names to selectors for this source. The remote
	// protocol has no native group concept, so groups are configured.
	Groups map[string]Selector
}

// cacheEntry is an immutable cached query result. Entries are replaced
// whole, never mutated, so concurrent readers are safe without copying.
type cacheEntry struct {
	devices   []Device
	fetchedAt time.Time
}

// RemoteAdapter queries an external CMDB and normalises its records into
// the canonical Device shape. Results are cached per selector key with a
// TTL; refresh is copy-on-write under a single writer lock.
type RemoteAdapter struct {
	client CMDBClient
	cfg    RemoteConfig
	logger Logger

	cache   map[string]cacheEntry
	cacheMu sync.RWMutex

	// now is injectable for TTL tests.
	now func() time.Time
}

// Logger is the minimal logging interface the inventory adapters need.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// defaultCacheTTL matches the documented remote inventory default.
const defaultCacheTTL = 300 * time.Second

// NewRemote creates a RemoteAdapter over the given client.
func NewRemote(client CMDBClient, cfg RemoteConfig) *RemoteAdapter {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Groups == nil {
		cfg.Groups = map[string]Selector{}
	}
	return &RemoteAdapter{
		client: client,
		cfg:    cfg,
		logger: noopLogger{},
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// SetLogger sets the logger for the adapter.
func (a *RemoteAdapter) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// Query resolves a selector against the remote source, serving from cache
// when the entry is still within its TTL.
func (a *RemoteAdapter) Query(ctx context.Context, sel Selector) ([]Device, error) {
	filter, err := a.resolveFilter(sel)
	if err != nil {
		return nil, err
	}

	key := sel.Key()

	a.cacheMu.RLock()
	entry, cached := a.cache[key]
	a.cacheMu.RUnlock()

	if cached && a.now().Sub(entry.fetchedAt) < a.cfg.CacheTTL {
		a.logger.Debug("inventory cache hit", "selector", key, "devices", len(entry.devices))
		return copyDevices(entry.devices), nil
	}

	devices, fetchErr := a.fetch(ctx, filter)
	if fetchErr != nil {
		if cached && a.cfg.ServeStaleOnError {
			a.logger.Warn("inventory refresh failed, serving stale",
				"selector", key,
				"age", a.now().Sub(entry.fetchedAt).String(),
				"error", fetchErr,
			)
			return copyDevices(entry.devices), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, fetchErr)
	}

	a.cacheMu.Lock()
	a.cache[key] = cacheEntry{devices: devices, fetchedAt: a.now()}
	a.cacheMu.Unlock()

	a.logger.Debug("inventory cache refreshed", "selector", key, "devices", len(devices))
	return copyDevices(devices), nil
}

// Groups returns the configured group selectors.
func (a *RemoteAdapter) Groups(_ context.Context) (map[string]Selector, error) {
	out := make(map[string]Selector, len(a.cfg.Groups))
	for name, sel := range a.cfg.Groups {
		out[name] = sel
	}
	return out, nil
}

// InvalidateCache drops all cached entries, forcing live queries.
func (a *RemoteAdapter) InvalidateCache() {
	a.cacheMu.Lock()
	a.cache = make(map[string]cacheEntry)
	a.cacheMu.Unlock()
}

// fetch performs a live query and normalises the result.
//
// Tag filters cannot be pushed down to every CMDB backend, so the field
// portion of the filter goes over the wire and tag membership is applied
// after normalisation.
func (a *RemoteAdapter) fetch(ctx context.Context, filter *Filter) ([]Device, error) {
	var wireFilter map[string]string
	if filter != nil && len(filter.Fields) > 0 {
		wireFilter = filter.Fields
	}

	records, err := a.client.FetchNodes(ctx, wireFilter)
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(records))
	for _, record := range records {
		d := NormaliseRecord(record)
		if d.Hostname == "" {
			a.logger.Warn("skipping record without hostname")
			continue
		}
		if filter != nil && !matchesTags(d, filter.Tags) {
			continue
		}
		devices = append(devices, d)
	}

	devices = dedupeDevices(devices)
	sortDevices(devices)
	return devices, nil
}

// resolveFilter expands a group selector into its configured filter.
func (a *RemoteAdapter) resolveFilter(sel Selector) (*Filter, error) {
	if sel.Group == "" {
		return sel.Filter, nil
	}
	group, ok := a.cfg.Groups[sel.Group]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGroupNotFound, sel.Group)
	}
	return group.Filter, nil
}

// matchesTags reports whether the device carries all the required tags.
func matchesTags(d Device, tags []string) bool {
	for _, tag := range tags {
		if !d.HasTag(tag) {
			return false
		}
	}
	return true
}

// copyDevices returns an independent copy of a cached device slice so
// callers can never mutate cache contents.
func copyDevices(devices []Device) []Device {
	out := make([]Device, len(devices))
	copy(out, devices)
	for i := range out {
		if out[i].Extra != nil {
			extra := make(map[string]any, len(out[i].Extra))
			for k, v := range out[i].Extra {
				extra[k] = v
			}
			out[i].Extra = extra
		}
	}
	return out
}
