// Package sources tracks where operational data was discovered: which host
// serves which logs, where a service's metrics live, which endpoint answers
// for an API. Entries carry a discovery timestamp and expire after a TTL so
// stale discoveries do not outlive infrastructure changes.
package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a discovered source stays fresh.
const DefaultTTL = 24 * time.Hour

// Kind classifies what a source provides.
type Kind string

const (
	KindLogs     Kind = "logs"
	KindMetrics  Kind = "metrics"
	KindConfig   Kind = "config"
	KindDatabase Kind = "database"
	KindAPI      Kind = "api"
)

// Source is one discovered data source. The (Name, Host) pair identifies
// it; re-recording the same pair refreshes the entry.
type Source struct {
	// Name identifies the source, e.g. "prometheus" or "nginx-access-log".
	Name string `json:"name"`
	// Kind classifies it: logs, metrics, config, database, api.
	Kind Kind `json:"kind"`
	// Location says where it lives: a URL, an absolute path, a DSN name.
	Location string `json:"location"`
	// Host is the infrastructure host the source was found on, if any.
	Host string `json:"host,omitempty"`
	// Detail carries free-form discovery context.
	Detail string `json:"detail,omitempty"`
	// DiscoveredAt stamps the discovery; freshness is measured from here.
	DiscoveredAt time.Time `json:"discovered_at"`
}

// registryFile is the on-disk shape of registry.json.
type registryFile struct {
	Sources []Source `json:"sources,omitempty"`
}

// Registry persists discovered sources in one JSON file. Every write
// re-reads the file first (append-merge), so edits by another process
// between calls survive.
type Registry struct {
	mu     sync.Mutex
	path   string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a registry over the given file path with the default
// TTL. The file is created on first write.
func NewRegistry(path string) *Registry {
	return &Registry{
		path:   path,
		ttl:    DefaultTTL,
		logger: slog.Default().With("component", "sources"),
		now:    time.Now,
	}
}

// WithTTL overrides the freshness window. Non-positive values keep the
// default.
func (r *Registry) WithTTL(ttl time.Duration) *Registry {
	if ttl > 0 {
		r.ttl = ttl
	}
	return r
}

// withNow overrides the clock for tests.
func (r *Registry) withNow(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Record stores a source, replacing any entry with the same name and host.
// A zero DiscoveredAt is stamped with the current time.
func (r *Registry) Record(source Source) error {
	if source.Name == "" {
		return errors.New("source name is empty")
	}
	if source.DiscoveredAt.IsZero() {
		source.DiscoveredAt = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var rf registryFile
	if err := r.read(&rf); err != nil {
		return err
	}
	replaced := false
	for i := range rf.Sources {
		if rf.Sources[i].Name == source.Name && rf.Sources[i].Host == source.Host {
			rf.Sources[i] = source
			replaced = true
			break
		}
	}
	if !replaced {
		rf.Sources = append(rf.Sources, source)
	}
	return r.write(&rf)
}

// Lookup returns fresh sources whose name, kind, host, or location contains
// the query (case-insensitive). An empty query returns every fresh source.
// Results come back most recently discovered first. Expired entries are
// skipped but stay on disk until Prune removes them.
func (r *Registry) Lookup(query string) ([]Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rf registryFile
	if err := r.read(&rf); err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-r.ttl)
	q := strings.ToLower(query)
	var fresh []Source
	for _, src := range rf.Sources {
		if src.DiscoveredAt.Before(cutoff) {
			continue
		}
		if q != "" && !sourceMatches(src, q) {
			continue
		}
		fresh = append(fresh, src)
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].DiscoveredAt.After(fresh[j].DiscoveredAt)
	})
	return fresh, nil
}

func sourceMatches(src Source, q string) bool {
	return strings.Contains(strings.ToLower(src.Name), q) ||
		strings.Contains(strings.ToLower(string(src.Kind)), q) ||
		strings.Contains(strings.ToLower(src.Host), q) ||
		strings.Contains(strings.ToLower(src.Location), q)
}

// Prune removes expired entries from disk and reports how many went.
func (r *Registry) Prune() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rf registryFile
	if err := r.read(&rf); err != nil {
		return 0, err
	}

	cutoff := r.now().Add(-r.ttl)
	kept := rf.Sources[:0]
	for _, src := range rf.Sources {
		if src.DiscoveredAt.Before(cutoff) {
			continue
		}
		kept = append(kept, src)
	}
	removed := len(rf.Sources) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	rf.Sources = kept
	if err := r.write(&rf); err != nil {
		return 0, err
	}
	r.logger.Debug("pruned expired sources", "removed", removed, "kept", len(kept))
	return removed, nil
}

func (r *Registry) read(rf *registryFile) error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", r.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, rf); err != nil {
		return fmt.Errorf("parse %s: %w", r.path, err)
	}
	return nil
}

func (r *Registry) write(rf *registryFile) error {
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", r.path, err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", r.path, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace %s: %w", r.path, err)
	}
	return nil
}
