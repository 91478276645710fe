package sources

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, now time.Time) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	return NewRegistry(path).withNow(func() time.Time { return now })
}

func TestRecordAndLookup(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, now)

	require.NoError(t, reg.Record(Source{
		Name:     "prometheus",
		Kind:     KindMetrics,
		Location: "http://monitor-1:9090",
		Host:     "monitor-1",
	}))
	require.NoError(t, reg.Record(Source{
		Name:     "nginx-access-log",
		Kind:     KindLogs,
		Location: "/var/log/nginx/access.log",
		Host:     "web-1",
	}))

	t.Run("by name", func(t *testing.T) {
		found, err := reg.Lookup("prometheus")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, KindMetrics, found[0].Kind)
		assert.Equal(t, now, found[0].DiscoveredAt)
	})

	t.Run("by kind", func(t *testing.T) {
		found, err := reg.Lookup("logs")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "nginx-access-log", found[0].Name)
	})

	t.Run("by host case-insensitive", func(t *testing.T) {
		found, err := reg.Lookup("WEB-1")
		require.NoError(t, err)
		require.Len(t, found, 1)
	})

	t.Run("empty query returns everything", func(t *testing.T) {
		found, err := reg.Lookup("")
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("no match", func(t *testing.T) {
		found, err := reg.Lookup("grafana")
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestRecordReplacesSameNameAndHost(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, now)

	require.NoError(t, reg.Record(Source{Name: "postgres", Kind: KindDatabase, Host: "db-1", Location: "db-1:5432"}))
	require.NoError(t, reg.Record(Source{Name: "postgres", Kind: KindDatabase, Host: "db-2", Location: "db-2:5432"}))
	// Same name and host: the entry refreshes in place.
	require.NoError(t, reg.Record(Source{Name: "postgres", Kind: KindDatabase, Host: "db-1", Location: "db-1:5433"}))

	found, err := reg.Lookup("postgres")
	require.NoError(t, err)
	require.Len(t, found, 2)
	for _, src := range found {
		if src.Host == "db-1" {
			assert.Equal(t, "db-1:5433", src.Location)
		}
	}
}

func TestRecordRejectsEmptyName(t *testing.T) {
	reg := newTestRegistry(t, time.Now())
	assert.Error(t, reg.Record(Source{Kind: KindAPI}))
}

func TestLookupSkipsExpired(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, now)

	require.NoError(t, reg.Record(Source{
		Name:         "stale-api",
		Kind:         KindAPI,
		Location:     "http://old-host:8080",
		DiscoveredAt: now.Add(-25 * time.Hour),
	}))
	require.NoError(t, reg.Record(Source{
		Name:         "fresh-api",
		Kind:         KindAPI,
		Location:     "http://new-host:8080",
		DiscoveredAt: now.Add(-1 * time.Hour),
	}))

	found, err := reg.Lookup("api")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "fresh-api", found[0].Name)
}

func TestLookupOrdersByRecency(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, now)

	require.NoError(t, reg.Record(Source{Name: "older", Kind: KindConfig, DiscoveredAt: now.Add(-3 * time.Hour)}))
	require.NoError(t, reg.Record(Source{Name: "newest", Kind: KindConfig, DiscoveredAt: now.Add(-1 * time.Hour)}))
	require.NoError(t, reg.Record(Source{Name: "middle", Kind: KindConfig, DiscoveredAt: now.Add(-2 * time.Hour)}))

	found, err := reg.Lookup("config")
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "newest", found[0].Name)
	assert.Equal(t, "middle", found[1].Name)
	assert.Equal(t, "older", found[2].Name)
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, now)

	require.NoError(t, reg.Record(Source{Name: "a", Kind: KindLogs, DiscoveredAt: now.Add(-30 * time.Hour)}))
	require.NoError(t, reg.Record(Source{Name: "b", Kind: KindLogs, DiscoveredAt: now.Add(-25 * time.Hour)}))
	require.NoError(t, reg.Record(Source{Name: "c", Kind: KindLogs, DiscoveredAt: now.Add(-1 * time.Hour)}))

	removed, err := reg.Prune()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// With the stale entries gone from disk, an empty-query lookup sees
	// only the survivor.
	found, err := reg.Lookup("")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "c", found[0].Name)

	removed, err = reg.Prune()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCustomTTL(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, now).WithTTL(1 * time.Hour)

	require.NoError(t, reg.Record(Source{Name: "short-lived", Kind: KindAPI, DiscoveredAt: now.Add(-90 * time.Minute)}))

	found, err := reg.Lookup("short-lived")
	require.NoError(t, err)
	assert.Empty(t, found)

	removed, err := reg.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestLookupMissingFile(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	found, err := reg.Lookup("anything")
	require.NoError(t, err)
	assert.Empty(t, found)
}
