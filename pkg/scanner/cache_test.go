package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/merlya/merlya/pkg/config"
)

func successResult(host string, kind config.ScanType) Result {
	return Result{Hostname: host, Type: kind, Success: true, ScannedAt: time.Now().UTC()}
}

func TestCache_PutGet(t *testing.T) {
	c := newResultCache()
	now := time.Now()
	c.put(successResult("h1", config.ScanTypeBasic), time.Minute, now)

	got, ok := c.get("h1", config.ScanTypeBasic, now.Add(30*time.Second))
	assert.True(t, ok)
	assert.Equal(t, "h1", got.Hostname)

	_, ok = c.get("h1", config.ScanTypeSystem, now)
	assert.False(t, ok, "entries are keyed by scan type")
}

func TestCache_Expiry(t *testing.T) {
	c := newResultCache()
	now := time.Now()
	c.put(successResult("h1", config.ScanTypeBasic), time.Minute, now)

	_, ok := c.get("h1", config.ScanTypeBasic, now.Add(61*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 0, c.size(), "expired entry is dropped on lookup")
}

func TestCache_RejectsFailures(t *testing.T) {
	c := newResultCache()
	now := time.Now()
	c.put(Result{Hostname: "h1", Type: config.ScanTypeBasic, Error: "down"}, time.Minute, now)
	assert.Equal(t, 0, c.size())
}

func TestCache_RejectsZeroTTL(t *testing.T) {
	c := newResultCache()
	c.put(successResult("h1", config.ScanTypeBasic), 0, time.Now())
	assert.Equal(t, 0, c.size())
}

func TestCache_Invalidate(t *testing.T) {
	c := newResultCache()
	now := time.Now()
	c.put(successResult("h1", config.ScanTypeBasic), time.Minute, now)
	c.put(successResult("h1", config.ScanTypeSystem), time.Minute, now)
	c.put(successResult("h2", config.ScanTypeBasic), time.Minute, now)

	c.invalidate("h1")

	assert.Equal(t, 1, c.size())
	_, ok := c.get("h2", config.ScanTypeBasic, now)
	assert.True(t, ok)
}
