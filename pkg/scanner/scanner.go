// Package scanner runs on-demand host scans in parallel: batched execution,
// a process-wide token-bucket rate limit, per-host exponential-backoff retry,
// and a TTL cache keyed by (host, scan type). Basic scans probe DNS and port
// 22; deeper kinds run fixed command sets over the SSH pool.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/events"
	"github.com/merlya/merlya/pkg/metrics"
	"github.com/merlya/merlya/pkg/resilience"
)

// Metric names exported by the scanner.
const (
	MetricScans     = "merlya_scanner_scans_total"
	MetricCacheHits = "merlya_scanner_cache_hits_total"
	MetricDuration  = "merlya_scanner_scan_duration_seconds"
)

// ErrInvalidScanType reports an unknown scan type argument.
var ErrInvalidScanType = errors.New("invalid scan type")

// Result is one host's scan outcome.
type Result struct {
	Hostname   string          `json:"hostname"`
	Type       config.ScanType `json:"scan_type"`
	Success    bool            `json:"success"`
	Data       map[string]any  `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Retries    int             `json:"retries"`
	ScannedAt  time.Time       `json:"scanned_at"`
	// Cached marks a result served from the TTL cache.
	Cached bool `json:"cached,omitempty"`
}

// Progress reports one finished host during a scan.
type Progress struct {
	Host      string
	Completed int
	Total     int
	Result    Result
}

// ProgressFunc receives per-host progress. It may be called from multiple
// goroutines, one call at a time.
type ProgressFunc func(Progress)

// Scanner scans fleets of hosts on demand.
type Scanner struct {
	cfg      config.ScannerConfig
	runner   Runner
	limiter  *rate.Limiter
	cache    *resultCache
	hub      *events.Hub
	progress ProgressFunc
	registry *metrics.Registry
	logger   *slog.Logger
}

// New creates a scanner over the given runner, drawing tokens from the
// process-wide shared limiter.
func New(cfg config.ScannerConfig, runner Runner) *Scanner {
	return &Scanner{
		cfg:      cfg,
		runner:   runner,
		limiter:  SharedLimiter(cfg),
		cache:    newResultCache(),
		registry: metrics.Default(),
		logger:   slog.Default().With("component", "scanner"),
	}
}

// WithHub publishes scan lifecycle events to the hub.
func (s *Scanner) WithHub(h *events.Hub) *Scanner {
	s.hub = h
	return s
}

// WithProgress installs a per-host progress callback.
func (s *Scanner) WithProgress(fn ProgressFunc) *Scanner {
	s.progress = fn
	return s
}

// withLimiter replaces the shared limiter. Test hook.
func (s *Scanner) withLimiter(l *rate.Limiter) *Scanner {
	s.limiter = l
	return s
}

// Scan scans the given hosts and returns one Result per host, in submission
// order. Fresh cache entries short-circuit the scan unless force is set.
// Per-host failures are reported inside the Result, not as an error; the
// returned error is non-nil only for bad input or a canceled context, and in
// the canceled case the results for completed hosts are still returned.
func (s *Scanner) Scan(ctx context.Context, hosts []string, kind config.ScanType, force bool) ([]Result, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScanType, kind)
	}
	if len(hosts) == 0 {
		return nil, nil
	}

	start := time.Now()
	s.publish(events.EventTypeScanStarted, map[string]any{
		"scan_type": string(kind),
		"hosts":     len(hosts),
		"force":     force,
	})

	results := make([]Result, len(hosts))

	// reportMu serializes progress delivery so completed counts arrive in
	// order even when a batch finishes hosts concurrently.
	var reportMu sync.Mutex
	completed := 0
	report := func(result Result) {
		reportMu.Lock()
		defer reportMu.Unlock()
		completed++
		s.publish(events.EventTypeScanProgress, map[string]any{
			"host":      result.Hostname,
			"scan_type": string(kind),
			"success":   result.Success,
			"cached":    result.Cached,
			"completed": completed,
			"total":     len(hosts),
		})
		if s.progress != nil {
			s.progress(Progress{Host: result.Hostname, Completed: completed, Total: len(hosts), Result: result})
		}
	}

	// 1. Serve fresh cache entries immediately; collect the rest.
	now := time.Now()
	var pending []int
	for i, host := range hosts {
		if !force {
			if cached, ok := s.cache.get(host, kind, now); ok {
				cached.Cached = true
				results[i] = cached
				s.registry.Counter(MetricCacheHits).Inc(1)
				report(results[i])
				continue
			}
		}
		pending = append(pending, i)
	}

	// 2. Scan the remainder in batches; hosts within a batch run
	// concurrently, each writing only its own slot.
	batchSize := s.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	for batchStart := 0; batchStart < len(pending); batchStart += batchSize {
		if ctx.Err() != nil {
			// Completed hosts keep their results; unstarted ones are
			// marked failed with the cancellation error.
			for _, idx := range pending[batchStart:] {
				results[idx] = s.failedResult(hosts[idx], kind, 0, ctx.Err(), time.Now())
				report(results[idx])
			}
			break
		}

		end := batchStart + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		var wg sync.WaitGroup
		for _, idx := range pending[batchStart:end] {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = s.scanHost(ctx, hosts[idx], kind)
				report(results[idx])
			}(idx)
		}
		wg.Wait()
	}

	succeeded, failed, cached := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Cached:
			cached++
		case r.Success:
			succeeded++
		default:
			failed++
		}
	}
	s.publish(events.EventTypeScanCompleted, map[string]any{
		"scan_type":   string(kind),
		"total":       len(hosts),
		"succeeded":   succeeded,
		"failed":      failed,
		"cached":      cached,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	s.logger.Info("Scan finished",
		"scan_type", kind, "total", len(hosts),
		"succeeded", succeeded, "failed", failed, "cached", cached,
		"duration_ms", time.Since(start).Milliseconds())

	return results, ctx.Err()
}

// scanHost runs one host's scan: one rate-limiter token, then the attempt
// loop with exponential backoff. Successful results are cached.
func (s *Scanner) scanHost(ctx context.Context, host string, kind config.ScanType) Result {
	start := time.Now()

	// One token per host scan, not per attempt.
	if err := s.limiter.Wait(ctx); err != nil {
		return s.failedResult(host, kind, 0, err, start)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryBaseDelay
	b.MaxInterval = s.cfg.RetryMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxRetries)), ctx)

	retries := 0
	var data map[string]any
	operation := func() error {
		attemptCtx := ctx
		if s.cfg.ScanTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.ScanTimeout)
			defer cancel()
		}
		var err error
		data, err = s.runner.Scan(attemptCtx, host, kind)
		if err == nil {
			return nil
		}
		// Cancellation and open circuits cannot heal inside this loop.
		if ctx.Err() != nil || errors.Is(err, resilience.ErrCircuitOpen) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		retries++
		s.logger.Warn("Retrying host scan",
			"host", host, "scan_type", kind, "retry", retries, "delay", delay, "error", err)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	duration := time.Since(start)
	s.registry.Histogram(MetricDuration).Observe(duration.Seconds())

	if err != nil {
		s.registry.Counter(MetricScans).IncLabeled(1, map[string]string{
			"scan_type": string(kind), "outcome": "failure",
		})
		return s.failedResult(host, kind, retries, err, start)
	}

	result := Result{
		Hostname:   host,
		Type:       kind,
		Success:    true,
		Data:       data,
		DurationMS: duration.Milliseconds(),
		Retries:    retries,
		ScannedAt:  time.Now().UTC(),
	}
	s.registry.Counter(MetricScans).IncLabeled(1, map[string]string{
		"scan_type": string(kind), "outcome": "success",
	})
	s.cache.put(result, s.ttl(kind), time.Now())
	return result
}

func (s *Scanner) failedResult(host string, kind config.ScanType, retries int, err error, start time.Time) Result {
	return Result{
		Hostname:   host,
		Type:       kind,
		Error:      err.Error(),
		DurationMS: time.Since(start).Milliseconds(),
		Retries:    retries,
		ScannedAt:  time.Now().UTC(),
	}
}

func (s *Scanner) ttl(kind config.ScanType) time.Duration {
	if d, ok := s.cfg.TTL[kind]; ok {
		return d
	}
	return DefaultTTL
}

func (s *Scanner) publish(eventType string, payload map[string]any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(events.ChannelScans, eventType, payload)
}

// Invalidate drops every cached result for a host. Called after actions that
// change host state, so the next scan sees fresh facts.
func (s *Scanner) Invalidate(host string) {
	s.cache.invalidate(host)
}

// CacheSize returns the number of live cache entries.
func (s *Scanner) CacheSize() int {
	return s.cache.size()
}
