package sshpool

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/merlya/merlya/pkg/resilience"
)

// PermanentFailureCount marks a host permanently failed once its failure
// count reaches this value, whatever the configured threshold.
const PermanentFailureCount = 10

// maxErrorLen bounds the stored error substring per failure record.
const maxErrorLen = 200

// failureRecord tracks consecutive connection failures for one host.
type failureRecord struct {
	count       int
	lastFailure time.Time
	lastError   string
	permanent   bool
}

// failureTracker is the per-host circuit breaker. It is checked before the
// pool lock so rejected hosts fail fast without contending with live
// connections.
type failureTracker struct {
	mu         sync.Mutex
	records    map[string]*failureRecord
	threshold  int
	openWindow time.Duration
}

func newFailureTracker(threshold int, openWindow time.Duration) *failureTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &failureTracker{
		records:    make(map[string]*failureRecord),
		threshold:  threshold,
		openWindow: openWindow,
	}
}

// check returns a *resilience.CircuitOpenError when the host's circuit is
// open. An expired timed window clears the record so the next dial may retry.
func (t *failureTracker) check(host string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[host]
	if !ok {
		return nil
	}
	if rec.permanent {
		return &resilience.CircuitOpenError{Name: host, Permanent: true}
	}
	if rec.count >= t.threshold {
		if time.Since(rec.lastFailure) < t.openWindow {
			return &resilience.CircuitOpenError{Name: host}
		}
		// Window elapsed: clear the record and permit a fresh attempt.
		delete(t.records, host)
	}
	return nil
}

// record stores one connection failure. DNS name resolution failures and
// hosts reaching PermanentFailureCount are marked permanent.
func (t *failureTracker) record(host string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[host]
	if !ok {
		rec = &failureRecord{}
		t.records[host] = rec
	}
	rec.count++
	rec.lastFailure = time.Now()
	rec.lastError = truncateError(err)
	if isPermanentDNSFailure(err) || rec.count >= PermanentFailureCount {
		rec.permanent = true
	}
}

// clear removes the failure record after a successful connection.
func (t *failureTracker) clear(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, host)
}

// snapshot returns a copy of the current records for the status API.
func (t *failureTracker) snapshot() map[string]FailedHost {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]FailedHost, len(t.records))
	for host, rec := range t.records {
		out[host] = FailedHost{
			Count:       rec.count,
			LastFailure: rec.lastFailure,
			LastError:   rec.lastError,
			Permanent:   rec.permanent,
		}
	}
	return out
}

// FailedHost is the externally visible failure state for one host.
type FailedHost struct {
	Count       int       `json:"count"`
	LastFailure time.Time `json:"last_failure"`
	LastError   string    `json:"last_error,omitempty"`
	Permanent   bool      `json:"permanent"`
}

// isPermanentDNSFailure reports whether err is a name resolution failure
// that retrying cannot fix (NXDOMAIN).
func isPermanentDNSFailure(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	return false
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
