package skills

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/metrics"
)

// Metric names recorded by the executor.
const (
	MetricExecutions   = "merlya_skills_executions_total"
	MetricHostDuration = "merlya_skills_host_duration_seconds"
)

// Execution outcome sentinels.
var (
	// ErrConfirmationRequired reports a destructive task refused because no
	// confirmation callback was available.
	ErrConfirmationRequired = errors.New("operation requires confirmation")
	// ErrConfirmationDeclined reports a destructive task the operator said no to.
	ErrConfirmationDeclined = errors.New("operation declined by operator")
)

// ExecutionStatus is the aggregate outcome of a skill run.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusPartial ExecutionStatus = "partial"
	StatusFailed  ExecutionStatus = "failed"
)

// HostFunc performs the skill's work on a single host.
type HostFunc func(ctx context.Context, host string) (string, error)

// ConfirmFunc asks the operator to approve a destructive operation.
type ConfirmFunc func(operation string) bool

// HostResult is the outcome of a skill run on one host.
type HostResult struct {
	Host     string        `json:"host"`
	Success  bool          `json:"success"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SkillResult is the aggregate outcome of a skill run across all hosts.
type SkillResult struct {
	Skill     string          `json:"skill"`
	Task      string          `json:"task"`
	Status    ExecutionStatus `json:"status"`
	Hosts     []HostResult    `json:"hosts"`
	Truncated bool            `json:"truncated,omitempty"`
	Duration  time.Duration   `json:"duration"`
}

// Executor runs skills against host sets with bounded concurrency.
type Executor struct {
	cfg      config.SkillsConfig
	registry *metrics.Registry
	logger   *slog.Logger
}

// NewExecutor creates an executor honoring cfg's global concurrency bound.
func NewExecutor(cfg config.SkillsConfig) *Executor {
	return &Executor{
		cfg:      cfg,
		registry: metrics.Default(),
		logger:   slog.Default().With("component", "skills.executor"),
	}
}

// Execute runs work on every host, gated by the skill's limits. Destructive
// tasks (those starting with a word from the skill's confirmation list) are
// refused unless confirm approves them. The host list is truncated to the
// skill's max_hosts before fan-out. Per-host failures do not stop the run;
// they surface in the result's host entries and aggregate status.
func (e *Executor) Execute(ctx context.Context, skill *Skill, hosts []string, task string, work HostFunc, confirm ConfirmFunc) (*SkillResult, error) {
	start := time.Now()

	if e.isDestructive(skill, task) {
		if confirm == nil {
			e.logger.Warn("Refusing destructive task without confirmation channel",
				"skill", skill.Name, "task", task)
			e.observe(skill.Name, "refused")
			return nil, ErrConfirmationRequired
		}
		if !confirm(task) {
			e.logger.Info("Destructive task declined", "skill", skill.Name, "task", task)
			e.observe(skill.Name, "declined")
			return nil, ErrConfirmationDeclined
		}
	}

	truncated := false
	if len(hosts) > skill.MaxHosts {
		e.logger.Warn("Truncating host list to skill limit",
			"skill", skill.Name, "requested", len(hosts), "max_hosts", skill.MaxHosts)
		hosts = hosts[:skill.MaxHosts]
		truncated = true
	}

	result := &SkillResult{
		Skill:     skill.Name,
		Task:      task,
		Hosts:     make([]HostResult, len(hosts)),
		Truncated: truncated,
	}

	limit := min(e.cfg.MaxConcurrent, skill.MaxHosts)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for i, host := range hosts {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone; record the remaining hosts as failed.
			for j := i; j < len(hosts); j++ {
				result.Hosts[j] = HostResult{Host: hosts[j], Error: err.Error()}
			}
			break
		}
		wg.Add(1)
		go func(idx int, host string) {
			defer wg.Done()
			defer sem.Release(1)
			result.Hosts[idx] = e.runHost(ctx, skill, host, work)
		}(i, host)
	}
	wg.Wait()

	result.Status = aggregateStatus(result.Hosts)
	result.Duration = time.Since(start)
	e.observe(skill.Name, string(result.Status))

	e.logger.Info("Skill execution finished",
		"skill", skill.Name,
		"status", result.Status,
		"hosts", len(result.Hosts),
		"truncated", truncated,
		"duration", result.Duration)
	return result, nil
}

// runHost executes work on one host under the skill's timeout.
func (e *Executor) runHost(ctx context.Context, skill *Skill, host string, work HostFunc) HostResult {
	hostCtx, cancel := context.WithTimeout(ctx, skill.Timeout())
	defer cancel()

	start := time.Now()
	output, err := work(hostCtx, host)
	elapsed := time.Since(start)
	e.registry.Histogram(MetricHostDuration).Observe(elapsed.Seconds())

	res := HostResult{Host: host, Duration: elapsed}
	switch {
	case err == nil:
		res.Success = true
		res.Output = output
	case errors.Is(err, context.DeadlineExceeded):
		res.Error = "timeout"
	default:
		res.Error = err.Error()
	}
	return res
}

// isDestructive reports whether the task starts with one of the skill's
// confirmation keywords.
func (e *Executor) isDestructive(skill *Skill, task string) bool {
	fields := strings.Fields(strings.ToLower(task))
	if len(fields) == 0 {
		return false
	}
	for _, keyword := range skill.RequireConfirmationFor {
		if fields[0] == strings.ToLower(keyword) {
			return true
		}
	}
	return false
}

func (e *Executor) observe(skill, status string) {
	e.registry.Counter(MetricExecutions).IncLabeled(1, map[string]string{
		"skill":  skill,
		"status": status,
	})
}

// aggregateStatus folds per-host outcomes into one status. No hosts at all
// counts as failed.
func aggregateStatus(hosts []HostResult) ExecutionStatus {
	if len(hosts) == 0 {
		return StatusFailed
	}
	succeeded := 0
	for _, h := range hosts {
		if h.Success {
			succeeded++
		}
	}
	switch succeeded {
	case len(hosts):
		return StatusSuccess
	case 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}
