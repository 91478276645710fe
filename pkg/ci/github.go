package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/merlya/merlya/pkg/events"
	"github.com/merlya/merlya/pkg/metrics"
)

const defaultListLimit = 20

// Error-line extraction bounds for failure analysis.
const (
	minErrorLineLen = 10
	maxErrorLineLen = 500
	maxErrorLines   = 10
)

// errorMarkers flag a log line as an error line. Matching is
// case-sensitive so the set carries the common capitalizations explicitly.
var errorMarkers = []string{
	"error:", "Error:", "ERROR:",
	"failed:", "Failed:", "FAILED:",
	"exception:", "Exception:",
	"fatal:", "Fatal:",
	"::error::", "❌", "✗",
}

// GitHubAdapter drives GitHub Actions through the client strategies and
// adds typed operations and failure analysis on top.
type GitHubAdapter struct {
	*baseAdapter
	classifier *Classifier
	hub        *events.Hub
	registry   *metrics.Registry
}

// NewGitHubAdapter builds the adapter. A nil classifier degrades to the
// keyword-only default.
func NewGitHubAdapter(cfg PlatformConfig, clients map[string]Client, classifier *Classifier) (*GitHubAdapter, error) {
	base, err := newBaseAdapter(PlatformGitHub, cfg, clients)
	if err != nil {
		return nil, err
	}
	if classifier == nil {
		classifier = NewClassifier(0)
	}
	return &GitHubAdapter{
		baseAdapter: base,
		classifier:  classifier,
		registry:    metrics.Default(),
	}, nil
}

// WithHub attaches the event hub analysis results are broadcast on.
func (g *GitHubAdapter) WithHub(hub *events.Hub) *GitHubAdapter {
	g.hub = hub
	return g
}

// Execute implements Adapter, counting every operation by outcome.
func (g *GitHubAdapter) Execute(ctx context.Context, operation string, params map[string]string) (*ClientResult, error) {
	result, err := g.baseAdapter.Execute(ctx, operation, params)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	g.registry.Counter(MetricOperations).IncLabeled(1, map[string]string{
		"platform":  string(g.platform),
		"operation": operation,
		"outcome":   outcome,
	})
	return result, err
}

// gh emits numeric database IDs and RFC3339 timestamps; these intermediate
// shapes absorb them before conversion to the canonical models.
type ghWorkflow struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type ghStep struct {
	Name       string `json:"name"`
	Number     int    `json:"number"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

type ghJob struct {
	DatabaseID  int64     `json:"databaseId"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Conclusion  string    `json:"conclusion"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Steps       []ghStep  `json:"steps"`
}

type ghRun struct {
	DatabaseID         int64     `json:"databaseId"`
	Name               string    `json:"name"`
	Status             string    `json:"status"`
	Conclusion         string    `json:"conclusion"`
	WorkflowDatabaseID int64     `json:"workflowDatabaseId"`
	HeadBranch         string    `json:"headBranch"`
	HeadSha            string    `json:"headSha"`
	CreatedAt          time.Time `json:"createdAt"`
	Jobs               []ghJob   `json:"jobs"`
}

func (r ghRun) toRun() Run {
	run := Run{
		ID:         strconv.FormatInt(r.DatabaseID, 10),
		Name:       r.Name,
		Status:     RunStatusFromGitHub(r.Status, r.Conclusion),
		Conclusion: r.Conclusion,
		Branch:     r.HeadBranch,
		CommitSHA:  r.HeadSha,
		CreatedAt:  r.CreatedAt,
		Platform:   PlatformGitHub,
	}
	if r.WorkflowDatabaseID != 0 {
		run.WorkflowID = strconv.FormatInt(r.WorkflowDatabaseID, 10)
	}
	for _, j := range r.Jobs {
		job := Job{
			ID:          strconv.FormatInt(j.DatabaseID, 10),
			Name:        j.Name,
			Status:      RunStatusFromGitHub(j.Status, j.Conclusion),
			Conclusion:  j.Conclusion,
			StartedAt:   j.StartedAt,
			CompletedAt: j.CompletedAt,
		}
		for _, s := range j.Steps {
			job.Steps = append(job.Steps, Step(s))
		}
		run.Jobs = append(run.Jobs, job)
	}
	return run
}

// ListWorkflows returns the repository's workflow definitions.
func (g *GitHubAdapter) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	result, err := g.Execute(ctx, "list_workflows", map[string]string{
		"limit": strconv.Itoa(defaultListLimit),
	})
	if err != nil {
		return nil, err
	}
	var raw []ghWorkflow
	if err := decodeResult(result, &raw); err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	workflows := make([]Workflow, 0, len(raw))
	for _, w := range raw {
		workflows = append(workflows, Workflow{
			ID:    strconv.FormatInt(w.ID, 10),
			Name:  w.Name,
			State: w.State,
		})
	}
	return workflows, nil
}

// ListRuns returns the most recent runs, newest first. limit ≤ 0 uses the
// default page size.
func (g *GitHubAdapter) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	result, err := g.Execute(ctx, "list_runs", map[string]string{
		"limit": strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	var raw []ghRun
	if err := decodeResult(result, &raw); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]Run, 0, len(raw))
	for _, r := range raw {
		runs = append(runs, r.toRun())
	}
	return runs, nil
}

// GetRun fetches one run with its jobs and steps.
func (g *GitHubAdapter) GetRun(ctx context.Context, runID string) (*Run, error) {
	result, err := g.Execute(ctx, "get_run", map[string]string{"run_id": runID})
	if err != nil {
		return nil, err
	}
	var raw ghRun
	if err := decodeResult(result, &raw); err != nil {
		return nil, fmt.Errorf("fetching run %s: %w", runID, err)
	}
	run := raw.toRun()
	// gh omits databaseId on single-run views in some versions; keep the
	// caller's ID authoritative.
	run.ID = runID
	return &run, nil
}

// GetRunLogs returns the raw log text of a run, optionally restricted to
// failed steps.
func (g *GitHubAdapter) GetRunLogs(ctx context.Context, runID string, failedOnly bool) (string, error) {
	operation := "get_run_logs"
	if failedOnly {
		operation = "get_run_logs_failed"
	}
	result, err := g.Execute(ctx, operation, map[string]string{"run_id": runID})
	if err != nil {
		return "", err
	}
	return result.Raw, nil
}

// TriggerWorkflow dispatches a workflow on the given ref. An empty ref
// targets main.
func (g *GitHubAdapter) TriggerWorkflow(ctx context.Context, workflow, ref string) error {
	if ref == "" {
		ref = "main"
	}
	_, err := g.Execute(ctx, "trigger_workflow", map[string]string{
		"workflow": workflow,
		"ref":      ref,
	})
	return err
}

// CancelRun cancels an in-progress run.
func (g *GitHubAdapter) CancelRun(ctx context.Context, runID string) error {
	_, err := g.Execute(ctx, "cancel_run", map[string]string{"run_id": runID})
	return err
}

// RetryRun re-runs a completed run.
func (g *GitHubAdapter) RetryRun(ctx context.Context, runID string) error {
	_, err := g.Execute(ctx, "retry_run", map[string]string{"run_id": runID})
	return err
}

// ListSecrets returns repository secret names. Values are never available
// through any client and never requested.
func (g *GitHubAdapter) ListSecrets(ctx context.Context) ([]string, error) {
	result, err := g.Execute(ctx, "list_secrets", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name string `json:"name"`
	}
	if err := decodeResult(result, &raw); err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	names := make([]string, 0, len(raw))
	for _, s := range raw {
		names = append(names, s.Name)
	}
	return names, nil
}

// AnalyzeFailure implements Adapter. It fetches the run and its failed-step
// logs, extracts error lines scoped to the failed jobs, classifies them,
// and publishes the verdict.
func (g *GitHubAdapter) AnalyzeFailure(ctx context.Context, runID string) (*FailureAnalysis, error) {
	run, err := g.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("analyzing run %s: %w", runID, err)
	}
	logs, err := g.GetRunLogs(ctx, runID, true)
	if err != nil {
		g.logger.Warn("Failed to fetch run logs, analyzing without them",
			"run_id", runID, "error", err)
		logs = ""
	}

	failedJobs := run.FailedJobs()
	errorLines := extractErrors(scopeToJobs(logs, failedJobs))
	joined := strings.Join(errorLines, "\n")
	verdict := g.classifier.Classify(ctx, joined)

	analysis := &FailureAnalysis{
		RunID:          run.ID,
		ErrorType:      verdict.Type,
		Summary:        summarize(errorLines, run),
		RawError:       truncateRawError(joined),
		Confidence:     verdict.Confidence,
		FailedJobs:     failedJobs,
		Suggestions:    verdict.Suggestions,
		MatchedPattern: verdict.MatchedPattern,
	}

	g.registry.Counter(MetricAnalyses).IncLabeled(1, map[string]string{
		"platform":   string(g.platform),
		"error_type": string(analysis.ErrorType),
	})
	g.logger.Info("Analyzed run failure",
		"run_id", run.ID,
		"error_type", analysis.ErrorType,
		"confidence", analysis.Confidence,
		"failed_jobs", len(failedJobs))
	if g.hub != nil {
		g.hub.Publish(events.ChannelCI, events.EventTypeCIAnalysis, map[string]any{
			"platform":    string(g.platform),
			"run_id":      run.ID,
			"error_type":  string(analysis.ErrorType),
			"confidence":  analysis.Confidence,
			"failed_jobs": failedJobs,
		})
	}
	return analysis, nil
}

func summarize(errorLines []string, run *Run) string {
	if len(errorLines) > 0 {
		return errorLines[0]
	}
	return fmt.Sprintf("run concluded %s with no recognizable error lines", run.Conclusion)
}

// scopeToJobs returns the log lines belonging to the named jobs, with the
// job/step prefix stripped. When no line matches (or no jobs are named) the
// whole log is returned so extraction still has material.
func scopeToJobs(logs string, jobs []string) string {
	if logs == "" || len(jobs) == 0 {
		return logs
	}
	wanted := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		wanted[j] = true
	}

	var scoped []string
	for _, line := range strings.Split(logs, "\n") {
		job, content, ok := splitLogLine(line)
		if ok && wanted[job] {
			scoped = append(scoped, content)
		}
	}
	if len(scoped) == 0 {
		return logs
	}
	return strings.Join(scoped, "\n")
}

// splitLogLine parses the "jobName<TAB>stepName<TAB>content" prefix gh
// applies to combined run logs.
func splitLogLine(line string) (job, content string, ok bool) {
	parts := strings.SplitN(line, "\t", 3)
	if len(parts) < 3 {
		return "", line, false
	}
	return parts[0], parts[2], true
}

// extractErrors line-scans for error markers, keeping lines longer than
// minErrorLineLen, each truncated to maxErrorLineLen, capped at
// maxErrorLines.
func extractErrors(logs string) []string {
	var out []string
	for _, line := range strings.Split(logs, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) <= minErrorLineLen {
			continue
		}
		if !hasErrorMarker(trimmed) {
			continue
		}
		if len(trimmed) > maxErrorLineLen {
			trimmed = trimmed[:maxErrorLineLen]
		}
		out = append(out, trimmed)
		if len(out) >= maxErrorLines {
			break
		}
	}
	return out
}

func hasErrorMarker(line string) bool {
	for _, marker := range errorMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// decodeResult re-parses a client result's raw payload into a typed shape.
func decodeResult(result *ClientResult, v any) error {
	raw := strings.TrimSpace(result.Raw)
	if raw == "" {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
