// Package ci integrates CI platforms behind one adapter surface: unified
// run/job models, pluggable client strategies (CLI tools, MCP servers),
// platform detection, failure analysis, and the learning bridge into the
// incident memory.
package ci

import (
	"strings"
	"time"
)

// maxRawErrorLen bounds the raw error text kept on a FailureAnalysis.
const maxRawErrorLen = 5 * 1024

// PlatformType identifies a supported CI platform.
type PlatformType string

const (
	PlatformGitHub  PlatformType = "github"
	PlatformGitLab  PlatformType = "gitlab"
	PlatformJenkins PlatformType = "jenkins"
)

// IsValid reports whether the platform is a known value.
func (p PlatformType) IsValid() bool {
	switch p {
	case PlatformGitHub, PlatformGitLab, PlatformJenkins:
		return true
	default:
		return false
	}
}

// RunStatus is the canonical run state every platform maps into.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailure   RunStatus = "failure"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusTimedOut  RunStatus = "timed_out"
	RunStatusUnknown   RunStatus = "unknown"
)

// Terminal reports whether the run can no longer progress.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailure, RunStatusCancelled, RunStatusSkipped, RunStatusTimedOut:
		return true
	default:
		return false
	}
}

// RunStatusFromGitHub maps a GitHub Actions status/conclusion pair. The
// conclusion only matters once the run is completed.
func RunStatusFromGitHub(status, conclusion string) RunStatus {
	switch strings.ToLower(status) {
	case "queued", "waiting", "requested":
		return RunStatusQueued
	case "pending":
		return RunStatusPending
	case "in_progress":
		return RunStatusRunning
	case "completed":
		switch strings.ToLower(conclusion) {
		case "success", "neutral":
			return RunStatusSuccess
		case "failure", "startup_failure", "action_required":
			return RunStatusFailure
		case "cancelled":
			return RunStatusCancelled
		case "skipped", "stale":
			return RunStatusSkipped
		case "timed_out":
			return RunStatusTimedOut
		}
	}
	return RunStatusUnknown
}

// RunStatusFromGitLab maps a GitLab pipeline status.
func RunStatusFromGitLab(status string) RunStatus {
	switch strings.ToLower(status) {
	case "created", "preparing", "scheduled", "manual":
		return RunStatusPending
	case "pending", "waiting_for_resource":
		return RunStatusQueued
	case "running":
		return RunStatusRunning
	case "success":
		return RunStatusSuccess
	case "failed":
		return RunStatusFailure
	case "canceled", "canceling":
		return RunStatusCancelled
	case "skipped":
		return RunStatusSkipped
	default:
		return RunStatusUnknown
	}
}

// RunStatusFromJenkins maps a Jenkins build result. An empty result means
// the build is still running.
func RunStatusFromJenkins(result string) RunStatus {
	switch strings.ToUpper(result) {
	case "":
		return RunStatusRunning
	case "SUCCESS":
		return RunStatusSuccess
	case "UNSTABLE", "FAILURE":
		return RunStatusFailure
	case "ABORTED":
		return RunStatusCancelled
	case "NOT_BUILT":
		return RunStatusSkipped
	default:
		return RunStatusUnknown
	}
}

// Workflow is one CI workflow definition.
type Workflow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state,omitempty"`
}

// Run is one normalized CI run. Immutable once reported; re-fetch to
// observe progression.
type Run struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Status     RunStatus    `json:"status"`
	Conclusion string       `json:"conclusion,omitempty"`
	WorkflowID string       `json:"workflow_id,omitempty"`
	Branch     string       `json:"branch,omitempty"`
	CommitSHA  string       `json:"commit_sha,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Jobs       []Job        `json:"jobs,omitempty"`
	Platform   PlatformType `json:"platform"`
}

// FailedJobs returns the names of jobs that concluded in failure.
func (r *Run) FailedJobs() []string {
	var out []string
	for _, j := range r.Jobs {
		if strings.EqualFold(j.Conclusion, "failure") {
			out = append(out, j.Name)
		}
	}
	return out
}

// Job belongs to exactly one run.
type Job struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      RunStatus `json:"status"`
	Conclusion  string    `json:"conclusion,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Steps       []Step    `json:"steps,omitempty"`
}

// Step is one step within a job.
type Step struct {
	Name       string `json:"name"`
	Number     int    `json:"number,omitempty"`
	Status     string `json:"status,omitempty"`
	Conclusion string `json:"conclusion,omitempty"`
}

// FailureAnalysis is the derived diagnosis of a failed run. Never mutated
// after construction.
type FailureAnalysis struct {
	RunID          string      `json:"run_id"`
	ErrorType      CIErrorType `json:"error_type"`
	Summary        string      `json:"summary"`
	RawError       string      `json:"raw_error,omitempty"`
	Confidence     float64     `json:"confidence"`
	FailedJobs     []string    `json:"failed_jobs,omitempty"`
	Suggestions    []string    `json:"suggestions,omitempty"`
	MatchedPattern string      `json:"matched_pattern,omitempty"`
}

// truncateRawError caps the stored error text at maxRawErrorLen bytes.
func truncateRawError(s string) string {
	if len(s) <= maxRawErrorLen {
		return s
	}
	return s[:maxRawErrorLen]
}
