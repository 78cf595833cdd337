package types

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an archive job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IsValid reports whether s is a known job status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobInProgress, JobCompleted, JobFailed:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from s to next.
// The only legal path is pending -> in_progress -> completed|failed; a
// pending job may also fail directly when it cannot be started.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobInProgress || next == JobFailed
	case JobInProgress:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// TargetKind selects how an archive job resolves its target to files.
type TargetKind string

const (
	TargetTestcase TargetKind = "testcase"
	TargetDocument TargetKind = "document"
	TargetAll      TargetKind = "all"
)

// TargetAllValue is the target string stored for TargetAll jobs.
const TargetAllValue = "all"

// ParseTargetKind validates a target kind, defaulting to testcase.
func ParseTargetKind(s string) (TargetKind, error) {
	switch TargetKind(s) {
	case "", TargetTestcase:
		return TargetTestcase, nil
	case TargetDocument, TargetAll:
		return TargetKind(s), nil
	}
	return "", fmt.Errorf("unknown target kind %q", s)
}

// ArchiveJob is one asynchronous archive-build request.
type ArchiveJob struct {
	ID         string     `json:"job_id" yaml:"job_id"`
	ProjectID  string     `json:"project_id" yaml:"project_id"`
	Version    string     `json:"version" yaml:"version"`
	Target     string     `json:"target" yaml:"target"`
	TargetKind TargetKind `json:"target_kind" yaml:"target_kind"`
	UID        string     `json:"uid" yaml:"uid"`
	Status     JobStatus  `json:"status" yaml:"status"`
	ResultURL  string     `json:"result_url,omitempty" yaml:"result_url,omitempty"`
	FileName   string     `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Updatable job fields.
const (
	FieldJobResultURL = "result_url"
	FieldJobFileName  = "file_name"
	FieldJobError     = "error"
)
