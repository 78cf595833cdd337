// Package archive runs asynchronous archive jobs: it bundles the remote
// files behind a test case, a version document, or every test case of a
// version into one zip and uploads it for download.
//
// A job moves pending -> in_progress -> completed|failed. Submit records
// the pending job and hands it to a dispatcher; Execute does the work;
// Poll reports progress. Failures are only visible through Poll.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/surya-s-1/captain-tool-integrations/internal/blob"
	"github.com/surya-s-1/captain-tool-integrations/internal/dispatch"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/telemetry"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// ErrNoFiles is returned when a target resolves to no downloadable files.
var ErrNoFiles = errors.New("no files to archive")

// ContentType is the content type of uploaded archives.
const ContentType = "application/zip"

// ResultPath is where a job's archive is uploaded.
func ResultPath(jobID string) string {
	return "jobs/" + jobID + "/archive.zip"
}

// Store is the persistence an Engine needs.
type Store interface {
	storage.DocumentStore
	storage.JobStore
}

// Runner starts background work fenced by key. *dispatch.Dispatcher
// implements it.
type Runner interface {
	Go(ctx context.Context, key string, task dispatch.Task) error
}

// Request describes an archive to build.
type Request struct {
	ProjectID  string           `json:"project_id"`
	Version    string           `json:"version"`
	TargetKind types.TargetKind `json:"target_kind"`
	Target     string           `json:"target"`
	UID        string           `json:"uid"`
}

// Validate normalizes the target kind and checks required fields.
func (r *Request) Validate() error {
	kind, err := types.ParseTargetKind(string(r.TargetKind))
	if err != nil {
		return err
	}
	r.TargetKind = kind
	if r.ProjectID == "" || r.Version == "" {
		return errors.New("project and version are required")
	}
	if kind == types.TargetAll {
		r.Target = types.TargetAllValue
	}
	if strings.TrimSpace(r.Target) == "" {
		return fmt.Errorf("target is required for %s archives", kind)
	}
	return nil
}

// JobView is what pollers see of a job.
type JobView struct {
	ID        string          `json:"job_id" yaml:"job_id"`
	Status    types.JobStatus `json:"status" yaml:"status"`
	FileName  string          `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	ResultURL string          `json:"result_url,omitempty" yaml:"result_url,omitempty"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Engine submits, executes and reports archive jobs.
type Engine struct {
	Store  Store
	Blobs  blob.Store
	Runner Runner
	Logger *slog.Logger

	newID func() string
	now   func() time.Time
}

// NewEngine creates an engine. runner may be nil, in which case Submit
// only records the job and the caller runs Execute itself.
func NewEngine(store Store, blobs blob.Store, runner Runner) *Engine {
	return &Engine{
		Store:  store,
		Blobs:  blobs,
		Runner: runner,
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Submit records a pending job, hands it to the runner and returns its id
// without waiting for it to run.
func (e *Engine) Submit(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	now := e.now()
	job := &types.ArchiveJob{
		ID:         e.newID(),
		ProjectID:  req.ProjectID,
		Version:    req.Version,
		Target:     req.Target,
		TargetKind: req.TargetKind,
		UID:        req.UID,
		Status:     types.JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	e.logger().Info("archive job submitted", "job", job.ID, "project", job.ProjectID,
		"version", job.Version, "kind", job.TargetKind, "target", job.Target)

	if e.Runner == nil {
		return job.ID, nil
	}
	id := job.ID
	if err := e.Runner.Go(ctx, dispatch.JobKey(id), func(ctx context.Context) error {
		return e.Execute(ctx, id)
	}); err != nil {
		e.fail(ctx, id, types.JobPending, fmt.Errorf("could not start job: %w", err))
		return id, fmt.Errorf("dispatch job %s: %w", id, err)
	}
	return id, nil
}

// Execute claims a pending job and builds its archive. It returns
// storage.ErrConflict if the job was not pending. Build failures are
// recorded on the job and also returned.
func (e *Engine) Execute(ctx context.Context, jobID string) (err error) {
	ctx, span := telemetry.Tracer("archive").Start(ctx, "archive.execute",
		trace.WithAttributes(attribute.String("captain.job", jobID)))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := e.Store.TransitionJob(ctx, jobID, types.JobPending, types.JobInProgress, nil); err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	job, err := e.Store.GetJob(ctx, jobID)
	if err != nil {
		e.fail(ctx, jobID, types.JobInProgress, err)
		return err
	}

	fileName, url, err := e.build(ctx, job)
	if err != nil {
		e.fail(ctx, jobID, types.JobInProgress, err)
		return err
	}

	if err := e.Store.TransitionJob(context.WithoutCancel(ctx), jobID, types.JobInProgress, types.JobCompleted, map[string]interface{}{
		types.FieldJobFileName:  fileName,
		types.FieldJobResultURL: url,
	}); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	telemetry.CountJob(ctx, string(types.JobCompleted))
	e.logger().Info("archive job completed", "job", jobID, "file", fileName, "url", url)
	return nil
}

func (e *Engine) build(ctx context.Context, job *types.ArchiveJob) (fileName, url string, err error) {
	plan, err := e.resolve(ctx, job)
	if err != nil {
		return "", "", err
	}
	data, written, err := e.writeZip(ctx, job.ID, plan.entries)
	if err != nil {
		return "", "", err
	}
	if written == 0 {
		e.logger().Warn("archive has no entries", "job", job.ID, "skipped", len(plan.entries))
	}
	url, err = e.Blobs.Put(ctx, ResultPath(job.ID), data, ContentType)
	if err != nil {
		return "", "", fmt.Errorf("upload archive: %w", err)
	}
	return plan.zipName, url, nil
}

// fail records err on the job. The write is detached from ctx so a
// cancelled caller still leaves the job terminal.
func (e *Engine) fail(ctx context.Context, jobID string, from types.JobStatus, cause error) {
	telemetry.CountJob(ctx, string(types.JobFailed))
	e.logger().Warn("archive job failed", "job", jobID, "error", cause)
	if err := e.Store.TransitionJob(context.WithoutCancel(ctx), jobID, from, types.JobFailed,
		map[string]interface{}{types.FieldJobError: cause.Error()}); err != nil {
		e.logger().Error("record job failure", "job", jobID, "error", err)
	}
}

// Poll returns the job's current view.
func (e *Engine) Poll(ctx context.Context, jobID string) (*JobView, error) {
	job, err := e.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := &JobView{ID: job.ID, Status: job.Status}
	switch job.Status {
	case types.JobCompleted:
		view.FileName = job.FileName
		view.ResultURL = job.ResultURL
	case types.JobFailed:
		view.Error = job.Error
	}
	return view, nil
}
