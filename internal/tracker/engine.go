package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/telemetry"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// Defaults for Syncer tuning knobs.
const (
	DefaultBatchSize   = 40
	DefaultUpdateDelay = 500 * time.Millisecond
)

// ErrNoMatchingIssue is returned by CreateOne when the created issue cannot
// be found again by its entity label.
var ErrNoMatchingIssue = errors.New("no issue found carrying the entity label")

// Syncer drives the phased sync of one entity kind of a project version:
// create issues for NEW entities in batches, reconcile each batch by label,
// then push deprecations to existing issues.
//
// Progress is written to the version's status field. It is a progress
// marker, not a checkpoint: a rerun starts from the beginning and relies on
// toolCreated to skip entities already confirmed.
type Syncer struct {
	Tracker    IssueTracker
	Store      storage.DocumentStore
	Reconciler *Reconciler
	Logger     *slog.Logger

	// BatchSize caps the issues sent in one bulk-create call.
	BatchSize int
	// UpdateDelay separates consecutive deprecation updates.
	UpdateDelay time.Duration
	// Concurrency bounds how many batches are in flight at once.
	Concurrency int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSyncer creates a syncer with default tuning.
func NewSyncer(tracker IssueTracker, store storage.DocumentStore) *Syncer {
	return &Syncer{
		Tracker:     tracker,
		Store:       store,
		Reconciler:  NewReconciler(tracker, store),
		BatchSize:   DefaultBatchSize,
		UpdateDelay: DefaultUpdateDelay,
		Concurrency: 1,
	}
}

// SyncVersion runs every phase for scope on behalf of uid. The returned
// result is non-nil even on error and carries the final status written.
func (s *Syncer) SyncVersion(ctx context.Context, uid string, scope Scope) (result *SyncResult, err error) {
	start, create, update, complete, failed := PhasesFor(scope.Kind)
	result = &SyncResult{}

	ctx, span := telemetry.Tracer("tracker").Start(ctx, "tracker.sync",
		trace.WithAttributes(attribute.String("captain.scope", scope.String())))
	defer func() { telemetry.EndSpan(span, err) }()

	defer func() {
		if err == nil {
			return
		}
		result.Success = false
		result.Status = failed
		result.Error = err.Error()
		s.warn("sync %s failed: %v", scope, err)
		// The caller may already be gone; the error status must still land.
		if werr := s.setStatus(context.WithoutCancel(ctx), scope, failed, nil); werr != nil {
			s.warn("record %s for %s: %v", failed, scope, werr)
		}
	}()

	if err := s.setStatus(ctx, scope, start, map[string]interface{}{types.ConfirmedByField(scope.Kind): uid}); err != nil {
		return result, err
	}
	result.Status = start

	project, err := s.Store.GetProject(ctx, scope.ProjectID)
	if err != nil {
		return result, fmt.Errorf("load project %s: %w", scope.ProjectID, err)
	}
	if !project.TrackerConfigured() {
		return result, fmt.Errorf("project %s: %w", scope.ProjectID, ErrProjectNotConfigured)
	}
	site := SiteFor(project)

	entities, err := s.Store.GetEntities(ctx, scope.ProjectID, scope.Version, scope.Kind)
	if err != nil {
		return result, fmt.Errorf("load %s: %w", scope, err)
	}

	if err := s.setStatus(ctx, scope, create, nil); err != nil {
		return result, err
	}
	result.Status = create
	s.createPhase(ctx, uid, site, scope, entities, result)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if err := s.setStatus(ctx, scope, update, nil); err != nil {
		return result, err
	}
	result.Status = update
	if err := s.deprecatePhase(ctx, uid, site, scope, entities, result); err != nil {
		return result, err
	}

	if err := s.setStatus(ctx, scope, complete, nil); err != nil {
		return result, err
	}
	result.Status = complete
	result.Success = true
	s.msg("sync %s complete: %d created, %d failed, %d deprecated, %d errors", scope,
		result.Stats.Created, result.Stats.Failed, result.Stats.Deprecated, result.Stats.Errors)
	return result, nil
}

// createPhase bulk-creates and reconciles every candidate. Batch failures
// are recorded in the result and never stop other batches.
func (s *Syncer) createPhase(ctx context.Context, uid string, site Site, scope Scope, entities []*types.Entity, result *SyncResult) {
	var candidates []*types.Entity
	for _, e := range entities {
		if e.NeedsCreation() {
			candidates = append(candidates, e)
		}
	}
	result.Stats.Candidates = len(candidates)
	if len(candidates) == 0 {
		s.msg("sync %s: nothing to create", scope)
		return
	}

	size := s.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]*types.Entity
	for i := 0; i < len(candidates); i += size {
		batches = append(batches, candidates[i:min(i+size, len(candidates))])
	}
	result.Stats.Batches = len(batches)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(max(s.Concurrency, 1))
	for n, batch := range batches {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			created, unmatched, err := s.createBatch(ctx, uid, site, scope, batch)
			mu.Lock()
			defer mu.Unlock()
			result.Stats.Created += created
			result.Stats.Failed += unmatched
			if err != nil {
				result.Stats.Errors++
				result.Warnings = append(result.Warnings, fmt.Sprintf("batch %d: %v", n+1, err))
				s.warn("sync %s batch %d/%d: %v", scope, n+1, len(batches), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// createBatch creates one batch then reconciles its ids. Reconciliation runs
// even when the create call errors, since the tracker may have created some
// issues before failing.
func (s *Syncer) createBatch(ctx context.Context, uid string, site Site, scope Scope, batch []*types.Entity) (created, unmatched int, err error) {
	mapper := s.Tracker.FieldMapper()
	payloads := make([]map[string]interface{}, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for _, e := range batch {
		payloads = append(payloads, mapper.EntityToTracker(e, site))
		ids = append(ids, e.ID)
	}

	_, createErr := s.Tracker.CreateBulkIssues(ctx, uid, site, payloads)
	if createErr != nil {
		createErr = fmt.Errorf("bulk create: %w", createErr)
	}

	rec, recErr := s.reconciler().reconcileAt(ctx, uid, site, scope, ids)
	if rec != nil {
		created, unmatched = len(rec.Matched), len(rec.Unmatched)
	}
	if recErr != nil {
		recErr = fmt.Errorf("reconcile: %w", recErr)
	}
	return created, unmatched, errors.Join(createErr, recErr)
}

// deprecatePhase pushes the current title of each deprecated entity to its
// issue, one call at a time. Item failures are recorded, not returned; only
// cancellation ends the phase early.
func (s *Syncer) deprecatePhase(ctx context.Context, uid string, site Site, scope Scope, entities []*types.Entity, result *SyncResult) error {
	mapper := s.Tracker.FieldMapper()
	first := true
	for _, e := range entities {
		if !e.NeedsDeprecation() || e.ToolIssueKey == "" {
			continue
		}
		if !first {
			if err := s.pause(ctx, s.UpdateDelay); err != nil {
				return err
			}
		}
		first = false

		if err := s.Tracker.UpdateIssue(ctx, uid, site, e.ToolIssueKey, mapper.DeprecationFields(e)); err != nil {
			result.Stats.Errors++
			result.Warnings = append(result.Warnings, fmt.Sprintf("deprecate %s (%s): %v", e.ID, e.ToolIssueKey, err))
			s.warn("sync %s: deprecate %s (%s): %v", scope, e.ID, e.ToolIssueKey, err)
			continue
		}
		result.Stats.Deprecated++
	}
	return ctx.Err()
}

// CreateOne creates the issue for a single entity and confirms it by an
// exact-label search. Unlike SyncVersion it reports every failure to the
// caller.
func (s *Syncer) CreateOne(ctx context.Context, uid string, scope Scope, id string) (issue *TrackerIssue, err error) {
	ctx, span := telemetry.Tracer("tracker").Start(ctx, "tracker.create_one",
		trace.WithAttributes(attribute.String("captain.scope", scope.String()), attribute.String("captain.id", id)))
	defer func() { telemetry.EndSpan(span, err) }()

	project, err := s.Store.GetProject(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", scope.ProjectID, err)
	}
	if !project.TrackerConfigured() {
		return nil, fmt.Errorf("project %s: %w", scope.ProjectID, ErrProjectNotConfigured)
	}
	site := SiteFor(project)

	entity, err := s.Store.GetEntity(ctx, scope.ProjectID, scope.Version, scope.Kind, id)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", scope.Kind, id, err)
	}

	fields := s.Tracker.FieldMapper().EntityToTracker(entity, site)
	if _, err := s.Tracker.CreateIssue(ctx, uid, site, fields); err != nil {
		return nil, fmt.Errorf("create issue for %s: %w", id, err)
	}

	rec, err := s.reconciler().reconcileAt(ctx, uid, site, scope, []string{id})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", id, err)
	}
	found, ok := rec.Matched[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNoMatchingIssue)
	}
	s.msg("created %s for %s", found.Key, id)
	return &found, nil
}

func (s *Syncer) reconciler() *Reconciler {
	if s.Reconciler != nil {
		return s.Reconciler
	}
	return &Reconciler{Tracker: s.Tracker, Store: s.Store, Logger: s.Logger}
}

func (s *Syncer) setStatus(ctx context.Context, scope Scope, phase Phase, extra map[string]interface{}) error {
	updates := map[string]interface{}{types.FieldVersionStatus: string(phase)}
	for k, v := range extra {
		updates[k] = v
	}
	if err := s.Store.UpdateVersion(ctx, scope.ProjectID, scope.Version, updates); err != nil {
		return fmt.Errorf("set status %s: %w", phase, err)
	}
	return nil
}

func (s *Syncer) pause(ctx context.Context, d time.Duration) error {
	if s.sleep != nil {
		return s.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Syncer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// msg logs progress.
func (s *Syncer) msg(format string, args ...interface{}) {
	s.logger().Info(fmt.Sprintf(format, args...))
}

// warn logs a recoverable failure.
func (s *Syncer) warn(format string, args ...interface{}) {
	s.logger().Warn(fmt.Sprintf(format, args...))
}
