package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

const storageScopeName = "github.com/surya-s-1/captain-tool-integrations/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in captain.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

var _ storage.Store = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with OTel instrumentation.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s)
}

func newInstrumentedStore(s storage.Store) *InstrumentedStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("captain.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("captain.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("captain.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	EndSpan(span, err)
}

func scopeAttrs(projectID, version string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("captain.project", projectID),
		attribute.String("captain.version", version),
	}
}

// ── Documents ───────────────────────────────────────────────────────────────

func (s *InstrumentedStore) CreateProject(ctx context.Context, p *types.Project, v *types.Version) error {
	attrs := scopeAttrs(p.ID, v.Version)
	ctx, span, t := s.op(ctx, "CreateProject", attrs...)
	err := s.inner.CreateProject(ctx, p, v)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	attrs := []attribute.KeyValue{attribute.String("captain.project", projectID)}
	ctx, span, t := s.op(ctx, "GetProject", attrs...)
	v, err := s.inner.GetProject(ctx, projectID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetVersion(ctx context.Context, projectID, version string) (*types.Version, error) {
	attrs := scopeAttrs(projectID, version)
	ctx, span, t := s.op(ctx, "GetVersion", attrs...)
	v, err := s.inner.GetVersion(ctx, projectID, version)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) UpdateVersion(ctx context.Context, projectID, version string, updates map[string]interface{}) error {
	attrs := append(scopeAttrs(projectID, version), attribute.Int("captain.update.count", len(updates)))
	ctx, span, t := s.op(ctx, "UpdateVersion", attrs...)
	err := s.inner.UpdateVersion(ctx, projectID, version, updates)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetEntities(ctx context.Context, projectID, version string, kind types.EntityKind) ([]*types.Entity, error) {
	attrs := append(scopeAttrs(projectID, version), attribute.String("captain.kind", string(kind)))
	ctx, span, t := s.op(ctx, "GetEntities", attrs...)
	v, err := s.inner.GetEntities(ctx, projectID, version, kind)
	span.SetAttributes(attribute.Int("captain.entity.count", len(v)))
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetEntity(ctx context.Context, projectID, version string, kind types.EntityKind, id string) (*types.Entity, error) {
	attrs := append(scopeAttrs(projectID, version), attribute.String("captain.kind", string(kind)))
	ctx, span, t := s.op(ctx, "GetEntity", append(attrs, attribute.String("captain.entity.id", id))...)
	v, err := s.inner.GetEntity(ctx, projectID, version, kind, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) UpdateEntity(ctx context.Context, projectID, version string, kind types.EntityKind, id string, updates map[string]interface{}) error {
	attrs := append(scopeAttrs(projectID, version), attribute.String("captain.kind", string(kind)))
	ctx, span, t := s.op(ctx, "UpdateEntity", append(attrs, attribute.String("captain.entity.id", id))...)
	err := s.inner.UpdateEntity(ctx, projectID, version, kind, id, updates)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Jobs ────────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) CreateJob(ctx context.Context, job *types.ArchiveJob) error {
	attrs := []attribute.KeyValue{attribute.String("captain.job.target_kind", string(job.TargetKind))}
	ctx, span, t := s.op(ctx, "CreateJob", append(attrs, attribute.String("captain.job.id", job.ID))...)
	err := s.inner.CreateJob(ctx, job)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetJob(ctx context.Context, id string) (*types.ArchiveJob, error) {
	ctx, span, t := s.op(ctx, "GetJob", attribute.String("captain.job.id", id))
	v, err := s.inner.GetJob(ctx, id)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) TransitionJob(ctx context.Context, id string, from, to types.JobStatus, updates map[string]interface{}) error {
	attrs := []attribute.KeyValue{
		attribute.String("captain.job.from", string(from)),
		attribute.String("captain.job.to", string(to)),
	}
	ctx, span, t := s.op(ctx, "TransitionJob", append(attrs, attribute.String("captain.job.id", id))...)
	err := s.inner.TransitionJob(ctx, id, from, to, updates)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Credentials ─────────────────────────────────────────────────────────────
// uid is deliberately not recorded as an attribute.

func (s *InstrumentedStore) GetSecretPath(ctx context.Context, tool, uid string) (string, error) {
	attrs := []attribute.KeyValue{attribute.String("captain.tool", tool)}
	ctx, span, t := s.op(ctx, "GetSecretPath", attrs...)
	v, err := s.inner.GetSecretPath(ctx, tool, uid)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) SaveSecretPath(ctx context.Context, tool, uid, secretPath string) error {
	attrs := []attribute.KeyValue{attribute.String("captain.tool", tool)}
	ctx, span, t := s.op(ctx, "SaveSecretPath", attrs...)
	err := s.inner.SaveSecretPath(ctx, tool, uid, secretPath)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) SaveAuthState(ctx context.Context, tool, uid, state string) error {
	attrs := []attribute.KeyValue{attribute.String("captain.tool", tool)}
	ctx, span, t := s.op(ctx, "SaveAuthState", attrs...)
	err := s.inner.SaveAuthState(ctx, tool, uid, state)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ConsumeAuthState(ctx context.Context, tool, uid string) (string, error) {
	attrs := []attribute.KeyValue{attribute.String("captain.tool", tool)}
	ctx, span, t := s.op(ctx, "ConsumeAuthState", attrs...)
	v, err := s.inner.ConsumeAuthState(ctx, tool, uid)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) StoreSecret(ctx context.Context, name string, payload []byte) (string, error) {
	ctx, span, t := s.op(ctx, "StoreSecret")
	v, err := s.inner.StoreSecret(ctx, name, payload)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) GetSecret(ctx context.Context, path string) ([]byte, error) {
	ctx, span, t := s.op(ctx, "GetSecret")
	v, err := s.inner.GetSecret(ctx, path)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
