package core

import (
	"context"
	"time"

	"reqcore/pkg/domain"
)

// AuditStatus reports whether an audited operation succeeded.
type AuditStatus string

const (
	// AuditStatusSuccess marks a completed operation.
	AuditStatusSuccess AuditStatus = "success"
	// AuditStatusError marks a failed operation.
	AuditStatusError AuditStatus = "error"
)

// AuditEntry captures a single service operation for the audit trail.
type AuditEntry struct {
	Operation string            `json:"operation"`
	Entity    domain.EntityKind `json:"entity"`
	Action    domain.Action     `json:"action"`
	EntityID  string            `json:"entity_id"`
	Actor     string            `json:"actor,omitempty"`
	Status    AuditStatus       `json:"status"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
}

// AuditRecorder receives audit entries for every service operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation outcomes and latencies.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan represents an in-flight traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// Clock supplies the current time for audit timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Option configures optional service collaborators.
type Option func(*Service)

// WithAuditRecorder attaches an audit recorder to the service.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) { s.audit = recorder }
}

// WithMetricsRecorder attaches a metrics recorder to the service.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) { s.metrics = recorder }
}

// WithTracer attaches a tracer to the service.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithClock overrides the audit timestamp source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithBlobStore attaches a blob store used for solution history exports.
func WithBlobStore(store BlobStore) Option {
	return func(s *Service) { s.blobs = store }
}

type operationMetadata struct {
	Entity domain.EntityKind
	Action domain.Action
}

// auditOperations maps operation names to the entity and action they audit.
// Operations absent from this table are not audited.
var auditOperations = map[string]operationMetadata{
	"create_requirement":  {Entity: domain.EntityIdentity, Action: domain.ActionCreate},
	"submit_for_review":   {Entity: domain.EntityVersion, Action: domain.ActionCreate},
	"record_endorsement":  {Entity: domain.EntityEndorsement, Action: domain.ActionUpdate},
	"finalize_review":     {Entity: domain.EntityVersion, Action: domain.ActionCreate},
	"revise_requirement":  {Entity: domain.EntityVersion, Action: domain.ActionCreate},
	"remove_requirement":  {Entity: domain.EntityVersion, Action: domain.ActionCreate},
	"restore_requirement": {Entity: domain.EntityVersion, Action: domain.ActionCreate},
	"delete_requirement":  {Entity: domain.EntityVersion, Action: domain.ActionDelete},
	"reorder_requirement": {Entity: domain.EntityVersion, Action: domain.ActionUpdate},
	"link_requirement":    {Entity: domain.EntityRelation, Action: domain.ActionCreate},
	"unlink_requirement":  {Entity: domain.EntityRelation, Action: domain.ActionDelete},
	"run_checks":          {Entity: domain.EntityEndorsement, Action: domain.ActionUpdate},
	"export_solution":     {Entity: domain.EntityIdentity, Action: domain.ActionCreate},
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

func (s *Service) recordAuditSuccess(ctx context.Context, operation, entityID string, duration time.Duration) {
	s.recordAudit(ctx, operation, entityID, "", AuditStatusSuccess, nil, duration)
}

func (s *Service) recordAuditError(ctx context.Context, operation, entityID string, opErr error, duration time.Duration) {
	s.recordAudit(ctx, operation, entityID, "", AuditStatusError, opErr, duration)
}

func (s *Service) recordAudit(ctx context.Context, operation, entityID, actor string, status AuditStatus, opErr error, duration time.Duration) {
	if s.audit == nil {
		return
	}
	meta, ok := auditOperations[operation]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: operation,
		Entity:    meta.Entity,
		Action:    meta.Action,
		EntityID:  entityID,
		Actor:     actor,
		Status:    status,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	s.audit.Record(ctx, entry)
}

// instrument wraps a service operation with tracing, metrics, and audit
// recording. The callback returns the primary entity id for the audit entry.
func (s *Service) instrument(ctx context.Context, operation string, fn func(ctx context.Context) (string, error)) error {
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	start := time.Now()
	entityID, err := fn(ctx)
	duration := time.Since(start)
	if span != nil {
		span.End(err)
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, duration)
	}
	if err != nil {
		s.recordAuditError(ctx, operation, entityID, err, duration)
		return err
	}
	s.recordAuditSuccess(ctx, operation, entityID, duration)
	return nil
}
