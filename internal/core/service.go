// Package core exposes the instrumented session service that higher layers
// call instead of talking to a storage engine directly. Every operation is
// wrapped with logging, metrics, and tracing hooks.
package core

import (
	"context"
	"time"

	"sessioncore/pkg/domain"
)

// Logger is the minimal structured logging surface the service writes to.
// log/slog satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Operation names one service entry point. Metrics and traces are keyed by
// these values, so dashboards see a closed vocabulary instead of free-form
// strings.
type Operation string

const (
	OpCreateSession          Operation = "create_session"
	OpGetSession             Operation = "get_session"
	OpGetSessionProjection   Operation = "get_session_projection"
	OpListSessionProjections Operation = "list_session_projections"
	OpUpdateSession          Operation = "update_session"
	OpDeleteSession          Operation = "delete_session"
	OpAttachTab              Operation = "attach_tab"
	OpDetachTab              Operation = "detach_tab"
	OpTouchExpiry            Operation = "touch_expiry"
	OpPurgeExpired           Operation = "purge_expired"
)

// MetricsRecorder receives one observation per completed service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, op Operation, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, op Operation) (context.Context, TraceSpan)
}

// TraceSpan ends a span, recording the operation error if any.
type TraceSpan interface {
	End(err error)
}

// Service wraps a domain.SessionStore with observability hooks. The store
// keeps the persistence semantics; the service adds the operational surface.
type Service struct {
	store   domain.SessionStore
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithLogger installs a logger; the default discards everything.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock installs a clock; the default is time.Now.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = rec }
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) { s.tracer = tracer }
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.SessionStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: noopLogger{},
		clock:  ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.SessionStore { return s.store }

// instrument runs fn under a span and reports its outcome to the logger and
// the metrics recorder.
func (s *Service) instrument(ctx context.Context, op Operation, fn func(ctx context.Context) error) error {
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, op)
	}
	started := s.clock.Now()
	err := fn(ctx)
	duration := s.clock.Now().Sub(started)
	if span != nil {
		span.End(err)
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, op, err == nil, duration)
	}
	if err != nil {
		s.logger.Error("session operation failed", "operation", string(op), "error", err)
	} else {
		s.logger.Debug("session operation completed", "operation", string(op), "duration_ms", float64(duration)/float64(time.Millisecond))
	}
	return err
}

// CreateSession persists a new hydrated root session.
func (s *Service) CreateSession(ctx context.Context, session *domain.RootSession) (*domain.RootSession, error) {
	var created *domain.RootSession
	err := s.instrument(ctx, OpCreateSession, func(ctx context.Context) error {
		var err error
		created, err = s.store.Create(ctx, session)
		return err
	})
	return created, err
}

// GetSession loads a root session in hydrated mode.
func (s *Service) GetSession(ctx context.Context, id string) (*domain.RootSession, error) {
	var loaded *domain.RootSession
	err := s.instrument(ctx, OpGetSession, func(ctx context.Context) error {
		var err error
		loaded, err = s.store.Get(ctx, id)
		return err
	})
	return loaded, err
}

// GetSessionProjection loads a root session in projection mode.
func (s *Service) GetSessionProjection(ctx context.Context, id string) (*domain.RootSession, error) {
	var loaded *domain.RootSession
	err := s.instrument(ctx, OpGetSessionProjection, func(ctx context.Context) error {
		var err error
		loaded, err = s.store.GetProjection(ctx, id)
		return err
	})
	return loaded, err
}

// ListSessionProjections lists projections, optionally filtered by realm.
func (s *Service) ListSessionProjections(ctx context.Context, realmID string) ([]*domain.RootSession, error) {
	var listed []*domain.RootSession
	err := s.instrument(ctx, OpListSessionProjections, func(ctx context.Context) error {
		var err error
		listed, err = s.store.ListProjections(ctx, realmID)
		return err
	})
	return listed, err
}

// UpdateSession mutates a root session under the store's version check.
func (s *Service) UpdateSession(ctx context.Context, id string, mutate func(*domain.RootSession) error) (*domain.RootSession, error) {
	var updated *domain.RootSession
	err := s.instrument(ctx, OpUpdateSession, func(ctx context.Context) error {
		var err error
		updated, err = s.store.Update(ctx, id, mutate)
		return err
	})
	return updated, err
}

// DeleteSession removes a root session and its tabs.
func (s *Service) DeleteSession(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := s.instrument(ctx, OpDeleteSession, func(ctx context.Context) error {
		var err error
		existed, err = s.store.Delete(ctx, id)
		return err
	})
	return existed, err
}

// AttachTab adds (or replaces) a tab session on the root identified by id.
func (s *Service) AttachTab(ctx context.Context, id string, tab domain.TabSessionView) (*domain.RootSession, error) {
	var updated *domain.RootSession
	err := s.instrument(ctx, OpAttachTab, func(ctx context.Context) error {
		var err error
		updated, err = s.store.Update(ctx, id, func(session *domain.RootSession) error {
			session.AddTab(tab)
			return nil
		})
		return err
	})
	return updated, err
}

// DetachTab removes the tab matching tabID from the root identified by id.
// Removing an absent tab is not an error; the commit still advances the
// version.
func (s *Service) DetachTab(ctx context.Context, id, tabID string) (*domain.RootSession, error) {
	var updated *domain.RootSession
	err := s.instrument(ctx, OpDetachTab, func(ctx context.Context) error {
		var err error
		updated, err = s.store.Update(ctx, id, func(session *domain.RootSession) error {
			session.RemoveTab(tabID)
			return nil
		})
		return err
	})
	return updated, err
}

// TouchExpiry rewrites the expiration timestamp (epoch millis, nil clears
// it).
func (s *Service) TouchExpiry(ctx context.Context, id string, expiresAt *int64) (*domain.RootSession, error) {
	var updated *domain.RootSession
	err := s.instrument(ctx, OpTouchExpiry, func(ctx context.Context) error {
		var err error
		updated, err = s.store.Update(ctx, id, func(session *domain.RootSession) error {
			return session.SetExpiresAt(expiresAt)
		})
		return err
	})
	return updated, err
}

// PurgeExpired removes sessions expired at or before the clock's current
// time and returns the removed snapshots.
func (s *Service) PurgeExpired(ctx context.Context) ([]domain.RootSessionSnapshot, error) {
	var removed []domain.RootSessionSnapshot
	err := s.instrument(ctx, OpPurgeExpired, func(ctx context.Context) error {
		now := s.clock.Now().UnixMilli()
		var err error
		removed, err = s.store.PurgeExpired(ctx, now)
		return err
	})
	return removed, err
}
