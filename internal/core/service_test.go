package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"sessioncore/internal/infra/persistence/memory"
	"sessioncore/pkg/domain"
)

func millis(v int64) *int64 { return &v }

type metricsCall struct {
	op       Operation
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op Operation, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op Operation, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []Operation
	ended   []spanRecord
}

type spanRecord struct {
	op  Operation
	err error
}

func (c *captureTracer) Start(ctx context.Context, op Operation) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     Operation
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type captureLogger struct {
	errors []string
	debugs []string
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.debugs = append(l.debugs, msg) }
func (l *captureLogger) Info(string, ...any)        {}
func (l *captureLogger) Warn(string, ...any)        {}
func (l *captureLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }

func newHydrated(t *testing.T, realm string, expiresAt *int64) *domain.RootSession {
	t.Helper()
	s := domain.NewRootSession()
	if err := s.SetEntityVersion(domain.CurrentRootSchemaVersion); err != nil {
		t.Fatalf("SetEntityVersion: %v", err)
	}
	if err := s.SetRealmID(realm); err != nil {
		t.Fatalf("SetRealmID: %v", err)
	}
	if err := s.SetExpiresAt(expiresAt); err != nil {
		t.Fatalf("SetExpiresAt: %v", err)
	}
	return s
}

func TestServiceSessionLifecycle(t *testing.T) {
	svc := NewService(memory.NewStore())
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, newHydrated(t, "realm-a", nil))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	loaded, err := svc.GetSession(ctx, created.ID())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if loaded.RealmID() != "realm-a" {
		t.Fatalf("realm %q", loaded.RealmID())
	}

	proj, err := svc.GetSessionProjection(ctx, created.ID())
	if err != nil {
		t.Fatalf("GetSessionProjection: %v", err)
	}
	if proj.Hydrated() {
		t.Fatalf("expected projection mode")
	}

	listed, err := svc.ListSessionProjections(ctx, "realm-a")
	if err != nil {
		t.Fatalf("ListSessionProjections: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 projection, got %d", len(listed))
	}

	updated, err := svc.UpdateSession(ctx, created.ID(), func(s *domain.RootSession) error {
		return s.SetRealmID("realm-renamed")
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.Version() != 2 {
		t.Fatalf("version %d", updated.Version())
	}

	existed, err := svc.DeleteSession(ctx, created.ID())
	if err != nil || !existed {
		t.Fatalf("DeleteSession: existed=%v err=%v", existed, err)
	}
}

func TestAttachAndDetachTab(t *testing.T) {
	svc := NewService(memory.NewStore())
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, newHydrated(t, "realm-a", nil))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	updated, err := svc.AttachTab(ctx, created.ID(), domain.NewTabSession("tab-A"))
	if err != nil {
		t.Fatalf("AttachTab: %v", err)
	}
	tab, ok := updated.Tab("tab-A")
	if !ok {
		t.Fatalf("tab-A not attached")
	}
	if tab.EntityVersion() != domain.CurrentTabSchemaVersion {
		t.Fatalf("tab not stamped: %d", tab.EntityVersion())
	}

	updated, err = svc.DetachTab(ctx, created.ID(), "tab-A")
	if err != nil {
		t.Fatalf("DetachTab: %v", err)
	}
	if _, ok := updated.Tab("tab-A"); ok {
		t.Fatalf("tab-A still attached")
	}
}

func TestTouchExpiryAndPurge(t *testing.T) {
	frozen := time.UnixMilli(5000)
	svc := NewService(memory.NewStore(), WithClock(ClockFunc(func() time.Time { return frozen })))
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, newHydrated(t, "realm-a", nil))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := svc.CreateSession(ctx, newHydrated(t, "realm-a", millis(9000))); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := svc.TouchExpiry(ctx, created.ID(), millis(4000)); err != nil {
		t.Fatalf("TouchExpiry: %v", err)
	}

	removed, err := svc.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != created.ID() {
		t.Fatalf("unexpected purge result %+v", removed)
	}
}

func TestServiceObservabilityHooks(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	svc := NewService(memory.NewStore(),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
	)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, newHydrated(t, "realm-a", nil))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !metrics.has(OpCreateSession, true) {
		t.Fatalf("expected success observation for create_session: %+v", metrics.calls)
	}
	if len(tracer.started) == 0 || tracer.started[0] != OpCreateSession {
		t.Fatalf("expected span for create_session, got %v", tracer.started)
	}
	if len(logger.debugs) == 0 {
		t.Fatalf("expected debug log for successful operation")
	}

	var nfe domain.NotFoundError
	if _, err := svc.GetSession(ctx, domain.NewSessionID()); !errors.As(err, &nfe) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if !metrics.has(OpGetSession, false) {
		t.Fatalf("expected error observation for get_session")
	}
	if len(logger.errors) == 0 {
		t.Fatalf("expected error log for failed operation")
	}

	found := false
	for _, record := range tracer.ended {
		if record.op == OpGetSession && record.err != nil {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ended span with error for get_session")
	}

	_ = created
}

func TestUpdateConflictSurfacesThroughService(t *testing.T) {
	store := memory.NewStore()
	metrics := &captureMetricsRecorder{}
	svc := NewService(store, WithMetricsRecorder(metrics))
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, newHydrated(t, "realm-a", nil))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	boom := errors.New("mutator boom")
	if _, err := svc.UpdateSession(ctx, created.ID(), func(*domain.RootSession) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	if !metrics.has(OpUpdateSession, false) {
		t.Fatalf("expected error observation for update_session")
	}
}
