package memory

import (
	"context"
	"errors"
	"testing"

	"sessioncore/pkg/domain"
)

func millis(v int64) *int64 { return &v }

func newSession(t *testing.T, realm string, expiresAt *int64) *domain.RootSession {
	t.Helper()
	s := domain.NewRootSession()
	if err := s.SetEntityVersion(domain.CurrentRootSchemaVersion); err != nil {
		t.Fatalf("SetEntityVersion: %v", err)
	}
	if err := s.SetRealmID(realm); err != nil {
		t.Fatalf("SetRealmID: %v", err)
	}
	if err := s.SetCreatedAt(millis(1000)); err != nil {
		t.Fatalf("SetCreatedAt: %v", err)
	}
	if err := s.SetExpiresAt(expiresAt); err != nil {
		t.Fatalf("SetExpiresAt: %v", err)
	}
	return s
}

func TestCreateAssignsIDAndInitialVersion(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	created, err := store.Create(ctx, newSession(t, "realm-a", nil))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID() == "" {
		t.Fatalf("expected assigned identifier")
	}
	if got := created.Version(); got != 1 {
		t.Fatalf("expected initial version 1, got %d", got)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 stored session, got %d", store.Len())
	}
}

func TestCreateRejectsProjection(t *testing.T) {
	store := NewStore()
	id, err := domain.ParseSessionID(domain.NewSessionID())
	if err != nil {
		t.Fatalf("parse id: %v", err)
	}
	projection := domain.NewRootSessionProjection(id, 1, "realm-a", nil, nil)

	var ise domain.InvalidStateError
	if _, err := store.Create(context.Background(), projection); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	created, err := store.Create(ctx, newSession(t, "realm-a", nil))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := store.Get(ctx, created.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := first.SetRealmID("realm-mutated"); err != nil {
		t.Fatalf("SetRealmID: %v", err)
	}

	second, err := store.Get(ctx, created.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := second.RealmID(); got != "realm-a" {
		t.Fatalf("mutating a loaded record leaked into the store: %q", got)
	}
}

func TestGetUnknownIDFailsWithNotFound(t *testing.T) {
	store := NewStore()
	var nfe domain.NotFoundError
	if _, err := store.Get(context.Background(), domain.NewSessionID()); !errors.As(err, &nfe) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestGetProjectionSkipsDocumentAndTabs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	session := newSession(t, "realm-a", millis(5000))
	session.AddTab(domain.NewTabSession("tab-A"))
	created, err := store.Create(ctx, session)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	proj, err := store.GetProjection(ctx, created.ID())
	if err != nil {
		t.Fatalf("GetProjection: %v", err)
	}
	if proj.Hydrated() {
		t.Fatalf("expected projection mode")
	}
	if got := proj.RealmID(); got != "realm-a" {
		t.Fatalf("realm %q", got)
	}
	if got := proj.ExpiresAt(); got == nil || *got != 5000 {
		t.Fatalf("expires at %v", got)
	}
	if got := len(proj.Tabs()); got != 0 {
		t.Fatalf("projection must not carry tabs, got %d", got)
	}
	var ise domain.InvalidStateError
	if err := proj.SetRealmID("realm-b"); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError on projection mutator, got %v", err)
	}
}

func TestListProjectionsFiltersByRealmAndOrdersByID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	for _, realm := range []string{"realm-a", "realm-b", "realm-a"} {
		if _, err := store.Create(ctx, newSession(t, realm, nil)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	all, err := store.ListProjections(ctx, "")
	if err != nil {
		t.Fatalf("ListProjections: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 projections, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID() >= all[i].ID() {
			t.Fatalf("projections not ordered by id: %q before %q", all[i-1].ID(), all[i].ID())
		}
	}

	realmA, err := store.ListProjections(ctx, "realm-a")
	if err != nil {
		t.Fatalf("ListProjections: %v", err)
	}
	if len(realmA) != 2 {
		t.Fatalf("expected 2 realm-a projections, got %d", len(realmA))
	}
	for _, p := range realmA {
		if p.RealmID() != "realm-a" {
			t.Fatalf("filter leaked realm %q", p.RealmID())
		}
	}
}

func TestUpdateAdvancesVersionOncePerCommit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	created, err := store.Create(ctx, newSession(t, "realm-a", nil))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := store.Update(ctx, created.ID(), func(s *domain.RootSession) error {
		s.AddTab(domain.NewTabSession("tab-A"))
		s.AddTab(domain.NewTabSession("tab-B"))
		return s.SetRealmID("realm-renamed")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := updated.Version(); got != 2 {
		t.Fatalf("expected version 2 after one commit, got %d", got)
	}

	loaded, err := store.Get(ctx, created.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := loaded.RealmID(); got != "realm-renamed" {
		t.Fatalf("realm %q", got)
	}
	if got := len(loaded.Tabs()); got != 2 {
		t.Fatalf("expected 2 tabs, got %d", got)
	}
}

func TestUpdateMutatorErrorLeavesStoreUntouched(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	created, err := store.Create(ctx, newSession(t, "realm-a", nil))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	boom := errors.New("boom")
	if _, err := store.Update(ctx, created.ID(), func(s *domain.RootSession) error {
		if err := s.SetRealmID("realm-b"); err != nil {
			return err
		}
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	loaded, err := store.Get(ctx, created.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := loaded.RealmID(); got != "realm-a" {
		t.Fatalf("failed update leaked a write: realm %q", got)
	}
	if got := loaded.Version(); got != 1 {
		t.Fatalf("failed update advanced the version: %d", got)
	}
}

func TestUpdateUnknownIDFailsWithNotFound(t *testing.T) {
	store := NewStore()
	var nfe domain.NotFoundError
	_, err := store.Update(context.Background(), domain.NewSessionID(), func(*domain.RootSession) error { return nil })
	if !errors.As(err, &nfe) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDeleteCascadesAndReportsExistence(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	session := newSession(t, "realm-a", nil)
	session.AddTab(domain.NewTabSession("tab-A"))
	created, err := store.Create(ctx, session)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	existed, err := store.Delete(ctx, created.ID())
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Fatalf("expected delete of existing record to report true")
	}
	var nfe domain.NotFoundError
	if _, err := store.Get(ctx, created.ID()); !errors.As(err, &nfe) {
		t.Fatalf("expected NotFoundError after delete, got %v", err)
	}

	existed, err = store.Delete(ctx, created.ID())
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if existed {
		t.Fatalf("expected second delete to report false")
	}
}

func TestPurgeExpiredRemovesOnlyDueSessions(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	expired, err := store.Create(ctx, newSession(t, "realm-a", millis(1000)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, newSession(t, "realm-a", millis(9000))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, newSession(t, "realm-a", nil)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	removed, err := store.PurgeExpired(ctx, 1000)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("expected 1 purged snapshot, got %d", len(removed))
	}
	if removed[0].ID != expired.ID() {
		t.Fatalf("purged wrong session %s", removed[0].ID)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 surviving sessions, got %d", store.Len())
	}
}

func TestOperationsHonorContextCancellation(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Create(ctx, newSession(t, "realm-a", nil)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Create: expected context.Canceled, got %v", err)
	}
	if _, err := store.Get(ctx, domain.NewSessionID()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Get: expected context.Canceled, got %v", err)
	}
	if _, err := store.ListProjections(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("ListProjections: expected context.Canceled, got %v", err)
	}
}
