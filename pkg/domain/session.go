// Package domain defines the root authentication session aggregate, its
// tab-scoped child sessions, and the persistence contracts implemented by
// the storage engines under internal/infra.
package domain

import (
	"hash/fnv"
	"sort"

	"github.com/google/uuid"
)

// Schema versions stamped onto records when they are written or attached.
// They track the layout of the serialized documents and are distinct from
// the optimistic-lock version managed by the storage engines.
const (
	// CurrentRootSchemaVersion is the layout version of the root session document.
	CurrentRootSchemaVersion = 1
	// CurrentTabSchemaVersion is the layout version stamped onto tab sessions at attach time.
	CurrentTabSchemaVersion = 1
)

// SessionMetadata is the embedded document holding the root session fields
// that vary independently of the relational schema. Storage engines persist
// it as an opaque JSON blob; all four fields must round-trip exactly.
type SessionMetadata struct {
	EntityVersion int    `json:"entityVersion"`
	RealmID       string `json:"realmId"`
	CreatedAt     *int64 `json:"createdAt,omitempty"` // epoch millis
	ExpiresAt     *int64 `json:"expiresAt,omitempty"` // epoch millis
}

// Clone returns an independent copy of the document.
func (m *SessionMetadata) Clone() *SessionMetadata {
	if m == nil {
		return nil
	}
	cp := *m
	cp.CreatedAt = cloneMillis(m.CreatedAt)
	cp.ExpiresAt = cloneMillis(m.ExpiresAt)
	return &cp
}

func cloneMillis(v *int64) *int64 {
	if v == nil {
		return nil
	}
	ms := *v
	return &ms
}

// rootProjection carries the denormalized scalar columns used by read paths
// that skip metadata decoding. It is immutable after construction.
type rootProjection struct {
	entityVersion int
	realmID       string
	createdAt     *int64
	expiresAt     *int64
}

// RootSession is the aggregate root for one authentication session. It owns
// the tab sessions attached to it and carries either a hydrated metadata
// document or a read-only denormalized projection; exactly one of the two is
// populated once the record is constructed.
//
// A zero uuid means the identifier has not been assigned yet.
type RootSession struct {
	id      uuid.UUID
	version int

	// exactly one of metadata / projection is non-nil
	metadata   *SessionMetadata
	projection *rootProjection

	tabs map[string]*TabSession
}

// NewRootSession allocates a root session in hydrated mode with an empty
// metadata document, ready for population.
func NewRootSession() *RootSession {
	return &RootSession{
		metadata: &SessionMetadata{},
		tabs:     make(map[string]*TabSession),
	}
}

// NewRootSessionProjection builds a root session in projection mode from the
// five denormalized scalars of the relational read path. The metadata
// document is absent; metadata mutators fail with InvalidStateError.
func NewRootSessionProjection(id uuid.UUID, entityVersion int, realmID string, createdAt, expiresAt *int64) *RootSession {
	return &RootSession{
		id: id,
		projection: &rootProjection{
			entityVersion: entityVersion,
			realmID:       realmID,
			createdAt:     cloneMillis(createdAt),
			expiresAt:     cloneMillis(expiresAt),
		},
		tabs: make(map[string]*TabSession),
	}
}

// Hydrated reports whether the metadata document is present. Callers rarely
// need this: the readers below dispatch on the representation themselves.
func (s *RootSession) Hydrated() bool {
	return s.metadata != nil
}

// ID returns the canonical textual identifier, or "" when unassigned.
func (s *RootSession) ID() string {
	if s.id == uuid.Nil {
		return ""
	}
	return s.id.String()
}

// SetID validates and normalizes raw into canonical UUID form. The record is
// left unmodified when raw cannot be interpreted as an identifier.
func (s *RootSession) SetID(raw string) error {
	id, err := ParseSessionID(raw)
	if err != nil {
		return err
	}
	s.id = id
	return nil
}

// Version returns the optimistic-lock token. It is advanced by the storage
// engine on every committed mutation, never by application code; the only
// way to move it is through the snapshot/restore boundary.
func (s *RootSession) Version() int {
	return s.version
}

// EntityVersion reads the document schema version from whichever
// representation is populated.
func (s *RootSession) EntityVersion() int {
	if s.metadata != nil {
		return s.metadata.EntityVersion
	}
	if s.projection != nil {
		return s.projection.entityVersion
	}
	return 0
}

// RealmID reads the owning realm from whichever representation is populated.
func (s *RootSession) RealmID() string {
	if s.metadata != nil {
		return s.metadata.RealmID
	}
	if s.projection != nil {
		return s.projection.realmID
	}
	return ""
}

// CreatedAt reads the creation timestamp (epoch millis) from whichever
// representation is populated. Nil means unset.
func (s *RootSession) CreatedAt() *int64 {
	if s.metadata != nil {
		return cloneMillis(s.metadata.CreatedAt)
	}
	if s.projection != nil {
		return cloneMillis(s.projection.createdAt)
	}
	return nil
}

// ExpiresAt reads the expiration timestamp (epoch millis) from whichever
// representation is populated. Nil means the session does not expire.
func (s *RootSession) ExpiresAt() *int64 {
	if s.metadata != nil {
		return cloneMillis(s.metadata.ExpiresAt)
	}
	if s.projection != nil {
		return cloneMillis(s.projection.expiresAt)
	}
	return nil
}

// SetEntityVersion writes through the metadata document. Projections are
// read-only snapshots, so the call fails with InvalidStateError when the
// document is absent.
func (s *RootSession) SetEntityVersion(v int) error {
	if s.metadata == nil {
		return InvalidStateError{Op: "SetEntityVersion"}
	}
	s.metadata.EntityVersion = v
	return nil
}

// SetRealmID writes through the metadata document.
func (s *RootSession) SetRealmID(realmID string) error {
	if s.metadata == nil {
		return InvalidStateError{Op: "SetRealmID"}
	}
	s.metadata.RealmID = realmID
	return nil
}

// SetCreatedAt writes through the metadata document.
func (s *RootSession) SetCreatedAt(millis *int64) error {
	if s.metadata == nil {
		return InvalidStateError{Op: "SetCreatedAt"}
	}
	s.metadata.CreatedAt = cloneMillis(millis)
	return nil
}

// SetExpiresAt writes through the metadata document.
func (s *RootSession) SetExpiresAt(millis *int64) error {
	if s.metadata == nil {
		return InvalidStateError{Op: "SetExpiresAt"}
	}
	s.metadata.ExpiresAt = cloneMillis(millis)
	return nil
}

// AddTab deep-clones src into this package's concrete tab representation,
// sets the parent back-reference, stamps the current tab schema version
// (overriding whatever the source carried), and inserts it keyed by tab ID.
// An existing tab with the same tab ID is replaced. The stored clone is
// returned.
func (s *RootSession) AddTab(src TabSessionView) *TabSession {
	tab := &TabSession{
		tabID:         src.TabID(),
		entityVersion: CurrentTabSchemaVersion,
	}
	tab.parent = s
	if s.tabs == nil {
		s.tabs = make(map[string]*TabSession)
	}
	s.tabs[tab.tabID] = tab
	return tab
}

// SetTabs replaces the entire tab set: existing tabs are released and each
// supplied tab is attached through AddTab. Tabs dropped here are deleted at
// the storage boundary through orphan removal.
func (s *RootSession) SetTabs(tabs []TabSessionView) {
	s.tabs = make(map[string]*TabSession, len(tabs))
	for _, t := range tabs {
		if t != nil {
			s.AddTab(t)
		}
	}
}

// Tab returns the tab session matching tabID.
func (s *RootSession) Tab(tabID string) (*TabSession, bool) {
	tab, ok := s.tabs[tabID]
	return tab, ok
}

// RemoveTab removes the tab matching tabID and reports whether one existed.
func (s *RootSession) RemoveTab(tabID string) bool {
	if _, ok := s.tabs[tabID]; !ok {
		return false
	}
	delete(s.tabs, tabID)
	return true
}

// Tabs returns the attached tab sessions ordered by tab ID.
func (s *RootSession) Tabs() []*TabSession {
	out := make([]*TabSession, 0, len(s.tabs))
	for _, tab := range s.tabs {
		out = append(out, tab)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tabID < out[j].tabID })
	return out
}

// TabViews exposes the tab set through the capability interface, satisfying
// RootSessionView.
func (s *RootSession) TabViews() []TabSessionView {
	tabs := s.Tabs()
	out := make([]TabSessionView, len(tabs))
	for i, tab := range tabs {
		out[i] = tab
	}
	return out
}

// Equal reports identity equality: two root sessions are equal when their
// canonical IDs match, regardless of content.
func (s *RootSession) Equal(other *RootSession) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	return s.ID() == other.ID()
}

// Hash returns the same value for every RootSession. Distribution is
// deliberately sacrificed so the hash stays stable for records whose ID has
// not been assigned yet; deriving it from the ID would let a later SetID
// move the record inside hash-keyed collections.
func (s *RootSession) Hash() uint64 {
	return rootSessionHash
}

var rootSessionHash = typeHash("domain.RootSession")

func typeHash(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// TabSession is one tab-scoped sub-session. Tab sessions are created and
// destroyed only as a consequence of their parent's tab-set operations; they
// have no independent persistence lifecycle.
type TabSession struct {
	tabID         string
	parent        *RootSession
	entityVersion int
}

// NewTabSession constructs a detached tab session. It becomes persistent
// only once attached to a root through AddTab.
func NewTabSession(tabID string) *TabSession {
	return &TabSession{tabID: tabID}
}

// TabID returns the identifier scoping this session to one tab.
func (t *TabSession) TabID() string { return t.tabID }

// SetTabID assigns the tab identifier.
func (t *TabSession) SetTabID(tabID string) { t.tabID = tabID }

// Parent returns the owning root session. The reference is non-owning
// bookkeeping; it never extends the parent's lifetime.
func (t *TabSession) Parent() *RootSession { return t.parent }

// SetParent assigns the back-reference to the owning root. AddTab calls it
// before insertion; it exists separately for construction ordering.
func (t *TabSession) SetParent(root *RootSession) { t.parent = root }

// EntityVersion returns the document schema version of this tab record.
func (t *TabSession) EntityVersion() int { return t.entityVersion }

// SetEntityVersion assigns the schema version. AddTab overrides it with
// CurrentTabSchemaVersion on attach.
func (t *TabSession) SetEntityVersion(v int) { t.entityVersion = v }
