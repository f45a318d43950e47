package domain

// RootSessionSnapshot is the memento that crosses the storage boundary. It
// is the only place where the optimistic-lock version can be set on a
// record, which keeps the counter out of reach of application code: stores
// restore records with RestoreRootSession and extract state with Snapshot.
//
// Metadata is present for hydrated records and nil for projections, in
// which case the denormalized scalars carry the readable fields.
type RootSessionSnapshot struct {
	ID       string           `json:"id"`
	Version  int              `json:"version"`
	Metadata *SessionMetadata `json:"metadata,omitempty"`

	EntityVersion int    `json:"entityVersion,omitempty"`
	RealmID       string `json:"realmId,omitempty"`
	CreatedAt     *int64 `json:"createdAt,omitempty"`
	ExpiresAt     *int64 `json:"expiresAt,omitempty"`

	Tabs []TabSnapshot `json:"tabs,omitempty"`
}

// TabSnapshot is the persisted form of one tab session.
type TabSnapshot struct {
	TabID         string `json:"tabId"`
	EntityVersion int    `json:"entityVersion"`
}

// Snapshot extracts the persistable state of the record. Hydrated records
// carry the metadata document; projections carry the denormalized scalars.
func (s *RootSession) Snapshot() RootSessionSnapshot {
	snap := RootSessionSnapshot{
		ID:      s.ID(),
		Version: s.version,
	}
	if s.metadata != nil {
		snap.Metadata = s.metadata.Clone()
	} else if s.projection != nil {
		snap.EntityVersion = s.projection.entityVersion
		snap.RealmID = s.projection.realmID
		snap.CreatedAt = cloneMillis(s.projection.createdAt)
		snap.ExpiresAt = cloneMillis(s.projection.expiresAt)
	}
	tabs := s.Tabs()
	if len(tabs) > 0 {
		snap.Tabs = make([]TabSnapshot, len(tabs))
		for i, tab := range tabs {
			snap.Tabs[i] = TabSnapshot{TabID: tab.tabID, EntityVersion: tab.entityVersion}
		}
	}
	return snap
}

// RestoreRootSession rebuilds a record from its persisted state. A snapshot
// with a metadata document restores to hydrated mode, otherwise to
// projection mode. Tab entity versions are preserved as stored, not
// restamped.
func RestoreRootSession(snap RootSessionSnapshot) (*RootSession, error) {
	s := &RootSession{
		version: snap.Version,
		tabs:    make(map[string]*TabSession, len(snap.Tabs)),
	}
	if snap.ID != "" {
		id, err := ParseSessionID(snap.ID)
		if err != nil {
			return nil, err
		}
		s.id = id
	}
	if snap.Metadata != nil {
		s.metadata = snap.Metadata.Clone()
	} else {
		s.projection = &rootProjection{
			entityVersion: snap.EntityVersion,
			realmID:       snap.RealmID,
			createdAt:     cloneMillis(snap.CreatedAt),
			expiresAt:     cloneMillis(snap.ExpiresAt),
		}
	}
	for _, tab := range snap.Tabs {
		s.tabs[tab.TabID] = &TabSession{
			tabID:         tab.TabID,
			parent:        s,
			entityVersion: tab.EntityVersion,
		}
	}
	return s, nil
}
