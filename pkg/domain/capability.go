package domain

// RootSessionView is the capability set shared by root session records
// across storage backends: read access to the identifier, the metadata
// fields, and the attached tabs. CloneRootSession is generic over this
// interface, so a record backed by any engine can be turned into this
// package's concrete representation.
type RootSessionView interface {
	ID() string
	EntityVersion() int
	RealmID() string
	CreatedAt() *int64
	ExpiresAt() *int64
	TabViews() []TabSessionView
}

// TabSessionView is the capability set shared by tab session records.
type TabSessionView interface {
	TabID() string
	EntityVersion() int
}

var (
	_ RootSessionView = (*RootSession)(nil)
	_ TabSessionView  = (*TabSession)(nil)
)

// CloneRootSession deep-clones src into a hydrated RootSession. The scalar
// and document fields are copied and every tab is re-attached through
// AddTab, which stamps the current tab schema version. Sources that do not
// satisfy the root session capability set fail with
// UnsupportedCapabilityError.
func CloneRootSession(src any) (*RootSession, error) {
	view, ok := src.(RootSessionView)
	if !ok {
		return nil, UnsupportedCapabilityError{Source: src, Capability: "RootSessionView"}
	}
	out := NewRootSession()
	if raw := view.ID(); raw != "" {
		if err := out.SetID(raw); err != nil {
			return nil, err
		}
	}
	out.metadata.EntityVersion = view.EntityVersion()
	out.metadata.RealmID = view.RealmID()
	out.metadata.CreatedAt = cloneMillis(view.CreatedAt())
	out.metadata.ExpiresAt = cloneMillis(view.ExpiresAt())
	for _, tab := range view.TabViews() {
		if tab != nil {
			out.AddTab(tab)
		}
	}
	return out, nil
}
