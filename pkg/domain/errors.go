package domain

import "fmt"

// ValidationError reports input that could not be interpreted as a valid
// value. The record under mutation is left unmodified.
type ValidationError struct {
	Field string
	Value string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// InvalidStateError reports a metadata mutator called on a projection-mode
// record. Projections are read-only snapshots; this is a caller misuse, not
// a data problem.
type InvalidStateError struct {
	Op string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s requires a hydrated session: record is a read-only projection", e.Op)
}

// ConflictError is raised by storage engines when the version read at load
// time no longer matches the stored version at commit time. The write is
// rejected without partial application; reload-and-retry is caller policy.
type ConflictError struct {
	ID       string
	Expected int
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("version conflict on root session %s: expected version %d no longer current", e.ID, e.Expected)
}

// NotFoundError reports a lookup for an unknown root session.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("root session %s not found", e.ID)
}

// UnsupportedCapabilityError reports a clone source that does not satisfy
// the required capability set.
type UnsupportedCapabilityError struct {
	Source     any
	Capability string
}

func (e UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("clone source %T does not implement %s", e.Source, e.Capability)
}
