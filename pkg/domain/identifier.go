package domain

import "github.com/google/uuid"

// ParseSessionID validates raw as a session identifier and returns its
// parsed form. Accepted inputs are any UUID representation understood by
// the uuid package (simple, hyphenated, braced, urn:uuid:); the canonical
// form is always the lowercase hyphenated rendering. Malformed input fails
// with ValidationError.
func ParseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ValidationError{Field: "id", Value: raw}
	}
	return id, nil
}

// CanonicalSessionID normalizes raw into canonical textual form.
func CanonicalSessionID(raw string) (string, error) {
	id, err := ParseSessionID(raw)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewSessionID allocates a fresh random session identifier in canonical
// form. Storage engines use it when a record is created without one.
func NewSessionID() string {
	return uuid.NewString()
}
