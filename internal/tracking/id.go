// Package tracking issues tracking identifiers, formats tracking events and
// injects tracking artifacts into outbound HTML.
package tracking

import "github.com/google/uuid"

// ID is an opaque tracking token shared by the pixel and every wrapped link of one email
type ID string

func (id ID) String() string {
	return string(id)
}

// Issuer produces tracking identifiers
type Issuer interface {
	Issue() ID
}

// UUIDIssuer issues random (version 4) UUIDs
type UUIDIssuer struct{}

// Issue returns a new random identifier
func (UUIDIssuer) Issue() ID {
	return ID(uuid.New().String())
}
