// Package idgen generates identifiers: UUIDv7 session ids and ULID frame
// ids for controller instances.
package idgen

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewFrameID returns a lexically sortable ULID for a controller frame.
func NewFrameID() string {
	return ulid.Make().String()
}
