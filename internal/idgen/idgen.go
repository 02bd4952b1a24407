// Package idgen mints identifiers. Sessions get UUIDv7 values so they sort by
// start time; journal rows and bus notices get ULIDs.
package idgen

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID returns a UUIDv7 string, falling back to a random UUIDv4 if the
// v7 generator fails.
func SessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ULID is monotonic within the process, so ordering by it follows creation.
func ULID() string {
	return ulid.Make().String()
}
