package id

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable job identifier.
func New() string {
	return ulid.Make().String()
}
