package state

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewRunID returns a fresh run identifier. ULIDs sort lexicographically in
// creation order, which is what FindLatestRunID relies on.
func NewRunID() string {
	return strings.ToLower(ulid.Make().String())
}
