package treestore

import (
	"github.com/oklog/ulid/v2"
)

// NewChildId returns a globally unique child key. Keys generated by the
// same process are ordered by create time, so children created in sequence
// sort chronologically under their parent.
func NewChildId() string {
	return ulid.Make().String()
}
