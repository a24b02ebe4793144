package registry

import (
	"strings"

	"github.com/google/uuid"
)

// DeriveID is the only source of identity for stored tools and workflows:
// the name-based UUID (version 5, DNS namespace) of the concatenated
// fields. The same fields always produce the same id, and the result is a
// valid point id for the vector index.
func DeriveID(fields ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(strings.Join(fields, ""))).String()
}

// IsDerivedID reports whether s has the shape of an id produced by DeriveID.
func IsDerivedID(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 5
}
