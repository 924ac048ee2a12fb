package engine

import "github.com/google/uuid"

// NewRunID returns a time-ordered unique run identifier.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// DeriveID derives a child-run identifier from the parent's identifier and a
// discriminator. The derivation is deterministic so a retried launch of the
// same logical child collapses onto the same identifier instead of
// duplicating work.
func DeriveID(parentID, discriminator string) string {
	space, err := uuid.Parse(parentID)
	if err != nil {
		space = uuid.NewSHA1(uuid.NameSpaceOID, []byte(parentID))
	}
	return uuid.NewSHA1(space, []byte(discriminator)).String()
}
