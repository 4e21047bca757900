package domain

import "github.com/google/uuid"

// NewID returns a time ordered identifier. Row keys built from it sort in
// insertion order, which keeps task lists in creation order without an
// explicit position field.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
