package model

import (
	"strings"

	"github.com/google/uuid"
)

// TransientPrefix marks ids generated locally for optimistic rows. Durable
// ids assigned by the data store never carry it.
const TransientPrefix = "optimistic-"

// NewTransientID returns a fresh id for an optimistic row.
func NewTransientID() string {
	return TransientPrefix + uuid.NewString()
}

// IsTransient reports whether id was generated by NewTransientID.
func IsTransient(id string) bool {
	return strings.HasPrefix(id, TransientPrefix)
}
