package connect

import (
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
)

// server-assigned entity identifier. All owner and membership comparisons
// normalize to this bare representation, never to an embedded object.
// comparable
type Id string

func (self Id) IsZero() bool {
	return self == ""
}

func (self Id) String() string {
	return string(self)
}

// normalize a raw identifier from any wire shape. Trims whitespace so that
// two representations of the same id always compare equal.
func NormalizeId(idStr string) Id {
	return Id(strings.TrimSpace(idStr))
}

// client-generated placeholder id, used transiently for optimistic entities
// until the server responds with the canonical record
func NewPlaceholderId() Id {
	return Id("local-" + ulid.Make().String())
}

func IsPlaceholderId(id Id) bool {
	return strings.HasPrefix(string(id), "local-")
}

var (
	// no current identity. Mutations require one, reads do not
	ErrNoIdentity = errors.New("no identity")

	// a mutation is already in flight for the same entity
	ErrMutationOutstanding = errors.New("mutation outstanding for entity")

	// acting identity does not own the target entity
	ErrNotOwner = errors.New("not the owner")

	// the target entity is not loaded in the relation store
	ErrUnknownEntity = errors.New("entity not loaded")

	// delete requires an explicit confirmation step
	ErrNotConfirmed = errors.New("not confirmed")

	// comment text reduced to empty
	ErrEmptyComment = errors.New("empty comment")

	// a viewer cannot follow themselves
	ErrSelfFollow = errors.New("cannot follow self")
)
