package domain

import "regexp"

// OwnerKind distinguishes server-backed customer carts from guest carts that
// live only in the local mirror store.
type OwnerKind string

const (
	OwnerCustomer OwnerKind = "customer"
	OwnerGuest    OwnerKind = "guest"
)

// Owner identifies who a cart belongs to.
type Owner struct {
	ID   string    `json:"id"`
	Kind OwnerKind `json:"kind"`
}

// CustomerOwner returns an Owner for an authenticated customer.
func CustomerOwner(id string) Owner {
	return Owner{ID: id, Kind: OwnerCustomer}
}

// GuestOwner returns an Owner for a guest session.
func GuestOwner(id string) Owner {
	return Owner{ID: id, Kind: OwnerGuest}
}

// Authenticated reports whether the owner is a customer.
func (o Owner) Authenticated() bool {
	return o.Kind == OwnerCustomer
}

// Key returns the storage key for this owner. Customer and guest keyspaces
// never collide.
func (o Owner) Key() string {
	return string(o.Kind) + ":" + o.ID
}

var guestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidGuestID reports whether id is a well-formed guest session identifier.
// Guest IDs are caller-supplied and end up in storage keys, so the format is
// restricted to a safe character set.
func ValidGuestID(id string) bool {
	return guestIDPattern.MatchString(id)
}
