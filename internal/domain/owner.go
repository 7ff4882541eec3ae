package domain

import "fmt"

// Owner is anything that can receive mail. The application resolves owners;
// this package only needs an address, an operator link and a stable key.
type Owner interface {
	Email() string
	AdminLink() string
	Ref() OwnerRef
}

// OwnerRef identifies an owner in storage: the owner's type name plus its id
// within that type.
type OwnerRef struct {
	Kind string `json:"kind" db:"owner_kind"`
	ID   int64  `json:"id" db:"owner_id"`
}

func (r OwnerRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// IsZero reports whether the reference points at nothing.
func (r OwnerRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}
