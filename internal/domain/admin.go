package domain

import "github.com/ethereum/go-ethereum/common"

// Admin is the single-writer administrator capability embedded by value in
// each lifecycle-owning entity. There is deliberately no renounce:
// an ownerless, permanently frozen instance is unrepresentable.
type Admin struct {
	holder common.Address
}

// NewAdmin creates an Admin held by the given address.
func NewAdmin(holder common.Address) Admin {
	return Admin{holder: holder}
}

// Holder returns the current administrator address.
func (a Admin) Holder() common.Address {
	return a.holder
}

// Require returns ErrUnauthorized unless caller is the administrator.
func (a Admin) Require(caller common.Address) error {
	if caller != a.holder {
		return ErrUnauthorized
	}
	return nil
}

// Transfer hands the capability to next. Transferring to the zero address
// is rejected for the same reason renouncing is not offered.
func (a *Admin) Transfer(caller, next common.Address) error {
	if err := a.Require(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return ErrActionInvalid
	}
	a.holder = next
	return nil
}
