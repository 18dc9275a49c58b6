package domain

import "errors"

var (
	// ErrPaused is returned when the issuance registry is paused.
	ErrPaused = errors.New("registry paused")
	// ErrFeeMismatch is returned when an issuance fee payment does not
	// exactly equal the configured fee.
	ErrFeeMismatch = errors.New("issuance fee mismatch")
	// ErrContractNotInitiated is returned when a bond has no fee schedule
	// registered with the active fee ledger.
	ErrContractNotInitiated = errors.New("contract not initiated")
	// ErrCallerNotRegistry is returned when a registry-only operation is
	// invoked by anyone else.
	ErrCallerNotRegistry = errors.New("caller is not the registry")
	// ErrActionInvalid marks a malformed or out-of-range request.
	ErrActionInvalid = errors.New("action invalid")
	// ErrActionBlocked marks a well-formed request rejected by a business
	// invariant.
	ErrActionBlocked = errors.New("action blocked")
	// ErrInsufficientPayout is returned when the bond's payout balance
	// cannot cover the requested redemption or settlement.
	ErrInsufficientPayout = errors.New("insufficient payout balance")
	// ErrRedeemBeforeMaturity is returned for a regular redemption of a
	// batch that has not yet matured.
	ErrRedeemBeforeMaturity = errors.New("redeem before maturity")
	// ErrUnauthorized is returned for non-administrator calls to
	// administrator-only operations.
	ErrUnauthorized = errors.New("unauthorized")

	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotFound              = errors.New("not found")
	ErrReentrantCall         = errors.New("reentrant call")
)
