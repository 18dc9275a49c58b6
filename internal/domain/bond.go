// Package domain defines the core types, collaborator interfaces, and
// sentinel errors shared by the bond issuance engine. Concrete
// implementations live in their own packages (vault, bond, registry,
// ledger) and depend only on this package.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RateScale is the denominator for all fee and penalty rates. Rates are
// expressed in parts-per-1000 and every rate computation floors.
const RateScale = 1000

// BondTerms are the immutable economics of a bond, fixed at issuance.
// The identifier strings are opaque metadata.
type BondTerms struct {
	ISIN   string
	Name   string
	Symbol string

	// PurchaseCurrency is the currency investors pay in; PurchasePrice is
	// the cost of one bond unit in its smallest denomination.
	PurchaseCurrency Currency
	PurchasePrice    uint64

	// PayoutCurrency is the currency holders are repaid in; PayoutPrice is
	// the payout per unit in its smallest denomination.
	PayoutCurrency Currency
	PayoutPrice    uint64

	// Denomination is the number of units that make up one whole bond.
	Denomination uint64

	// MaturityPeriod is the initial redemption lock, in blocks. The
	// administrator may later shorten (never lengthen) the live period.
	MaturityPeriod uint64
}

// Validate checks the terms for issuance. Prices must be positive and the
// denomination at least 1.
func (t BondTerms) Validate() error {
	if t.PurchaseCurrency == nil || t.PayoutCurrency == nil {
		return ErrActionInvalid
	}
	if t.PurchasePrice == 0 || t.PayoutPrice == 0 || t.Denomination == 0 {
		return ErrActionInvalid
	}
	return nil
}

// PurchaseBatch records one purchase call. The batch record persists for
// audit even after every unit bought in it has been redeemed.
type PurchaseBatch struct {
	Index uint64
	Block uint64
	Time  time.Time
}

// FeeSchedule is the per-bond fee configuration held by the fee ledger.
// All rates are parts-per-1000 and must be below RateScale; the referrer
// reward rate can never exceed the purchase rate.
type FeeSchedule struct {
	PurchaseRate        uint64
	EarlyRedemptionRate uint64
	ReferrerRewardRate  uint64
	Initiated           bool
}

// Validate enforces the rate bounds for a schedule write.
func (s FeeSchedule) Validate() error {
	if s.PurchaseRate >= RateScale || s.EarlyRedemptionRate >= RateScale || s.ReferrerRewardRate >= RateScale {
		return ErrActionBlocked
	}
	if s.ReferrerRewardRate > s.PurchaseRate {
		return ErrActionBlocked
	}
	return nil
}

// ReferrerRecord tracks referred purchase volume for one (bond, referrer)
// pair. Claimed moves up to Referred on each claim; the record is never
// deleted, so referrals accrued after a claim stay claimable.
type ReferrerRecord struct {
	Referred uint64
	Claimed  uint64
}

// SettledDetails is the purchase-side pricing a fully settled, fully sold
// bond exposes to the fee ledger's referral claim path.
type SettledDetails struct {
	Currency  Currency
	UnitPrice uint64
}

// SettledDetailsSource is the read-only view of a bond the fee ledger
// needs to authorize referral claims.
type SettledDetailsSource interface {
	// SettledPurchaseDetails fails with ErrActionBlocked unless the bond
	// is settled and fully sold.
	SettledPurchaseDetails() (SettledDetails, error)
}

// FeeLedger is the surface a bond consumes from the vault: fee-rate
// lookups keyed by the bond's own address, and referral recording.
type FeeLedger interface {
	// Address is where purchase fees are transferred.
	Address() common.Address
	// ScheduleFor returns the fee schedule for the given bond, or
	// ErrContractNotInitiated when the bond is not registered.
	ScheduleFor(bond common.Address) (FeeSchedule, error)
	// RecordReferralPurchase accrues referred volume for (bond, referrer).
	// A zero or self referrer is a silent no-op.
	RecordReferralPurchase(bond, operator, referrer common.Address, quantity uint64) error
}

// FeeLedgerProvider resolves the currently active fee ledger. Bonds hold a
// provider rather than a ledger so that a registry-level cutover takes
// effect for already-issued bonds immediately.
type FeeLedgerProvider interface {
	CurrentFeeLedger() FeeLedger
}

// BondDirectory resolves bond addresses to their settled-details view. The
// registry is the canonical directory; fee ledgers consult it at claim
// time so a ledger swap never strands the claim path.
type BondDirectory interface {
	Lookup(bond common.Address) (SettledDetailsSource, bool)
}

// Currency is the opaque fungible-token ledger the engine moves value
// through. Transfers fail on insufficient balance or allowance; the
// engine never learns more than that.
type Currency interface {
	Symbol() string
	// Transfer moves amount from the caller's own holdings.
	Transfer(from, to common.Address, amount uint64) error
	// TransferFrom moves amount from owner using spender's allowance.
	TransferFrom(spender, owner, to common.Address, amount uint64) error
	BalanceOf(account common.Address) uint64
	Allowance(owner, spender common.Address) uint64
}

// Clock supplies block height and wall time. The host chain advances it;
// tests drive it directly.
type Clock interface {
	BlockNumber() uint64
	Now() time.Time
}
