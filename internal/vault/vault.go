// Package vault implements the fee ledger: custody of collected protocol
// fees and referral liabilities, per-bond fee-rate configuration, referral
// accrual and claiming, the claim restriction list, and fee withdrawal.
package vault

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/obligo/bondengine/internal/domain"
)

// Config carries everything a Vault needs at construction. The registry
// binding happens afterwards via BindRegistry because the registry is
// constructed with a vault reference.
type Config struct {
	Address         common.Address
	Admin           common.Address
	Native          domain.Currency
	IssuanceFee     uint64
	DefaultSchedule domain.FeeSchedule
	Clock           domain.Clock
	Logger          *slog.Logger
	Sink            domain.EventSink
}

// Vault is the process-wide fee ledger. One Vault serves every bond
// registered with it; a registry cutover leaves old registrations behind
// on the old Vault.
//
// Collected fees and unclaimed referral liabilities share one balance on
// the currency ledger. Withdraw does not segregate them; the
// administrator can drain funds earmarked for referrers.
type Vault struct {
	admin     domain.Admin
	addr      common.Address
	native    domain.Currency
	registry  common.Address
	directory domain.BondDirectory

	issuanceFee     uint64
	defaultSchedule domain.FeeSchedule
	schedules       map[common.Address]domain.FeeSchedule
	referrals       map[common.Address]map[common.Address]*domain.ReferrerRecord
	restricted      map[common.Address]bool

	guard  domain.Guard
	clock  domain.Clock
	logger *slog.Logger
	sink   domain.EventSink
}

// New creates a Vault. The default schedule must satisfy the rate bounds.
func New(cfg Config) (*Vault, error) {
	if err := cfg.DefaultSchedule.Validate(); err != nil {
		return nil, fmt.Errorf("vault: default schedule: %w", err)
	}
	if cfg.Native == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("vault: native currency and clock are required: %w", domain.ErrActionInvalid)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		admin:           domain.NewAdmin(cfg.Admin),
		addr:            cfg.Address,
		native:          cfg.Native,
		issuanceFee:     cfg.IssuanceFee,
		defaultSchedule: cfg.DefaultSchedule,
		schedules:       make(map[common.Address]domain.FeeSchedule),
		referrals:       make(map[common.Address]map[common.Address]*domain.ReferrerRecord),
		restricted:      make(map[common.Address]bool),
		clock:           cfg.Clock,
		logger:          logger.With(slog.String("component", "vault")),
		sink:            cfg.Sink,
	}, nil
}

// BindRegistry wires the Vault to its issuance registry. Only the bound
// registry may initialize bonds, and the registry's directory authorizes
// referral claims. Administrator-only.
func (v *Vault) BindRegistry(caller, registry common.Address, dir domain.BondDirectory) error {
	if err := v.admin.Require(caller); err != nil {
		return err
	}
	v.registry = registry
	v.directory = dir
	return nil
}

// Address returns the Vault's ledger address, the destination of every
// purchase and issuance fee.
func (v *Vault) Address() common.Address {
	return v.addr
}

// Administrator returns the current administrator.
func (v *Vault) Administrator() common.Address {
	return v.admin.Holder()
}

// TransferAdmin hands administration to next.
func (v *Vault) TransferAdmin(caller, next common.Address) error {
	return v.admin.Transfer(caller, next)
}

// IssuanceFee returns the fee currently charged per issuance, in the
// native currency's smallest unit.
func (v *Vault) IssuanceFee() uint64 {
	return v.issuanceFee
}

// InitializeBond registers a newly issued bond by copying the current
// default schedule into a per-bond entry. Only the bound registry may
// call it, and the forwarded payment must exactly match the configured
// issuance fee.
func (v *Vault) InitializeBond(caller, bond common.Address, feePayment uint64) error {
	if caller != v.registry || caller == (common.Address{}) {
		return domain.ErrCallerNotRegistry
	}
	if feePayment != v.issuanceFee {
		return domain.ErrFeeMismatch
	}
	sched := v.defaultSchedule
	sched.Initiated = true
	v.schedules[bond] = sched
	v.logger.Info("bond initiated",
		slog.String("bond", bond.Hex()),
		slog.Uint64("purchase_rate", sched.PurchaseRate),
		slog.Uint64("early_redemption_rate", sched.EarlyRedemptionRate),
		slog.Uint64("referrer_reward_rate", sched.ReferrerRewardRate),
	)
	return nil
}

// ScheduleFor returns the fee schedule registered for bond.
func (v *Vault) ScheduleFor(bond common.Address) (domain.FeeSchedule, error) {
	sched, ok := v.schedules[bond]
	if !ok || !sched.Initiated {
		return domain.FeeSchedule{}, domain.ErrContractNotInitiated
	}
	return sched, nil
}

// RecordReferralPurchase accrues referred purchase volume. The bond
// argument is the calling bond's own identity and must be registered. A
// zero-address or self referral is silently ignored, not rejected.
func (v *Vault) RecordReferralPurchase(bond, operator, referrer common.Address, quantity uint64) error {
	if _, err := v.ScheduleFor(bond); err != nil {
		return err
	}
	if referrer == (common.Address{}) || referrer == operator {
		return nil
	}
	byReferrer, ok := v.referrals[bond]
	if !ok {
		byReferrer = make(map[common.Address]*domain.ReferrerRecord)
		v.referrals[bond] = byReferrer
	}
	rec, ok := byReferrer[referrer]
	if !ok {
		rec = &domain.ReferrerRecord{}
		byReferrer[referrer] = rec
	}
	rec.Referred += quantity
	v.emit(domain.EventReferralRecorded, bond, referrer, map[string]any{
		"operator": operator.Hex(),
		"quantity": quantity,
		"referred": rec.Referred,
	})
	return nil
}

// ReferrerRecordFor returns the referral bookkeeping for (bond, referrer).
func (v *Vault) ReferrerRecordFor(bond, referrer common.Address) (domain.ReferrerRecord, bool) {
	rec, ok := v.referrals[bond][referrer]
	if !ok {
		return domain.ReferrerRecord{}, false
	}
	return *rec, true
}

// ClaimReferralRewards pays the caller their referral reward for bond, in
// the bond's purchase currency. The bond must be fully settled and fully
// sold. The reward is computed on the cumulative referred quantity and
// the claimed counter is marked before the transfer.
func (v *Vault) ClaimReferralRewards(caller, bond common.Address) (uint64, error) {
	if err := v.guard.Enter(); err != nil {
		return 0, err
	}
	defer v.guard.Exit()

	if v.restricted[caller] {
		return 0, domain.ErrActionBlocked
	}
	sched, err := v.ScheduleFor(bond)
	if err != nil {
		return 0, err
	}
	rec, ok := v.referrals[bond][caller]
	if !ok || rec.Referred <= rec.Claimed {
		return 0, domain.ErrActionBlocked
	}
	if v.directory == nil {
		return 0, domain.ErrNotFound
	}
	src, ok := v.directory.Lookup(bond)
	if !ok {
		return 0, domain.ErrNotFound
	}
	details, err := src.SettledPurchaseDetails()
	if err != nil {
		return 0, err
	}

	gross, ok := domain.MulU64(rec.Referred, details.UnitPrice)
	if !ok {
		return 0, domain.ErrActionInvalid
	}
	scaled, ok := domain.MulU64(gross, sched.ReferrerRewardRate)
	if !ok {
		return 0, domain.ErrActionInvalid
	}
	reward := scaled / domain.RateScale

	// Pre-flight the vault's balance so the claim is marked only once the
	// transfer cannot fail; an underfunded vault leaves the entitlement
	// intact for a later retry.
	if details.Currency.BalanceOf(v.addr) < reward {
		return 0, fmt.Errorf("vault: referral reward of %d: %w", reward, domain.ErrInsufficientBalance)
	}

	// Mark claimed before the transfer.
	rec.Claimed = rec.Referred

	if err := details.Currency.Transfer(v.addr, caller, reward); err != nil {
		return 0, fmt.Errorf("vault: referral reward transfer: %w", err)
	}

	v.logger.Info("referral reward claimed",
		slog.String("bond", bond.Hex()),
		slog.String("referrer", caller.Hex()),
		slog.Uint64("reward", reward),
	)
	v.emit(domain.EventReferralClaimed, bond, caller, map[string]any{
		"reward":   reward,
		"currency": details.Currency.Symbol(),
		"referred": rec.Referred,
	})
	return reward, nil
}

// UpdateIssuanceFee sets the fee charged per issuance. Administrator-only.
func (v *Vault) UpdateIssuanceFee(caller common.Address, fee uint64) error {
	if err := v.admin.Require(caller); err != nil {
		return err
	}
	v.issuanceFee = fee
	return nil
}

// UpdateBondFeeDetails overwrites the fee schedule for a specific bond,
// or the default schedule when bond is nil. Administrator-only. Writing a
// schedule for a bond the Vault has never seen registers it; this is how
// bonds stranded by a fee-ledger cutover are re-registered.
func (v *Vault) UpdateBondFeeDetails(caller common.Address, bond *common.Address, purchaseRate, earlyRedemptionRate, referrerRewardRate uint64) error {
	if err := v.admin.Require(caller); err != nil {
		return err
	}
	sched := domain.FeeSchedule{
		PurchaseRate:        purchaseRate,
		EarlyRedemptionRate: earlyRedemptionRate,
		ReferrerRewardRate:  referrerRewardRate,
	}
	if err := sched.Validate(); err != nil {
		return err
	}
	if bond == nil {
		v.defaultSchedule = sched
		return nil
	}
	sched.Initiated = true
	v.schedules[*bond] = sched
	return nil
}

// UpdateRestrictionStatus bars or unbars an address from claiming
// referral rewards. Accrual is unaffected. Administrator-only.
func (v *Vault) UpdateRestrictionStatus(caller, addr common.Address, restricted bool) error {
	if err := v.admin.Require(caller); err != nil {
		return err
	}
	v.restricted[addr] = restricted
	return nil
}

// Restricted reports whether addr is barred from claiming.
func (v *Vault) Restricted(addr common.Address) bool {
	return v.restricted[addr]
}

// Withdraw moves accumulated fees out of the Vault. A nil currency means
// the native currency; a failed native transfer surfaces as
// ErrActionInvalid, a token transfer fails with the token's own error.
// Administrator-only. Nothing separates protocol fees from unclaimed
// referral liabilities here.
func (v *Vault) Withdraw(caller common.Address, currency domain.Currency, to common.Address, amount uint64) error {
	if err := v.admin.Require(caller); err != nil {
		return err
	}
	if err := v.guard.Enter(); err != nil {
		return err
	}
	defer v.guard.Exit()

	if currency == nil {
		if err := v.native.Transfer(v.addr, to, amount); err != nil {
			return fmt.Errorf("vault: native withdrawal: %w", domain.ErrActionInvalid)
		}
	} else if err := currency.Transfer(v.addr, to, amount); err != nil {
		return err
	}

	sym := v.native.Symbol()
	if currency != nil {
		sym = currency.Symbol()
	}
	v.logger.Info("fees withdrawn",
		slog.String("to", to.Hex()),
		slog.String("currency", sym),
		slog.Uint64("amount", amount),
	)
	v.emit(domain.EventFeesWithdrawn, common.Address{}, caller, map[string]any{
		"to":       to.Hex(),
		"currency": sym,
		"amount":   amount,
	})
	return nil
}

func (v *Vault) emit(t domain.EventType, bond, actor common.Address, detail map[string]any) {
	if v.sink == nil {
		return
	}
	v.sink.Emit(domain.Event{
		ID:     uuid.New(),
		Type:   t,
		Bond:   bond,
		Actor:  actor,
		Detail: detail,
		Block:  v.clock.BlockNumber(),
		At:     v.clock.Now(),
	})
}

// Compile-time interface check.
var _ domain.FeeLedger = (*Vault)(nil)
