// Package bond implements the per-instance bond lifecycle state machine:
// purchase, regular and capitulation redemption, supply adjustment,
// settlement, and excess-payout withdrawal.
//
// The host environment executes operations one at a time; the package
// relies on that single-writer model and adds only a non-reentrancy guard
// around fund-moving operations. Every operation either fully commits or
// leaves no state change behind: validation and planning run first, state
// mutation second, currency transfers last.
package bond

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/obligo/bondengine/internal/domain"
)

// Config carries the immutable identity and wiring of a new bond.
type Config struct {
	Address    common.Address
	Admin      common.Address
	Terms      domain.BondTerms
	TotalUnits uint64
	Provider   domain.FeeLedgerProvider
	Clock      domain.Clock
	Logger     *slog.Logger
	Sink       domain.EventSink
}

// Bond is one bond instance. Unit counts obey purchased <= total and
// redeemed <= purchased at all times; the settled flag is a one-way latch.
type Bond struct {
	admin domain.Admin
	addr  common.Address
	terms domain.BondTerms

	totalUnits      uint64
	supplyHighWater uint64
	purchasedUnits  uint64
	redeemedUnits   uint64
	nextBatchIndex  uint64
	settled         bool
	maturityPeriod  uint64

	batches  map[uint64]domain.PurchaseBatch
	holdings map[uint64]map[common.Address]uint64

	provider domain.FeeLedgerProvider
	guard    domain.Guard
	clock    domain.Clock
	logger   *slog.Logger
	sink     domain.EventSink
}

// New creates a Bond with zeroed lifecycle state. The maturity period
// must be at least one block.
func New(cfg Config) (*Bond, error) {
	if err := cfg.Terms.Validate(); err != nil {
		return nil, fmt.Errorf("bond: terms: %w", err)
	}
	if cfg.Terms.MaturityPeriod == 0 {
		return nil, fmt.Errorf("bond: maturity period must be at least one block: %w", domain.ErrActionInvalid)
	}
	if cfg.Provider == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("bond: fee ledger provider and clock are required: %w", domain.ErrActionInvalid)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bond{
		admin:           domain.NewAdmin(cfg.Admin),
		addr:            cfg.Address,
		terms:           cfg.Terms,
		totalUnits:      cfg.TotalUnits,
		supplyHighWater: cfg.TotalUnits,
		maturityPeriod:  cfg.Terms.MaturityPeriod,
		batches:         make(map[uint64]domain.PurchaseBatch),
		holdings:        make(map[uint64]map[common.Address]uint64),
		provider:        cfg.Provider,
		clock:           cfg.Clock,
		logger:          logger.With(slog.String("component", "bond"), slog.String("bond", cfg.Address.Hex())),
		sink:            cfg.Sink,
	}, nil
}

// Address returns the bond's ledger address.
func (b *Bond) Address() common.Address { return b.addr }

// Terms returns the immutable bond terms.
func (b *Bond) Terms() domain.BondTerms { return b.terms }

// Administrator returns the current administrator.
func (b *Bond) Administrator() common.Address { return b.admin.Holder() }

// TotalUnits returns the current authorized supply cap.
func (b *Bond) TotalUnits() uint64 { return b.totalUnits }

// PurchasedUnits returns cumulative units sold.
func (b *Bond) PurchasedUnits() uint64 { return b.purchasedUnits }

// RedeemedUnits returns cumulative units redeemed.
func (b *Bond) RedeemedUnits() uint64 { return b.redeemedUnits }

// NextBatchIndex returns the index the next purchase will be assigned.
func (b *Bond) NextBatchIndex() uint64 { return b.nextBatchIndex }

// Settled reports whether the bond has been settled.
func (b *Bond) Settled() bool { return b.settled }

// MaturityPeriod returns the current redemption lock in blocks.
func (b *Bond) MaturityPeriod() uint64 { return b.maturityPeriod }

// BatchOf returns the purchase record for a batch index. Records persist
// after the batch is fully redeemed.
func (b *Bond) BatchOf(index uint64) (domain.PurchaseBatch, bool) {
	batch, ok := b.batches[index]
	return batch, ok
}

// BalanceOf returns how many units of a batch the holder still owns.
func (b *Bond) BalanceOf(holder common.Address, batch uint64) uint64 {
	return b.holdings[batch][holder]
}

// TransferAdmin hands administration to next.
func (b *Bond) TransferAdmin(caller, next common.Address) error {
	if err := b.admin.Transfer(caller, next); err != nil {
		return err
	}
	b.emit(domain.EventAdminTransferred, caller, map[string]any{"next": next.Hex()})
	return nil
}

// Purchase sells quantity units to the caller as one new batch, pulling
// quantity * purchase price from the caller's purchase-currency balance.
// The protocol fee share goes to the active fee ledger, the remainder to
// the administrator, and the referral (if any) is recorded with the
// ledger. A quantity of zero is a legal no-op that still consumes a batch
// index.
func (b *Bond) Purchase(caller common.Address, quantity uint64, referrer common.Address) (uint64, error) {
	if err := b.guard.Enter(); err != nil {
		return 0, err
	}
	defer b.guard.Exit()

	if quantity > b.totalUnits-b.purchasedUnits {
		return 0, domain.ErrActionInvalid
	}
	ledger := b.provider.CurrentFeeLedger()
	sched, err := ledger.ScheduleFor(b.addr)
	if err != nil {
		return 0, err
	}

	totalCost, ok := domain.MulU64(quantity, b.terms.PurchasePrice)
	if !ok {
		return 0, domain.ErrActionInvalid
	}
	feeScaled, ok := domain.MulU64(totalCost, sched.PurchaseRate)
	if !ok {
		return 0, domain.ErrActionInvalid
	}
	fee := feeScaled / domain.RateScale

	// Funding pre-flight, so the transfers at the tail cannot fail after
	// state has been committed.
	pc := b.terms.PurchaseCurrency
	if pc.BalanceOf(caller) < totalCost {
		return 0, fmt.Errorf("bond: purchase of %d units: %w", quantity, domain.ErrInsufficientBalance)
	}
	if pc.Allowance(caller, b.addr) < totalCost {
		return 0, fmt.Errorf("bond: purchase of %d units: %w", quantity, domain.ErrInsufficientAllowance)
	}

	index := b.nextBatchIndex
	b.batches[index] = domain.PurchaseBatch{
		Index: index,
		Block: b.clock.BlockNumber(),
		Time:  b.clock.Now(),
	}
	holders, ok2 := b.holdings[index]
	if !ok2 {
		holders = make(map[common.Address]uint64)
		b.holdings[index] = holders
	}
	holders[caller] += quantity
	b.purchasedUnits += quantity
	b.nextBatchIndex++

	if err := ledger.RecordReferralPurchase(b.addr, caller, referrer, quantity); err != nil {
		return 0, fmt.Errorf("bond: record referral: %w", err)
	}

	if fee > 0 {
		if err := pc.TransferFrom(b.addr, caller, ledger.Address(), fee); err != nil {
			return 0, fmt.Errorf("bond: purchase fee transfer: %w", err)
		}
	}
	if remainder := totalCost - fee; remainder > 0 {
		if err := pc.TransferFrom(b.addr, caller, b.admin.Holder(), remainder); err != nil {
			return 0, fmt.Errorf("bond: purchase proceeds transfer: %w", err)
		}
	}

	b.logger.Info("units purchased",
		slog.String("buyer", caller.Hex()),
		slog.Uint64("quantity", quantity),
		slog.Uint64("batch", index),
		slog.Uint64("cost", totalCost),
		slog.Uint64("fee", fee),
	)
	b.emit(domain.EventUnitsPurchased, caller, map[string]any{
		"quantity": quantity,
		"batch":    index,
		"cost":     totalCost,
		"fee":      fee,
		"referrer": referrer.Hex(),
	})
	return index, nil
}

// drain is one batch's contribution to a redemption plan.
type drain struct {
	index  uint64
	burn   uint64
	amount uint64
}

// Redeem burns quantity units drawn greedily, in order, from the listed
// batches (capped per batch by the caller's balance there) and pays the
// caller the corresponding payout. Batches past the point where quantity
// is satisfied are ignored. If the listed batches cannot cover quantity
// the whole call fails and nothing changes.
//
// A regular redemption of an immature batch fails with
// ErrRedeemBeforeMaturity. Under capitulation an immature batch pays the
// elapsed-time fraction of its payout, reduced further by the early
// redemption rate; a mature batch always pays in full.
func (b *Bond) Redeem(caller common.Address, batchIndexes []uint64, quantity uint64, capitulation bool) (uint64, error) {
	if err := b.guard.Enter(); err != nil {
		return 0, err
	}
	defer b.guard.Exit()

	sched, err := b.provider.CurrentFeeLedger().ScheduleFor(b.addr)
	if err != nil {
		return 0, err
	}

	nominal, ok := domain.MulU64(quantity, b.terms.PayoutPrice)
	if !ok {
		return 0, domain.ErrActionInvalid
	}
	payoutBal := b.terms.PayoutCurrency.BalanceOf(b.addr)
	// The solvency pre-check uses the full nominal payout and applies to
	// the regular path only.
	if !capitulation && payoutBal < nominal {
		return 0, domain.ErrInsufficientPayout
	}

	now := b.clock.BlockNumber()
	remaining := quantity
	var (
		plan   []drain
		payout uint64
	)
	// planned tracks units already committed per batch within this call so
	// a repeated index cannot draw the same balance twice.
	planned := make(map[uint64]uint64)
	for _, index := range batchIndexes {
		if remaining == 0 {
			break
		}
		avail := b.holdings[index][caller] - planned[index]
		if avail == 0 {
			continue
		}
		burn := avail
		if burn > remaining {
			burn = remaining
		}
		batch := b.batches[index]
		amount, err := b.batchPayout(batch, burn, now, capitulation, sched)
		if err != nil {
			return 0, err
		}
		remaining -= burn
		payout += amount
		planned[index] += burn
		plan = append(plan, drain{index: index, burn: burn, amount: amount})
	}
	if remaining > 0 {
		return 0, domain.ErrActionInvalid
	}
	if payoutBal < payout {
		return 0, fmt.Errorf("bond: redeem payout of %d: %w", payout, domain.ErrInsufficientBalance)
	}

	// The counter moves once for the whole call, before per-batch effects.
	b.redeemedUnits += quantity
	for _, d := range plan {
		b.holdings[d.index][caller] -= d.burn
		if b.holdings[d.index][caller] == 0 {
			delete(b.holdings[d.index], caller)
		}
	}

	if err := b.terms.PayoutCurrency.Transfer(b.addr, caller, payout); err != nil {
		return 0, fmt.Errorf("bond: redeem payout transfer: %w", err)
	}

	b.logger.Info("units redeemed",
		slog.String("holder", caller.Hex()),
		slog.Uint64("quantity", quantity),
		slog.Uint64("payout", payout),
		slog.Bool("capitulation", capitulation),
	)
	b.emit(domain.EventUnitsRedeemed, caller, map[string]any{
		"quantity":     quantity,
		"payout":       payout,
		"capitulation": capitulation,
	})
	return payout, nil
}

// batchPayout prices the redemption of burn units from one batch.
// Maturity is judged against the bond's current period, so a period
// shortened after purchase applies to existing batches.
func (b *Bond) batchPayout(batch domain.PurchaseBatch, burn, now uint64, capitulation bool, sched domain.FeeSchedule) (uint64, error) {
	base, ok := domain.MulU64(burn, b.terms.PayoutPrice)
	if !ok {
		return 0, domain.ErrActionInvalid
	}
	if batch.Block+b.maturityPeriod <= now {
		return base, nil
	}
	if !capitulation {
		return 0, domain.ErrRedeemBeforeMaturity
	}
	elapsed := now - batch.Block
	scaled, ok := domain.MulU64(base, elapsed)
	if !ok {
		return 0, domain.ErrActionInvalid
	}
	prorated := scaled / b.maturityPeriod
	penaltyScaled, ok := domain.MulU64(prorated, sched.EarlyRedemptionRate)
	if !ok {
		return 0, domain.ErrActionInvalid
	}
	return prorated - penaltyScaled/domain.RateScale, nil
}

// Settle latches the bond as settled. It requires the payout balance to
// cover every unit that could still be outstanding, sold or not. The
// latch survives the balance later being drained. Administrator-only.
func (b *Bond) Settle(caller common.Address) error {
	if err := b.admin.Require(caller); err != nil {
		return err
	}
	required, ok := domain.MulU64(b.totalUnits-b.redeemedUnits, b.terms.PayoutPrice)
	if !ok {
		return domain.ErrActionInvalid
	}
	if b.terms.PayoutCurrency.BalanceOf(b.addr) < required {
		return domain.ErrInsufficientPayout
	}
	b.settled = true
	b.logger.Info("bond settled", slog.Uint64("required_payout", required))
	b.emit(domain.EventBondSettled, caller, map[string]any{"required_payout": required})
	return nil
}

// UpdateBondSupply sets the authorized supply cap. The cap can never drop
// below units already sold and can never grow after settlement. No funds
// move. Administrator-only.
func (b *Bond) UpdateBondSupply(caller common.Address, newTotal uint64) error {
	if err := b.admin.Require(caller); err != nil {
		return err
	}
	if b.purchasedUnits > newTotal {
		return domain.ErrActionBlocked
	}
	if b.settled && newTotal > b.totalUnits {
		return domain.ErrActionBlocked
	}
	b.totalUnits = newTotal
	if newTotal > b.supplyHighWater {
		b.supplyHighWater = newTotal
	}
	b.emit(domain.EventSupplyUpdated, caller, map[string]any{"total_units": newTotal})
	return nil
}

// DecreaseMaturityPeriod shortens the redemption lock. The period only
// ever ratchets down, and existing batches inherit the new period.
// Administrator-only.
func (b *Bond) DecreaseMaturityPeriod(caller common.Address, newPeriod uint64) error {
	if err := b.admin.Require(caller); err != nil {
		return err
	}
	if newPeriod == 0 || newPeriod >= b.maturityPeriod {
		return domain.ErrActionInvalid
	}
	b.maturityPeriod = newPeriod
	b.emit(domain.EventMaturityDecreased, caller, map[string]any{"maturity_period": newPeriod})
	return nil
}

// WithdrawExcessPayout transfers payout funds beyond the bond's reserve
// obligation to the administrator. The obligation is computed against the
// highest supply cap the bond has ever had, not the current one, so
// shrinking the supply and immediately withdrawing cannot drain funds
// committed to buyers. Administrator-only.
func (b *Bond) WithdrawExcessPayout(caller common.Address) (uint64, error) {
	if err := b.admin.Require(caller); err != nil {
		return 0, err
	}
	if err := b.guard.Enter(); err != nil {
		return 0, err
	}
	defer b.guard.Exit()

	required, ok := domain.MulU64(b.supplyHighWater-b.redeemedUnits, b.terms.PayoutPrice)
	if !ok {
		return 0, domain.ErrActionInvalid
	}
	balance := b.terms.PayoutCurrency.BalanceOf(b.addr)
	if balance <= required {
		return 0, domain.ErrActionBlocked
	}
	excess := balance - required

	if err := b.terms.PayoutCurrency.Transfer(b.addr, b.admin.Holder(), excess); err != nil {
		return 0, fmt.Errorf("bond: excess payout transfer: %w", err)
	}

	b.logger.Info("excess payout withdrawn", slog.Uint64("excess", excess))
	b.emit(domain.EventExcessWithdrawn, caller, map[string]any{"excess": excess})
	return excess, nil
}

// SettledPurchaseDetails exposes purchase-side pricing to the fee
// ledger's referral claim path. It fails unless the bond is settled and
// fully sold.
func (b *Bond) SettledPurchaseDetails() (domain.SettledDetails, error) {
	if !b.settled || b.totalUnits != b.purchasedUnits {
		return domain.SettledDetails{}, domain.ErrActionBlocked
	}
	return domain.SettledDetails{
		Currency:  b.terms.PurchaseCurrency,
		UnitPrice: b.terms.PurchasePrice,
	}, nil
}

func (b *Bond) emit(t domain.EventType, actor common.Address, detail map[string]any) {
	if b.sink == nil {
		return
	}
	b.sink.Emit(domain.Event{
		ID:     uuid.New(),
		Type:   t,
		Bond:   b.addr,
		Actor:  actor,
		Detail: detail,
		Block:  b.clock.BlockNumber(),
		At:     b.clock.Now(),
	})
}

// Compile-time interface check.
var _ domain.SettledDetailsSource = (*Bond)(nil)
