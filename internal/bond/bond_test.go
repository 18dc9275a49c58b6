package bond

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/obligo/bondengine/internal/domain"
	"github.com/obligo/bondengine/internal/ledger"
	"github.com/obligo/bondengine/internal/vault"
)

var (
	adminAddr    = common.BytesToAddress([]byte{0xad})
	registryAddr = common.BytesToAddress([]byte{0xe6})
	bondAddr     = common.BytesToAddress([]byte{0xb0})
	investor     = common.BytesToAddress([]byte{0xa1})
	referrer     = common.BytesToAddress([]byte{0x0b})
)

// staticProvider pins the active fee ledger; swapping the field simulates a
// registry-level cutover.
type staticProvider struct {
	ledger domain.FeeLedger
}

func (p *staticProvider) CurrentFeeLedger() domain.FeeLedger { return p.ledger }

type testEnv struct {
	bond     *Bond
	vault    *vault.Vault
	provider *staticProvider
	cash     *ledger.Token
	pay      *ledger.Token
	ledger   *ledger.Ledger
	clock    *ledger.Clock
}

// newTestEnv builds a bond with purchase price 10, payout price 15, and
// rates 25/50/10, registered with a live vault.
func newTestEnv(t *testing.T, totalUnits, maturity uint64) *testEnv {
	t.Helper()

	lgr := ledger.New()
	native := lgr.NewCurrency("NATIVE")
	cash := lgr.NewCurrency("CASH")
	pay := lgr.NewCurrency("PAY")
	clk := ledger.NewClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 12*time.Second)

	v, err := vault.New(vault.Config{
		Address: common.BytesToAddress([]byte{0xfe}),
		Admin:   adminAddr,
		Native:  native,
		DefaultSchedule: domain.FeeSchedule{
			PurchaseRate:        25,
			EarlyRedemptionRate: 50,
			ReferrerRewardRate:  10,
		},
		Clock: clk,
	})
	require.NoError(t, err)
	require.NoError(t, v.BindRegistry(adminAddr, registryAddr, nil))
	require.NoError(t, v.InitializeBond(registryAddr, bondAddr, 0))

	provider := &staticProvider{ledger: v}
	b, err := New(Config{
		Address: bondAddr,
		Admin:   adminAddr,
		Terms: domain.BondTerms{
			ISIN:             "DE000TEST001",
			Name:             "Test Note",
			Symbol:           "TST",
			PurchaseCurrency: cash,
			PurchasePrice:    10,
			PayoutCurrency:   pay,
			PayoutPrice:      15,
			Denomination:     1,
			MaturityPeriod:   maturity,
		},
		TotalUnits: totalUnits,
		Provider:   provider,
		Clock:      clk,
	})
	require.NoError(t, err)

	return &testEnv{bond: b, vault: v, provider: provider, cash: cash, pay: pay, ledger: lgr, clock: clk}
}

// buy funds the investor and purchases quantity units with no referrer.
func (e *testEnv) buy(t *testing.T, quantity uint64) uint64 {
	t.Helper()
	cost := quantity * 10
	e.cash.Mint(investor, cost)
	e.cash.Approve(investor, bondAddr, cost)
	batch, err := e.bond.Purchase(investor, quantity, common.Address{})
	require.NoError(t, err)
	return batch
}

func TestNewRequiresMaturity(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	terms := env.bond.Terms()
	terms.MaturityPeriod = 0
	_, err := New(Config{
		Address:    bondAddr,
		Admin:      adminAddr,
		Terms:      terms,
		TotalUnits: 100,
		Provider:   env.provider,
		Clock:      env.clock,
	})
	require.ErrorIs(t, err, domain.ErrActionInvalid)
}

func TestPurchaseSplitsFee(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	env.cash.Mint(investor, 400)
	env.cash.Approve(investor, bondAddr, 400)
	batch, err := env.bond.Purchase(investor, 40, common.Address{})
	require.NoError(t, err)
	require.Equal(t, uint64(0), batch)

	// cost 400, fee floor(400*25/1000) = 10, remainder to the admin.
	require.Equal(t, uint64(0), env.cash.BalanceOf(investor))
	require.Equal(t, uint64(10), env.cash.BalanceOf(env.vault.Address()))
	require.Equal(t, uint64(390), env.cash.BalanceOf(adminAddr))

	require.Equal(t, uint64(40), env.bond.PurchasedUnits())
	require.Equal(t, uint64(40), env.bond.BalanceOf(investor, batch))
	require.Equal(t, uint64(1), env.bond.NextBatchIndex())

	rec, ok := env.bond.BatchOf(batch)
	require.True(t, ok)
	require.Equal(t, env.clock.BlockNumber(), rec.Block)
}

func TestPurchaseRecordsReferral(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	env.cash.Mint(investor, 400)
	env.cash.Approve(investor, bondAddr, 400)
	_, err := env.bond.Purchase(investor, 40, referrer)
	require.NoError(t, err)

	rec, ok := env.vault.ReferrerRecordFor(bondAddr, referrer)
	require.True(t, ok)
	require.Equal(t, uint64(40), rec.Referred)
}

func TestPurchaseRespectsSupplyCap(t *testing.T) {
	env := newTestEnv(t, 50, 10)
	env.buy(t, 30)

	env.cash.Mint(investor, 210)
	env.cash.Approve(investor, bondAddr, 210)
	_, err := env.bond.Purchase(investor, 21, common.Address{})
	require.ErrorIs(t, err, domain.ErrActionInvalid)

	_, err = env.bond.Purchase(investor, 20, common.Address{})
	require.NoError(t, err)
	require.Equal(t, uint64(50), env.bond.PurchasedUnits())
}

func TestPurchaseRequiresFunding(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	env.cash.Mint(investor, 400)
	_, err := env.bond.Purchase(investor, 40, common.Address{})
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	env.cash.Approve(investor, bondAddr, 1000)
	_, err = env.bond.Purchase(investor, 100, common.Address{})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// A failed purchase leaves no trace.
	require.Equal(t, uint64(0), env.bond.PurchasedUnits())
	require.Equal(t, uint64(0), env.bond.NextBatchIndex())
	require.Equal(t, uint64(400), env.cash.BalanceOf(investor))
}

func TestPurchaseZeroQuantityConsumesBatchIndex(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	batch, err := env.bond.Purchase(investor, 0, common.Address{})
	require.NoError(t, err)
	require.Equal(t, uint64(0), batch)
	require.Equal(t, uint64(1), env.bond.NextBatchIndex())
	require.Equal(t, uint64(0), env.bond.PurchasedUnits())

	_, ok := env.bond.BatchOf(batch)
	require.True(t, ok)
}

func TestPurchaseInertAfterLedgerCutover(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	env.buy(t, 10)

	// Swap in a fresh vault that has never seen this bond.
	v2, err := vault.New(vault.Config{
		Address: common.BytesToAddress([]byte{0xff}),
		Admin:   adminAddr,
		Native:  env.ledger.Currency("NATIVE"),
		DefaultSchedule: domain.FeeSchedule{
			PurchaseRate:        25,
			EarlyRedemptionRate: 50,
			ReferrerRewardRate:  10,
		},
		Clock: env.clock,
	})
	require.NoError(t, err)
	env.provider.ledger = v2

	env.cash.Mint(investor, 100)
	env.cash.Approve(investor, bondAddr, 100)
	_, err = env.bond.Purchase(investor, 10, common.Address{})
	require.ErrorIs(t, err, domain.ErrContractNotInitiated)

	// Re-registering on the new ledger restores the bond; the fee now
	// lands on the new vault.
	require.NoError(t, v2.UpdateBondFeeDetails(adminAddr, &bondAddr, 25, 50, 10))
	_, err = env.bond.Purchase(investor, 10, common.Address{})
	require.NoError(t, err)
	require.Equal(t, uint64(2), env.cash.BalanceOf(v2.Address()))
}

func TestRedeemBeforeMaturity(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	batch := env.buy(t, 40)
	env.pay.Mint(bondAddr, 600)

	env.clock.Advance(9)
	_, err := env.bond.Redeem(investor, []uint64{batch}, 40, false)
	require.ErrorIs(t, err, domain.ErrRedeemBeforeMaturity)

	env.clock.Advance(1)
	payout, err := env.bond.Redeem(investor, []uint64{batch}, 40, false)
	require.NoError(t, err)
	require.Equal(t, uint64(600), payout)
}

func TestRedeemRequiresSolvency(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	batch := env.buy(t, 40)
	env.clock.Advance(10)

	// The regular path checks the full nominal payout up front.
	env.pay.Mint(bondAddr, 599)
	_, err := env.bond.Redeem(investor, []uint64{batch}, 40, false)
	require.ErrorIs(t, err, domain.ErrInsufficientPayout)
	require.Equal(t, uint64(0), env.bond.RedeemedUnits())

	env.pay.Mint(bondAddr, 1)
	_, err = env.bond.Redeem(investor, []uint64{batch}, 40, false)
	require.NoError(t, err)
	require.Equal(t, uint64(40), env.bond.RedeemedUnits())
	require.Equal(t, uint64(600), env.pay.BalanceOf(investor))
	require.Equal(t, uint64(0), env.bond.BalanceOf(investor, batch))
}

func TestRedeemGreedyAcrossBatches(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	b0 := env.buy(t, 10)
	b1 := env.buy(t, 20)
	env.clock.Advance(10)
	env.pay.Mint(bondAddr, 450)

	// Index 7 does not exist and contributes nothing; the plan drains 10
	// from b0 and the remaining 5 from b1.
	payout, err := env.bond.Redeem(investor, []uint64{b0, 7, b1}, 15, false)
	require.NoError(t, err)
	require.Equal(t, uint64(225), payout)
	require.Equal(t, uint64(0), env.bond.BalanceOf(investor, b0))
	require.Equal(t, uint64(15), env.bond.BalanceOf(investor, b1))
	require.Equal(t, uint64(15), env.bond.RedeemedUnits())
}

func TestRedeemUndercoveredFails(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	b0 := env.buy(t, 10)
	env.clock.Advance(10)
	env.pay.Mint(bondAddr, 450)

	_, err := env.bond.Redeem(investor, []uint64{b0}, 11, false)
	require.ErrorIs(t, err, domain.ErrActionInvalid)
	require.Equal(t, uint64(10), env.bond.BalanceOf(investor, b0))
	require.Equal(t, uint64(0), env.bond.RedeemedUnits())
	require.Equal(t, uint64(450), env.pay.BalanceOf(bondAddr))
}

func TestRedeemDuplicateBatchIndexes(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	b0 := env.buy(t, 5)
	env.clock.Advance(10)
	env.pay.Mint(bondAddr, 450)

	// Listing the same batch twice must not let its balance fund the
	// drain twice.
	_, err := env.bond.Redeem(investor, []uint64{b0, b0}, 10, false)
	require.ErrorIs(t, err, domain.ErrActionInvalid)
	require.Equal(t, uint64(5), env.bond.BalanceOf(investor, b0))
	require.Equal(t, uint64(0), env.bond.RedeemedUnits())
	require.Equal(t, uint64(450), env.pay.BalanceOf(bondAddr))

	// A duplicate of an already-exhausted batch contributes nothing; the
	// plan moves on to the next listed batch.
	b1 := env.buy(t, 20)
	env.clock.Advance(10)
	payout, err := env.bond.Redeem(investor, []uint64{b0, b0, b1}, 15, false)
	require.NoError(t, err)
	require.Equal(t, uint64(225), payout)
	require.Equal(t, uint64(0), env.bond.BalanceOf(investor, b0))
	require.Equal(t, uint64(10), env.bond.BalanceOf(investor, b1))
	require.Equal(t, uint64(15), env.bond.RedeemedUnits())
}

func TestCapitulationProratesPayout(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	batch := env.buy(t, 10)
	env.pay.Mint(bondAddr, 100)

	env.clock.Advance(4)
	// base 150, prorated floor(150*4/10) = 60, penalty floor(60*50/1000) = 3.
	payout, err := env.bond.Redeem(investor, []uint64{batch}, 10, true)
	require.NoError(t, err)
	require.Equal(t, uint64(57), payout)
	require.Equal(t, uint64(57), env.pay.BalanceOf(investor))
	require.Equal(t, uint64(10), env.bond.RedeemedUnits())
}

func TestCapitulationAtPurchaseBlockPaysNothing(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	batch := env.buy(t, 10)

	payout, err := env.bond.Redeem(investor, []uint64{batch}, 10, true)
	require.NoError(t, err)
	require.Equal(t, uint64(0), payout)
	require.Equal(t, uint64(10), env.bond.RedeemedUnits())
}

func TestCapitulationMatureBatchPaysFull(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	batch := env.buy(t, 10)
	env.pay.Mint(bondAddr, 150)
	env.clock.Advance(12)

	payout, err := env.bond.Redeem(investor, []uint64{batch}, 10, true)
	require.NoError(t, err)
	require.Equal(t, uint64(150), payout)
}

func TestCapitulationShortfall(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	batch := env.buy(t, 10)
	env.pay.Mint(bondAddr, 56)
	env.clock.Advance(4)

	_, err := env.bond.Redeem(investor, []uint64{batch}, 10, true)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.Equal(t, uint64(0), env.bond.RedeemedUnits())
	require.Equal(t, uint64(10), env.bond.BalanceOf(investor, batch))
}

func TestSettleRequiresFullCoverage(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	require.ErrorIs(t, env.bond.Settle(investor), domain.ErrUnauthorized)

	// Obligation covers every unit that could still be outstanding:
	// 100 * 15 = 1500.
	env.pay.Mint(bondAddr, 1499)
	require.ErrorIs(t, env.bond.Settle(adminAddr), domain.ErrInsufficientPayout)
	require.False(t, env.bond.Settled())

	env.pay.Mint(bondAddr, 1)
	require.NoError(t, env.bond.Settle(adminAddr))
	require.True(t, env.bond.Settled())
}

func TestSettleCountsRedeemedUnits(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	batch := env.buy(t, 40)
	env.clock.Advance(10)
	env.pay.Mint(bondAddr, 600)
	_, err := env.bond.Redeem(investor, []uint64{batch}, 40, false)
	require.NoError(t, err)

	// 60 units could still be outstanding: 60 * 15 = 900.
	env.pay.Mint(bondAddr, 899)
	require.ErrorIs(t, env.bond.Settle(adminAddr), domain.ErrInsufficientPayout)
	env.pay.Mint(bondAddr, 1)
	require.NoError(t, env.bond.Settle(adminAddr))
}

func TestUpdateBondSupply(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	env.buy(t, 40)

	require.ErrorIs(t, env.bond.UpdateBondSupply(investor, 50), domain.ErrUnauthorized)
	require.ErrorIs(t, env.bond.UpdateBondSupply(adminAddr, 39), domain.ErrActionBlocked)

	require.NoError(t, env.bond.UpdateBondSupply(adminAddr, 40))
	require.Equal(t, uint64(40), env.bond.TotalUnits())

	// Growing again is fine before settlement.
	require.NoError(t, env.bond.UpdateBondSupply(adminAddr, 80))

	env.pay.Mint(bondAddr, 80*15)
	require.NoError(t, env.bond.Settle(adminAddr))
	require.ErrorIs(t, env.bond.UpdateBondSupply(adminAddr, 81), domain.ErrActionBlocked)
	require.NoError(t, env.bond.UpdateBondSupply(adminAddr, 60))
}

func TestDecreaseMaturityPeriod(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	batch := env.buy(t, 10)
	env.pay.Mint(bondAddr, 150)

	require.ErrorIs(t, env.bond.DecreaseMaturityPeriod(investor, 5), domain.ErrUnauthorized)
	require.ErrorIs(t, env.bond.DecreaseMaturityPeriod(adminAddr, 0), domain.ErrActionInvalid)
	require.ErrorIs(t, env.bond.DecreaseMaturityPeriod(adminAddr, 10), domain.ErrActionInvalid)
	require.ErrorIs(t, env.bond.DecreaseMaturityPeriod(adminAddr, 11), domain.ErrActionInvalid)

	env.clock.Advance(5)
	_, err := env.bond.Redeem(investor, []uint64{batch}, 10, false)
	require.ErrorIs(t, err, domain.ErrRedeemBeforeMaturity)

	// Shortening the period matures the existing batch immediately.
	require.NoError(t, env.bond.DecreaseMaturityPeriod(adminAddr, 5))
	payout, err := env.bond.Redeem(investor, []uint64{batch}, 10, false)
	require.NoError(t, err)
	require.Equal(t, uint64(150), payout)
}

func TestWithdrawExcessPayout(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	env.buy(t, 40)

	// Obligation is 100 * 15 = 1500 against the supply high-water mark.
	env.pay.Mint(bondAddr, 1600)
	excess, err := env.bond.WithdrawExcessPayout(adminAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(100), excess)
	require.Equal(t, uint64(100), env.pay.BalanceOf(adminAddr))

	// Shrinking the cap does not shrink the obligation; the high-water
	// mark keeps the remaining balance locked.
	require.NoError(t, env.bond.UpdateBondSupply(adminAddr, 40))
	_, err = env.bond.WithdrawExcessPayout(adminAddr)
	require.ErrorIs(t, err, domain.ErrActionBlocked)

	_, err = env.bond.WithdrawExcessPayout(investor)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSettledPurchaseDetailsGating(t *testing.T) {
	env := newTestEnv(t, 40, 10)

	_, err := env.bond.SettledPurchaseDetails()
	require.ErrorIs(t, err, domain.ErrActionBlocked)

	env.buy(t, 30)
	env.pay.Mint(bondAddr, 40*15)
	require.NoError(t, env.bond.Settle(adminAddr))

	// Settled but not fully sold.
	_, err = env.bond.SettledPurchaseDetails()
	require.ErrorIs(t, err, domain.ErrActionBlocked)

	env.buy(t, 10)
	details, err := env.bond.SettledPurchaseDetails()
	require.NoError(t, err)
	require.Equal(t, uint64(10), details.UnitPrice)
	require.Equal(t, "CASH", details.Currency.Symbol())
}

func TestTransferAdmin(t *testing.T) {
	env := newTestEnv(t, 100, 10)

	require.ErrorIs(t, env.bond.TransferAdmin(investor, investor), domain.ErrUnauthorized)
	require.NoError(t, env.bond.TransferAdmin(adminAddr, investor))
	require.Equal(t, investor, env.bond.Administrator())
	require.ErrorIs(t, env.bond.UpdateBondSupply(adminAddr, 50), domain.ErrUnauthorized)
}
