package vault

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/obligo/bondengine/internal/domain"
	"github.com/obligo/bondengine/internal/ledger"
)

var (
	adminAddr    = common.BytesToAddress([]byte{0xad})
	registryAddr = common.BytesToAddress([]byte{0xe6})
	vaultAddr    = common.BytesToAddress([]byte{0xfe})
	bondAddr     = common.BytesToAddress([]byte{0xb0})
	referrer     = common.BytesToAddress([]byte{0x0b})
	buyer        = common.BytesToAddress([]byte{0xa1})
)

// stubSource stands in for a bond on the referral claim path.
type stubSource struct {
	details domain.SettledDetails
	err     error
}

func (s stubSource) SettledPurchaseDetails() (domain.SettledDetails, error) {
	return s.details, s.err
}

type stubDirectory map[common.Address]domain.SettledDetailsSource

func (d stubDirectory) Lookup(a common.Address) (domain.SettledDetailsSource, bool) {
	src, ok := d[a]
	return src, ok
}

type testEnv struct {
	vault  *Vault
	native *ledger.Token
	cash   *ledger.Token
	dir    stubDirectory
}

func newTestEnv(t *testing.T, issuanceFee uint64) *testEnv {
	t.Helper()

	lgr := ledger.New()
	native := lgr.NewCurrency("NATIVE")
	cash := lgr.NewCurrency("CASH")
	clk := ledger.NewClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 12*time.Second)

	v, err := New(Config{
		Address:     vaultAddr,
		Admin:       adminAddr,
		Native:      native,
		IssuanceFee: issuanceFee,
		DefaultSchedule: domain.FeeSchedule{
			PurchaseRate:        25,
			EarlyRedemptionRate: 50,
			ReferrerRewardRate:  10,
		},
		Clock: clk,
	})
	require.NoError(t, err)

	dir := stubDirectory{}
	require.NoError(t, v.BindRegistry(adminAddr, registryAddr, dir))
	return &testEnv{vault: v, native: native, cash: cash, dir: dir}
}

func TestNewRejectsInvalidDefaultSchedule(t *testing.T) {
	lgr := ledger.New()
	_, err := New(Config{
		Admin:           adminAddr,
		Native:          lgr.NewCurrency("NATIVE"),
		DefaultSchedule: domain.FeeSchedule{PurchaseRate: 1000},
		Clock:           ledger.NewClock(time.Now(), time.Second),
	})
	require.ErrorIs(t, err, domain.ErrActionBlocked)
}

func TestInitializeBondRegistryOnly(t *testing.T) {
	env := newTestEnv(t, 0)

	require.ErrorIs(t, env.vault.InitializeBond(adminAddr, bondAddr, 0), domain.ErrCallerNotRegistry)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))

	sched, err := env.vault.ScheduleFor(bondAddr)
	require.NoError(t, err)
	require.True(t, sched.Initiated)
	require.Equal(t, uint64(25), sched.PurchaseRate)
}

func TestInitializeBondBeforeBinding(t *testing.T) {
	lgr := ledger.New()
	v, err := New(Config{
		Admin:  adminAddr,
		Native: lgr.NewCurrency("NATIVE"),
		Clock:  ledger.NewClock(time.Now(), time.Second),
	})
	require.NoError(t, err)

	// With no registry bound even a zero caller is rejected.
	err = v.InitializeBond(common.Address{}, bondAddr, 0)
	require.ErrorIs(t, err, domain.ErrCallerNotRegistry)
}

func TestInitializeBondFeeMismatch(t *testing.T) {
	env := newTestEnv(t, 5)

	require.ErrorIs(t, env.vault.InitializeBond(registryAddr, bondAddr, 3), domain.ErrFeeMismatch)
	require.ErrorIs(t, env.vault.InitializeBond(registryAddr, bondAddr, 6), domain.ErrFeeMismatch)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 5))
}

func TestScheduleForUnknownBond(t *testing.T) {
	env := newTestEnv(t, 0)
	_, err := env.vault.ScheduleFor(bondAddr)
	require.ErrorIs(t, err, domain.ErrContractNotInitiated)
}

func TestRecordReferralAccrues(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))

	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, referrer, 10))
	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, referrer, 5))

	rec, ok := env.vault.ReferrerRecordFor(bondAddr, referrer)
	require.True(t, ok)
	require.Equal(t, uint64(15), rec.Referred)
	require.Equal(t, uint64(0), rec.Claimed)
}

func TestRecordReferralIgnoresZeroAndSelf(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))

	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, common.Address{}, 10))
	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, buyer, 10))

	_, ok := env.vault.ReferrerRecordFor(bondAddr, common.Address{})
	require.False(t, ok)
	_, ok = env.vault.ReferrerRecordFor(bondAddr, buyer)
	require.False(t, ok)
}

func TestRecordReferralUnregisteredBond(t *testing.T) {
	env := newTestEnv(t, 0)
	err := env.vault.RecordReferralPurchase(bondAddr, buyer, referrer, 10)
	require.ErrorIs(t, err, domain.ErrContractNotInitiated)
}

func TestClaimReferralRewards(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))
	env.dir[bondAddr] = stubSource{details: domain.SettledDetails{Currency: env.cash, UnitPrice: 10}}
	env.cash.Mint(vaultAddr, 100)

	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, referrer, 40))

	// floor(40 * 10 * 10 / 1000) = 4
	reward, err := env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(4), reward)
	require.Equal(t, uint64(4), env.cash.BalanceOf(referrer))

	rec, _ := env.vault.ReferrerRecordFor(bondAddr, referrer)
	require.Equal(t, rec.Referred, rec.Claimed)

	// Nothing new to claim.
	_, err = env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.ErrorIs(t, err, domain.ErrActionBlocked)

	// Further accrual reopens the claim, and the reward is computed on the
	// cumulative referred volume, not the delta.
	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, referrer, 10))
	reward, err = env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(5), reward)
}

func TestClaimKeepsEntitlementWhenVaultUnderfunded(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))
	env.dir[bondAddr] = stubSource{details: domain.SettledDetails{Currency: env.cash, UnitPrice: 10}}
	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, referrer, 40))

	// The vault holds nothing, so the claim fails without consuming the
	// entitlement.
	_, err := env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	rec, ok := env.vault.ReferrerRecordFor(bondAddr, referrer)
	require.True(t, ok)
	require.Equal(t, uint64(0), rec.Claimed)

	// Once funded, the same claim succeeds.
	env.cash.Mint(vaultAddr, 100)
	reward, err := env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(4), reward)
	require.Equal(t, uint64(4), env.cash.BalanceOf(referrer))
}

func TestClaimBlockedWhenRestricted(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))
	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, referrer, 40))
	env.dir[bondAddr] = stubSource{details: domain.SettledDetails{Currency: env.cash, UnitPrice: 10}}

	require.NoError(t, env.vault.UpdateRestrictionStatus(adminAddr, referrer, true))
	require.True(t, env.vault.Restricted(referrer))

	_, err := env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.ErrorIs(t, err, domain.ErrActionBlocked)

	// Unbarring restores the claim path.
	require.NoError(t, env.vault.UpdateRestrictionStatus(adminAddr, referrer, false))
	env.cash.Mint(vaultAddr, 100)
	_, err = env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.NoError(t, err)
}

func TestClaimRequiresSettledBond(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))
	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, referrer, 40))
	env.dir[bondAddr] = stubSource{err: domain.ErrActionBlocked}

	_, err := env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.ErrorIs(t, err, domain.ErrActionBlocked)
}

func TestClaimUnknownBondInDirectory(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))
	require.NoError(t, env.vault.RecordReferralPurchase(bondAddr, buyer, referrer, 40))

	_, err := env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimWithoutAccrual(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))

	_, err := env.vault.ClaimReferralRewards(referrer, bondAddr)
	require.ErrorIs(t, err, domain.ErrActionBlocked)
}

func TestUpdateBondFeeDetails(t *testing.T) {
	env := newTestEnv(t, 0)

	err := env.vault.UpdateBondFeeDetails(buyer, nil, 30, 60, 20)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = env.vault.UpdateBondFeeDetails(adminAddr, nil, 1000, 0, 0)
	require.ErrorIs(t, err, domain.ErrActionBlocked)
	err = env.vault.UpdateBondFeeDetails(adminAddr, nil, 10, 0, 20)
	require.ErrorIs(t, err, domain.ErrActionBlocked)

	// Writing the default changes future initializations only.
	require.NoError(t, env.vault.UpdateBondFeeDetails(adminAddr, nil, 30, 60, 20))
	require.NoError(t, env.vault.InitializeBond(registryAddr, bondAddr, 0))
	sched, err := env.vault.ScheduleFor(bondAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(30), sched.PurchaseRate)

	// Writing a specific bond registers it even if this vault never
	// initialized it. This is the cutover re-registration path.
	other := common.BytesToAddress([]byte{0xb1})
	require.NoError(t, env.vault.UpdateBondFeeDetails(adminAddr, &other, 40, 70, 30))
	sched, err = env.vault.ScheduleFor(other)
	require.NoError(t, err)
	require.True(t, sched.Initiated)
	require.Equal(t, uint64(40), sched.PurchaseRate)
}

func TestUpdateIssuanceFee(t *testing.T) {
	env := newTestEnv(t, 5)

	require.ErrorIs(t, env.vault.UpdateIssuanceFee(buyer, 9), domain.ErrUnauthorized)
	require.NoError(t, env.vault.UpdateIssuanceFee(adminAddr, 9))
	require.Equal(t, uint64(9), env.vault.IssuanceFee())
}

func TestWithdraw(t *testing.T) {
	env := newTestEnv(t, 0)
	env.native.Mint(vaultAddr, 50)
	env.cash.Mint(vaultAddr, 30)

	require.ErrorIs(t, env.vault.Withdraw(buyer, nil, buyer, 10), domain.ErrUnauthorized)

	// Nil currency means native.
	require.NoError(t, env.vault.Withdraw(adminAddr, nil, adminAddr, 50))
	require.Equal(t, uint64(50), env.native.BalanceOf(adminAddr))

	// A failed native withdrawal surfaces as ErrActionInvalid.
	err := env.vault.Withdraw(adminAddr, nil, adminAddr, 1)
	require.ErrorIs(t, err, domain.ErrActionInvalid)

	// A token withdrawal fails with the token's own error.
	err = env.vault.Withdraw(adminAddr, env.cash, adminAddr, 31)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.NoError(t, env.vault.Withdraw(adminAddr, env.cash, adminAddr, 30))
	require.Equal(t, uint64(30), env.cash.BalanceOf(adminAddr))
}

func TestTransferAdmin(t *testing.T) {
	env := newTestEnv(t, 0)

	require.NoError(t, env.vault.TransferAdmin(adminAddr, buyer))
	require.Equal(t, buyer, env.vault.Administrator())
	require.ErrorIs(t, env.vault.UpdateIssuanceFee(adminAddr, 1), domain.ErrUnauthorized)
	require.NoError(t, env.vault.UpdateIssuanceFee(buyer, 1))
}
