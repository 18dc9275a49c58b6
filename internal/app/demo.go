package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/obligo/bondengine/internal/domain"
)

// Demo actors. The operator issues and administers the bond; the investor
// buys and redeems; the referrer earns and claims a reward.
var (
	demoInvestor = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	demoReferrer = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

// runDemo walks one bond through its whole lifecycle on the in-memory
// ledger: issuance, a referred purchase, maturity, redemption, settlement,
// referral claim, and fee withdrawal.
func (a *App) runDemo(ctx context.Context, deps *Dependencies) error {
	log := a.logger.With(slog.String("component", "demo"))
	operator := deps.Operator

	// Fund the actors. The operator pays the issuance fee and the payout
	// obligation; the investor pays for units.
	cash := deps.Ledger.NewCurrency("CASH")
	cash.Mint(operator, 10_000)
	cash.Mint(demoInvestor, 5_000)

	terms := domain.BondTerms{
		ISIN:             "DE000DEMO001",
		Name:             "Demo 10-Block Note",
		Symbol:           "DEMO",
		PurchaseCurrency: cash,
		PurchasePrice:    10,
		PayoutCurrency:   cash,
		PayoutPrice:      15,
		Denomination:     1,
		MaturityPeriod:   10,
	}

	fee := deps.Vault.IssuanceFee()
	if fee > 0 {
		deps.Native.Mint(operator, fee)
		deps.Native.Approve(operator, deps.Registry.Address(), fee)
	}
	b, err := deps.Registry.Issue(operator, terms, 100, fee)
	if err != nil {
		return fmt.Errorf("demo: issue: %w", err)
	}
	log.InfoContext(ctx, "bond issued",
		slog.String("bond", b.Address().Hex()),
		slog.Uint64("total_units", b.TotalUnits()),
	)

	// Referred purchase of 40 units. The purchase fee lands in the vault,
	// the remainder with the operator.
	cash.Approve(demoInvestor, b.Address(), 40*terms.PurchasePrice)
	batch, err := b.Purchase(demoInvestor, 40, demoReferrer)
	if err != nil {
		return fmt.Errorf("demo: purchase: %w", err)
	}
	log.InfoContext(ctx, "units purchased",
		slog.Uint64("batch", batch),
		slog.Uint64("quantity", 40),
		slog.Uint64("vault_balance", cash.BalanceOf(deps.Vault.Address())),
	)

	// Pass maturity and fund the payout obligation on the bond.
	deps.Clock.Advance(terms.MaturityPeriod)
	if err := cash.Transfer(operator, b.Address(), 100*terms.PayoutPrice); err != nil {
		return fmt.Errorf("demo: fund payout: %w", err)
	}

	payout, err := b.Redeem(demoInvestor, []uint64{batch}, 40, false)
	if err != nil {
		return fmt.Errorf("demo: redeem: %w", err)
	}
	log.InfoContext(ctx, "units redeemed",
		slog.Uint64("payout", payout),
		slog.Uint64("investor_balance", cash.BalanceOf(demoInvestor)),
	)

	// Shrink supply to what was sold, then settle so the referrer can
	// claim against the settled unit price.
	if err := b.UpdateBondSupply(operator, 40); err != nil {
		return fmt.Errorf("demo: update supply: %w", err)
	}
	if err := b.Settle(operator); err != nil {
		return fmt.Errorf("demo: settle: %w", err)
	}

	reward, err := deps.Vault.ClaimReferralRewards(demoReferrer, b.Address())
	if err != nil {
		return fmt.Errorf("demo: claim referral: %w", err)
	}
	log.InfoContext(ctx, "referral reward claimed",
		slog.Uint64("reward", reward),
		slog.Uint64("referrer_balance", cash.BalanceOf(demoReferrer)),
	)

	// Sweep the remaining collected fees to the operator.
	remaining := cash.BalanceOf(deps.Vault.Address())
	if remaining > 0 {
		if err := deps.Vault.Withdraw(operator, cash, operator, remaining); err != nil {
			return fmt.Errorf("demo: withdraw fees: %w", err)
		}
	}

	log.InfoContext(ctx, "lifecycle finished",
		slog.Uint64("operator_balance", cash.BalanceOf(operator)),
		slog.Uint64("vault_balance", cash.BalanceOf(deps.Vault.Address())),
		slog.Bool("settled", b.Settled()),
	)
	return nil
}
