// Package registry implements the issuance registry: the factory for
// bond instances, the global pause switch, and the pointer to the active
// fee ledger.
package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/obligo/bondengine/internal/bond"
	"github.com/obligo/bondengine/internal/domain"
)

// FeeVault is the registry-side surface of a fee ledger: the shared
// FeeLedger view the bonds consume, plus bond initialization.
type FeeVault interface {
	domain.FeeLedger
	IssuanceFee() uint64
	InitializeBond(caller, bond common.Address, feePayment uint64) error
}

// Config carries the registry's identity and initial wiring.
type Config struct {
	Address common.Address
	Admin   common.Address
	Native  domain.Currency
	Vault   FeeVault
	Clock   domain.Clock
	Logger  *slog.Logger
	Sink    domain.EventSink
}

// Registry issues bonds and tracks every instance it has created. It is
// the canonical bond directory consulted by fee ledgers, and the fee
// ledger provider consulted by bonds, so swapping the active ledger takes
// effect for all bonds at once.
type Registry struct {
	admin  domain.Admin
	addr   common.Address
	native domain.Currency
	vault  FeeVault
	paused bool
	issued uint64
	bonds  map[common.Address]*bond.Bond

	clock  domain.Clock
	logger *slog.Logger
	sink   domain.EventSink
}

// New creates a Registry bound to the given vault.
func New(cfg Config) (*Registry, error) {
	if cfg.Native == nil || cfg.Vault == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("registry: native currency, vault, and clock are required: %w", domain.ErrActionInvalid)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		admin:  domain.NewAdmin(cfg.Admin),
		addr:   cfg.Address,
		native: cfg.Native,
		vault:  cfg.Vault,
		bonds:  make(map[common.Address]*bond.Bond),
		clock:  cfg.Clock,
		logger: logger.With(slog.String("component", "registry")),
		sink:   cfg.Sink,
	}, nil
}

// Address returns the registry's ledger address.
func (r *Registry) Address() common.Address { return r.addr }

// Administrator returns the current administrator.
func (r *Registry) Administrator() common.Address { return r.admin.Holder() }

// TransferAdmin hands administration to next.
func (r *Registry) TransferAdmin(caller, next common.Address) error {
	return r.admin.Transfer(caller, next)
}

// Paused reports whether issuance is paused.
func (r *Registry) Paused() bool { return r.paused }

// Issued returns the number of bonds ever issued.
func (r *Registry) Issued() uint64 { return r.issued }

// Bond returns the instance at the given address.
func (r *Registry) Bond(addr common.Address) (*bond.Bond, bool) {
	b, ok := r.bonds[addr]
	return b, ok
}

// Bonds returns every bond this registry has issued, ordered by address.
func (r *Registry) Bonds() []*bond.Bond {
	out := make([]*bond.Bond, 0, len(r.bonds))
	for _, b := range r.bonds {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address().Bytes(), out[j].Address().Bytes()) < 0
	})
	return out
}

// Issue creates a new bond bound to terms, with the caller as its
// administrator, and registers it with the active fee ledger. The fee
// payment is pulled from the caller in the native currency and must
// exactly match the ledger's configured issuance fee.
func (r *Registry) Issue(caller common.Address, terms domain.BondTerms, totalUnits, feePayment uint64) (*bond.Bond, error) {
	if r.paused {
		return nil, domain.ErrPaused
	}

	addr := r.deriveAddress()
	b, err := bond.New(bond.Config{
		Address:    addr,
		Admin:      caller,
		Terms:      terms,
		TotalUnits: totalUnits,
		Provider:   r,
		Clock:      r.clock,
		Logger:     r.logger,
		Sink:       r.sink,
	})
	if err != nil {
		return nil, err
	}

	// Funding pre-flight, so the fee transfer at the tail cannot fail
	// after the vault and registry state have been committed.
	if feePayment > 0 {
		if r.native.BalanceOf(caller) < feePayment {
			return nil, fmt.Errorf("registry: issuance fee funding: %w", domain.ErrInsufficientBalance)
		}
		if r.native.Allowance(caller, r.addr) < feePayment {
			return nil, fmt.Errorf("registry: issuance fee funding: %w", domain.ErrInsufficientAllowance)
		}
	}

	if err := r.vault.InitializeBond(r.addr, addr, feePayment); err != nil {
		return nil, err
	}

	r.bonds[addr] = b
	r.issued++

	if feePayment > 0 {
		if err := r.native.TransferFrom(r.addr, caller, r.vault.Address(), feePayment); err != nil {
			return nil, fmt.Errorf("registry: issuance fee transfer: %w", err)
		}
	}

	r.logger.Info("bond issued",
		slog.String("bond", addr.Hex()),
		slog.String("issuer", caller.Hex()),
		slog.String("symbol", terms.Symbol),
		slog.Uint64("total_units", totalUnits),
	)
	r.emit(domain.EventBondIssued, addr, caller, map[string]any{
		"symbol":      terms.Symbol,
		"isin":        terms.ISIN,
		"total_units": totalUnits,
		"fee_payment": feePayment,
	})
	return b, nil
}

// ChangeFeeLedger swaps the active fee ledger. Nothing migrates: bonds
// already registered with the old ledger become inert for purchase and
// redemption until re-registered on the new one via UpdateBondFeeDetails.
// Administrator-only.
func (r *Registry) ChangeFeeLedger(caller common.Address, next FeeVault) error {
	if err := r.admin.Require(caller); err != nil {
		return err
	}
	if next == nil {
		return domain.ErrActionInvalid
	}
	prev := r.vault.Address()
	r.vault = next
	r.emit(domain.EventFeeLedgerChanged, common.Address{}, caller, map[string]any{
		"previous": prev.Hex(),
		"next":     next.Address().Hex(),
	})
	return nil
}

// SetPaused flips the global pause switch. Unconditional: setting the
// current value again is accepted. Administrator-only.
func (r *Registry) SetPaused(caller common.Address, paused bool) error {
	if err := r.admin.Require(caller); err != nil {
		return err
	}
	r.paused = paused
	r.emit(domain.EventRegistryPaused, common.Address{}, caller, map[string]any{"paused": paused})
	return nil
}

// CurrentFeeLedger implements domain.FeeLedgerProvider for the bonds this
// registry issued.
func (r *Registry) CurrentFeeLedger() domain.FeeLedger {
	return r.vault
}

// Lookup implements domain.BondDirectory for fee ledgers authorizing
// referral claims.
func (r *Registry) Lookup(addr common.Address) (domain.SettledDetailsSource, bool) {
	b, ok := r.bonds[addr]
	if !ok {
		return nil, false
	}
	return b, true
}

// deriveAddress assigns the next bond address from the registry address
// and the issuance counter.
func (r *Registry) deriveAddress() common.Address {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], r.issued)
	h := ethcrypto.Keccak256(r.addr.Bytes(), nonce[:])
	return common.BytesToAddress(h[12:])
}

func (r *Registry) emit(t domain.EventType, bondAddr, actor common.Address, detail map[string]any) {
	if r.sink == nil {
		return
	}
	r.sink.Emit(domain.Event{
		ID:     uuid.New(),
		Type:   t,
		Bond:   bondAddr,
		Actor:  actor,
		Detail: detail,
		Block:  r.clock.BlockNumber(),
		At:     r.clock.Now(),
	})
}

// Compile-time interface checks.
var (
	_ domain.FeeLedgerProvider = (*Registry)(nil)
	_ domain.BondDirectory     = (*Registry)(nil)
)
