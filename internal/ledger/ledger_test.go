package ledger

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/obligo/bondengine/internal/domain"
)

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func TestNewCurrencyIsIdempotent(t *testing.T) {
	l := New()
	a := l.NewCurrency("CASH")
	b := l.NewCurrency("CASH")
	require.Same(t, a, b)
	require.Same(t, a, l.Currency("CASH"))
	require.Nil(t, l.Currency("UNKNOWN"))
}

func TestTransfer(t *testing.T) {
	tok := New().NewCurrency("CASH")
	tok.Mint(addr(1), 100)

	require.NoError(t, tok.Transfer(addr(1), addr(2), 60))
	require.Equal(t, uint64(40), tok.BalanceOf(addr(1)))
	require.Equal(t, uint64(60), tok.BalanceOf(addr(2)))

	err := tok.Transfer(addr(1), addr(2), 41)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.Equal(t, uint64(40), tok.BalanceOf(addr(1)))
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	tok := New().NewCurrency("CASH")
	tok.Mint(addr(1), 100)
	tok.Approve(addr(1), addr(9), 70)

	require.NoError(t, tok.TransferFrom(addr(9), addr(1), addr(2), 50))
	require.Equal(t, uint64(20), tok.Allowance(addr(1), addr(9)))
	require.Equal(t, uint64(50), tok.BalanceOf(addr(2)))

	err := tok.TransferFrom(addr(9), addr(1), addr(2), 21)
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestTransferFromInsufficientBalance(t *testing.T) {
	tok := New().NewCurrency("CASH")
	tok.Mint(addr(1), 10)
	tok.Approve(addr(1), addr(9), 100)

	err := tok.TransferFrom(addr(9), addr(1), addr(2), 11)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	// The allowance is untouched when the transfer fails.
	require.Equal(t, uint64(100), tok.Allowance(addr(1), addr(9)))
}

func TestClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start, 12*time.Second)

	require.Equal(t, uint64(0), c.BlockNumber())
	require.Equal(t, start, c.Now())

	c.Advance(10)
	require.Equal(t, uint64(10), c.BlockNumber())
	require.Equal(t, start.Add(120*time.Second), c.Now())
}
