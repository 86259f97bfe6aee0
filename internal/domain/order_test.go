package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOrder() Order {
	return Order{
		Venue:     "aave",
		Operation: OpBorrow,
		Amount:    decimal.NewFromInt(10),
		Mode:      ModeSequential,
	}
}

func TestNewOrderAssignsOperationID(t *testing.T) {
	o, err := NewOrder(validOrder())
	require.NoError(t, err)
	assert.NotEmpty(t, o.OperationID)
	assert.False(t, o.CreatedAt.IsZero())
}

func TestNewOrderRejectsNonPositiveAmount(t *testing.T) {
	o := validOrder()
	o.Amount = decimal.Zero
	_, err := NewOrder(o)
	require.ErrorIs(t, err, ErrInvalidOrder)

	o.Amount = decimal.NewFromInt(-5)
	_, err = NewOrder(o)
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestNewOrderRejectsMissingVenue(t *testing.T) {
	o := validOrder()
	o.Venue = ""
	_, err := NewOrder(o)
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestNewOrderTransferRequiresRouting(t *testing.T) {
	o := Order{
		Venue:       "bridge",
		Operation:   OpTransfer,
		Amount:      decimal.NewFromInt(1),
		Mode:        ModeSequential,
		SourceVenue: "wallet",
		TargetVenue: "aave",
	}
	// Token missing.
	_, err := NewOrder(o)
	require.ErrorIs(t, err, ErrInvalidOrder)

	o.Token = "USDC"
	_, err = NewOrder(o)
	require.NoError(t, err)
}

func TestNewOrderTradeRequiresPairAndSide(t *testing.T) {
	o := Order{
		Venue:     "hyperliquid",
		Operation: OpPerpTrade,
		Amount:    decimal.NewFromInt(1),
		Mode:      ModeSequential,
		Pair:      "ETH-PERP",
	}
	_, err := NewOrder(o)
	require.ErrorIs(t, err, ErrInvalidOrder)

	o.Side = SideShort
	_, err = NewOrder(o)
	require.NoError(t, err)
}

func TestNewOrderModeGroupConsistency(t *testing.T) {
	// Atomic without a group id.
	o := validOrder()
	o.Mode = ModeAtomic
	_, err := NewOrder(o)
	require.ErrorIs(t, err, ErrInvalidOrder)

	// Sequential carrying a group id.
	o = validOrder()
	o.GroupID = "g1"
	_, err = NewOrder(o)
	require.ErrorIs(t, err, ErrInvalidOrder)

	// Atomic with group id but no sequence number.
	o = validOrder()
	o.Mode = ModeAtomic
	o.GroupID = "g1"
	_, err = NewOrder(o)
	require.ErrorIs(t, err, ErrInvalidOrder)

	o.SeqInGroup = 1
	_, err = NewOrder(o)
	require.NoError(t, err)
}

func TestNewOrderProtectionLevels(t *testing.T) {
	o := Order{
		Venue:      "hyperliquid",
		Operation:  OpPerpTrade,
		Amount:     decimal.NewFromInt(1),
		Mode:       ModeSequential,
		Pair:       "ETH-PERP",
		Side:       SideLong,
		Price:      3000,
		TakeProfit: 2900, // below entry on a long
	}
	_, err := NewOrder(o)
	require.ErrorIs(t, err, ErrInvalidOrder)

	o.TakeProfit = 3300
	o.StopLoss = 2800
	_, err = NewOrder(o)
	require.NoError(t, err)

	short := o
	short.Side = SideShort
	short.TakeProfit = 2700
	short.StopLoss = 3200
	_, err = NewOrder(short)
	require.NoError(t, err)
}

func groupOrder(groupID string, seq int) Order {
	return Order{
		OperationID: "op-" + string(rune('0'+seq)),
		Venue:       "aave",
		Operation:   OpBorrow,
		Amount:      decimal.NewFromInt(1),
		Mode:        ModeAtomic,
		GroupID:     groupID,
		SeqInGroup:  seq,
	}
}

func TestValidateGroup(t *testing.T) {
	require.NoError(t, ValidateGroup([]Order{
		groupOrder("g", 1), groupOrder("g", 2), groupOrder("g", 3),
	}))

	// Empty group.
	require.ErrorIs(t, ValidateGroup(nil), ErrInvalidOrder)

	// Mixed group ids.
	err := ValidateGroup([]Order{groupOrder("g", 1), groupOrder("other", 2)})
	require.ErrorIs(t, err, ErrInvalidOrder)

	// Duplicate sequence numbers.
	err = ValidateGroup([]Order{groupOrder("g", 1), groupOrder("g", 1)})
	require.ErrorIs(t, err, ErrInvalidOrder)

	// Gap in sequence numbers.
	err = ValidateGroup([]Order{groupOrder("g", 1), groupOrder("g", 3)})
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestInstrumentKeyRoundTrip(t *testing.T) {
	key := InstrumentKey("aave", "aUSDC")
	assert.Equal(t, "aave:aUSDC", key)

	venue, token := SplitInstrumentKey(key)
	assert.Equal(t, "aave", venue)
	assert.Equal(t, "aUSDC", token)

	venue, token = SplitInstrumentKey("bare")
	assert.Empty(t, venue)
	assert.Equal(t, "bare", token)
}
