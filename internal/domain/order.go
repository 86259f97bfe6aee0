package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationType enumerates the venue-agnostic operations a strategy can
// request.
type OperationType string

const (
	OpSpotTrade   OperationType = "SPOT_TRADE"
	OpPerpTrade   OperationType = "PERP_TRADE"
	OpSupply      OperationType = "SUPPLY"
	OpBorrow      OperationType = "BORROW"
	OpRepay       OperationType = "REPAY"
	OpWithdraw    OperationType = "WITHDRAW"
	OpStake       OperationType = "STAKE"
	OpUnstake     OperationType = "UNSTAKE"
	OpSwap        OperationType = "SWAP"
	OpFlashBorrow OperationType = "FLASH_BORROW"
	OpFlashRepay  OperationType = "FLASH_REPAY"
	OpTransfer    OperationType = "TRANSFER"
)

// OrderSide is the direction of a trade order.
type OrderSide string

const (
	SideLong  OrderSide = "long"
	SideShort OrderSide = "short"
)

// ExecutionMode selects how a batch of orders is applied.
type ExecutionMode string

const (
	// ModeSequential orders are executed one at a time, each followed by its
	// own state cascade.
	ModeSequential ExecutionMode = "sequential"
	// ModeAtomic orders share a group that settles all-or-nothing with one
	// deferred cascade.
	ModeAtomic ExecutionMode = "atomic"
)

// Order is a validated, venue-agnostic description of one intended
// operation. It is immutable once constructed through NewOrder.
type Order struct {
	OperationID string
	Venue       string
	Operation   OperationType
	Amount      decimal.Decimal
	Price       float64 // 0 means unset
	Pair        string
	Side        OrderSide
	TokenIn     string
	Token       string
	SourceVenue string
	TargetVenue string
	SourceToken string
	TargetToken string
	TakeProfit  float64 // 0 means unset
	StopLoss    float64 // 0 means unset

	// ExpectedDeltas maps instrument keys to the signed native-unit change
	// the strategy expects this operation to cause.
	ExpectedDeltas map[string]decimal.Decimal

	Mode       ExecutionMode
	GroupID    string
	SeqInGroup int // 1-based, only meaningful for atomic orders
	CreatedAt  time.Time
}

// NewOrder validates o, assigns an operation id when missing, and returns
// the finished immutable order. Validation rejects; it never coerces.
func NewOrder(o Order) (Order, error) {
	if o.OperationID == "" {
		o.OperationID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if err := o.validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (o Order) validate() error {
	if o.Venue == "" {
		return fmt.Errorf("%w: venue is required", ErrInvalidOrder)
	}
	if !o.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be > 0, got %s", ErrInvalidOrder, o.Amount)
	}
	if o.Price < 0 {
		return fmt.Errorf("%w: price must be > 0 when set", ErrInvalidOrder)
	}

	switch o.Operation {
	case OpSpotTrade, OpPerpTrade:
		if o.Pair == "" || o.Side == "" {
			return fmt.Errorf("%w: %s requires pair and side", ErrInvalidOrder, o.Operation)
		}
	case OpSupply, OpStake, OpSwap:
		if o.TokenIn == "" {
			return fmt.Errorf("%w: %s requires token_in", ErrInvalidOrder, o.Operation)
		}
	case OpTransfer:
		if o.SourceVenue == "" || o.TargetVenue == "" || o.Token == "" {
			return fmt.Errorf("%w: TRANSFER requires source_venue, target_venue, token", ErrInvalidOrder)
		}
	case OpBorrow, OpRepay, OpWithdraw, OpUnstake, OpFlashBorrow, OpFlashRepay:
		// amount + venue suffice
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidOrder, o.Operation)
	}

	switch o.Mode {
	case ModeSequential:
		// GroupID may not be carried by sequential orders.
		if o.GroupID != "" {
			return fmt.Errorf("%w: sequential order carries atomic_group_id", ErrInvalidOrder)
		}
	case ModeAtomic:
		if o.GroupID == "" {
			return fmt.Errorf("%w: atomic order requires atomic_group_id", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown execution mode %q", ErrInvalidOrder, o.Mode)
	}
	if o.GroupID != "" && o.SeqInGroup < 1 {
		return fmt.Errorf("%w: grouped order requires sequence_in_group >= 1", ErrInvalidOrder)
	}

	if o.Side != "" && o.Price > 0 && (o.TakeProfit > 0 || o.StopLoss > 0) {
		if err := o.validateProtection(); err != nil {
			return err
		}
	}
	return nil
}

// validateProtection checks that take-profit / stop-loss targets sit on the
// correct side of the entry price for the stated direction.
func (o Order) validateProtection() error {
	switch o.Side {
	case SideLong:
		if o.TakeProfit > 0 && o.TakeProfit <= o.Price {
			return fmt.Errorf("%w: long take_profit %.6f must exceed price %.6f", ErrInvalidOrder, o.TakeProfit, o.Price)
		}
		if o.StopLoss > 0 && o.StopLoss >= o.Price {
			return fmt.Errorf("%w: long stop_loss %.6f must be below price %.6f", ErrInvalidOrder, o.StopLoss, o.Price)
		}
	case SideShort:
		if o.TakeProfit > 0 && o.TakeProfit >= o.Price {
			return fmt.Errorf("%w: short take_profit %.6f must be below price %.6f", ErrInvalidOrder, o.TakeProfit, o.Price)
		}
		if o.StopLoss > 0 && o.StopLoss <= o.Price {
			return fmt.Errorf("%w: short stop_loss %.6f must exceed price %.6f", ErrInvalidOrder, o.StopLoss, o.Price)
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}
	return nil
}

// ValidateGroup checks that the grouped orders share one group id and carry
// unique, contiguous, 1-based sequence numbers.
func ValidateGroup(orders []Order) error {
	if len(orders) == 0 {
		return fmt.Errorf("%w: empty atomic group", ErrInvalidOrder)
	}
	groupID := orders[0].GroupID
	seen := make(map[int]bool, len(orders))
	for _, o := range orders {
		if o.Mode != ModeAtomic || o.GroupID != groupID {
			return fmt.Errorf("%w: order %s does not belong to group %s", ErrInvalidOrder, o.OperationID, groupID)
		}
		if o.SeqInGroup < 1 || o.SeqInGroup > len(orders) || seen[o.SeqInGroup] {
			return fmt.Errorf("%w: group %s sequence numbers must be unique and contiguous", ErrInvalidOrder, groupID)
		}
		seen[o.SeqInGroup] = true
	}
	return nil
}
