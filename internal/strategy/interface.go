// Package strategy holds the decision layer: implementations look at the
// current exposure, risk, and market state each timestep and emit validated
// orders for the coordinator. Strategies never touch the ledger directly.
package strategy

import (
	"context"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// Strategy is the single flat contract every strategy implements. There is
// no base type to inherit from; shared behavior lives in free helper
// functions. exposure and risk are nil on the very first timestep, before
// any cascade has run.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	GenerateOrders(ctx context.Context, ts time.Time, exposure *domain.ExposureSnapshot, risk *domain.RiskAssessment, market domain.MarketSnapshot) ([]domain.Order, error)
	Close() error
}

// Config holds the parameters shared by the built-in strategies; Params
// carries strategy-specific extras.
type Config struct {
	Name          string
	Capital       float64
	TargetLTV     float64
	MaxIterations int
	RebalanceBand float64
	DustThreshold float64
	LendingVenue  string
	StakingVenue  string
	PerpVenue     string
	BaseToken     string
	StakedToken   string
	Params        map[string]any
}
