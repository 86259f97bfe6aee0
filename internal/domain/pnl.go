package domain

import "time"

// Attribution component names. Each decomposes the change between
// consecutive exposure snapshots into a named cause.
const (
	ComponentSupplyYield  = "supply_yield"
	ComponentStakingYield = "staking_yield"
	ComponentBorrowCost   = "borrow_cost"
	ComponentFunding      = "funding"
	ComponentBasisSpread  = "basis_spread"
	ComponentNetDelta     = "net_delta"
	ComponentTxCosts      = "transaction_costs"
)

// AttributionComponents lists all components in reporting order.
var AttributionComponents = []string{
	ComponentSupplyYield, ComponentStakingYield, ComponentBorrowCost,
	ComponentFunding, ComponentBasisSpread, ComponentNetDelta, ComponentTxCosts,
}

// BalanceBasedPnL compares current valuation against the initial seed
// capital and against the previous snapshot.
type BalanceBasedPnL struct {
	CurrentValuation  float64
	InitialValuation  float64
	PnLCumulative     float64 // current - initial
	PnLSincePrevious  float64
	PreviousValuation float64
}

// AttributionComponent holds the hourly-rate and running cumulative totals
// for one named component.
type AttributionComponent struct {
	Hourly     float64
	Cumulative float64
}

// AttributionPnL decomposes profit/loss into named causal components.
type AttributionPnL struct {
	Components    map[string]AttributionComponent
	PnLCumulative float64 // sum of cumulative component totals
}

// Reconciliation compares balance-based and attribution P&L. A breach is
// reported as data, never raised.
type Reconciliation struct {
	Difference float64
	Tolerance  float64
	Passed     bool
}

// PnLRecord is the immutable per-timestamp profit/loss view.
type PnLRecord struct {
	Timestamp      time.Time
	BalanceBased   BalanceBasedPnL
	Attribution    AttributionPnL
	Reconciliation Reconciliation
	// Err is set on a degraded record: balance-based figures are defaulted
	// from exposure totals and attribution is absent.
	Err string
}
