package domain

import "time"

// RiskLevel is the discrete classification of the overall risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Risk channel names. Each channel is computed independently from the shared
// exposure/market inputs.
const (
	ChannelLiquidation = "liquidation"
	ChannelDelta       = "delta"
	ChannelFunding     = "funding"
	ChannelBasis       = "basis"
	ChannelDefault     = "default"
)

// RiskAssessment is the immutable risk view derived from one exposure
// snapshot plus market data.
type RiskAssessment struct {
	Timestamp time.Time
	Channels  map[string]float64 // channel -> score in [0,1]
	Overall   float64            // weighted sum, clamped to [0,1]
	Level     RiskLevel
}
