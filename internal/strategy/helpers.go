package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// SellDust builds swap orders converting residual token balances below the
// threshold (in valuation currency) back into the base token. It is a free
// function so any strategy can use it without sharing a base type.
func SellDust(exposure *domain.ExposureSnapshot, market domain.MarketSnapshot, venue, baseToken string, threshold float64) ([]domain.Order, error) {
	if exposure == nil || threshold <= 0 {
		return nil, nil
	}
	var orders []domain.Order
	for key, value := range exposure.ByInstrument {
		v, token := domain.SplitInstrumentKey(key)
		if v != venue || token == baseToken {
			continue
		}
		if value <= 0 || value >= threshold {
			continue
		}
		price, ok := market.Price(token)
		if !ok || price <= 0 {
			continue
		}
		amount := decimal.NewFromFloat(value / price)
		o, err := domain.NewOrder(domain.Order{
			Venue:     venue,
			Operation: domain.OpSwap,
			Amount:    amount,
			TokenIn:   token,
			Token:     baseToken,
			Mode:      domain.ModeSequential,
			ExpectedDeltas: map[string]decimal.Decimal{
				domain.InstrumentKey(venue, token): amount.Neg(),
			},
		})
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// withGroup stamps a slice of orders as one atomic group with contiguous
// sequence numbers in slice order.
func withGroup(groupID string, orders []domain.Order) []domain.Order {
	for i := range orders {
		orders[i].Mode = domain.ModeAtomic
		orders[i].GroupID = groupID
		orders[i].SeqInGroup = i + 1
	}
	return orders
}
