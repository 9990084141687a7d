// Package ledger implements the portfolio arithmetic: applying buy/sell
// executions to a holding and valuing a participant's portfolio at the
// latest prices.
//
// Cost basis uses the weighted-average method: the average buy price is
// recomputed only on BUY, and a SELL peels the cost basis off
// proportionally so the average is preserved for the remaining shares.
// All functions are pure and safe to call on every price tick.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/model"
)

// ApplyBuy returns the holding after buying qty shares at price. Pass nil
// for a position being opened. The caller has already verified the cash
// balance covers the cost.
func ApplyBuy(h *model.Holding, participantID, symbol string, qty int64, price decimal.Decimal) model.Holding {
	cost := price.Mul(decimal.NewFromInt(qty))

	if h == nil || h.Quantity == 0 {
		return model.Holding{
			ParticipantID:   participantID,
			StockSymbol:     symbol,
			Quantity:        qty,
			AverageBuyPrice: price,
			BuyValue:        cost,
		}
	}

	oldQty := decimal.NewFromInt(h.Quantity)
	newQty := decimal.NewFromInt(h.Quantity + qty)

	// newAvg = (oldQty×oldAvg + qty×price) / (oldQty+qty)
	avg := oldQty.Mul(h.AverageBuyPrice).Add(cost).Div(newQty)

	return model.Holding{
		ParticipantID:   h.ParticipantID,
		StockSymbol:     h.StockSymbol,
		Quantity:        h.Quantity + qty,
		AverageBuyPrice: avg,
		BuyValue:        h.BuyValue.Add(cost),
	}
}

// ApplySell returns the holding after selling qty shares. A holding that
// reaches zero quantity comes back with zeroed basis; the store removes it.
// Returns model.ErrInsufficientHoldings when qty exceeds the held quantity.
func ApplySell(h *model.Holding, qty int64) (model.Holding, error) {
	if h == nil || h.Quantity < qty {
		return model.Holding{}, model.ErrInsufficientHoldings
	}

	remaining := h.Quantity - qty
	if remaining == 0 {
		return model.Holding{
			ParticipantID: h.ParticipantID,
			StockSymbol:   h.StockSymbol,
			Quantity:      0,
			BuyValue:      decimal.Zero,
		}, nil
	}

	// Peel the basis off proportionally: buyValue -= (qty/oldQty)×buyValue.
	// The average buy price of the remainder is unchanged.
	sold := h.BuyValue.Mul(decimal.NewFromInt(qty)).Div(decimal.NewFromInt(h.Quantity))

	return model.Holding{
		ParticipantID:   h.ParticipantID,
		StockSymbol:     h.StockSymbol,
		Quantity:        remaining,
		AverageBuyPrice: h.AverageBuyPrice,
		BuyValue:        h.BuyValue.Sub(sold),
	}, nil
}

// Valuate computes the derived portfolio view for a participant. price
// returns the latest known price for a symbol; a symbol with no known
// price is valued at its average buy price so totals stay defined after a
// cold start.
func Valuate(p *model.Participant, holdings []model.Holding, price func(symbol string) (decimal.Decimal, bool)) model.Portfolio {
	out := model.Portfolio{
		ParticipantID: p.ID,
		ContestID:     p.ContestID,
		CashBalance:   p.CashBalance,
		Holdings:      make([]model.HoldingView, 0, len(holdings)),
	}

	for _, h := range holdings {
		cur, ok := price(h.StockSymbol)
		if !ok {
			cur = h.AverageBuyPrice
		}
		value := cur.Mul(decimal.NewFromInt(h.Quantity))
		profit := value.Sub(h.BuyValue)

		out.Holdings = append(out.Holdings, model.HoldingView{
			StockSymbol:     h.StockSymbol,
			Quantity:        h.Quantity,
			AverageBuyPrice: h.AverageBuyPrice,
			BuyValue:        h.BuyValue,
			CurrentPrice:    cur,
			CurrentValue:    value,
			Profit:          profit,
		})

		out.TotalHoldingsValue = out.TotalHoldingsValue.Add(value)
		out.TotalProfitLoss = out.TotalProfitLoss.Add(profit)
	}

	out.TotalPortfolioValue = out.CashBalance.Add(out.TotalHoldingsValue)
	return out
}
