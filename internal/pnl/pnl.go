// Package pnl computes money figures for wheels: premium collected,
// commissions, realized PnL for closed cycles and priced holdings with
// unrealized PnL for open ones. Everything here is a pure function of an
// execution list plus an injected price source.
package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/wheeltrack/wheeltrack-api/internal/types"
)

// Instrument identifies what a price is being asked for.
type Instrument struct {
	Symbol string
	Kind   string // STOCK, PUT or CALL
	Strike *decimal.Decimal
}

// PriceSource supplies current market prices. A source may have no price for
// an instrument; callers must surface that as "unpriced", never as zero.
type PriceSource interface {
	Price(accountID string, inst Instrument) (decimal.Decimal, bool)
}

// NetCash is the signed cash flow of an execution list:
// -quantity*price*multiplier per fill, commissions excluded.
func NetCash(execs []types.Execution) decimal.Decimal {
	total := decimal.Zero
	for i := range execs {
		e := &execs[i]
		total = total.Add(e.Quantity.Mul(e.Price).Mul(e.Multiplier).Neg())
	}
	return total
}

// Premium is the credit received from option sells within a wheel.
func Premium(execs []types.Execution) decimal.Decimal {
	total := decimal.Zero
	for i := range execs {
		e := &execs[i]
		if e.IsOption() && e.Side == types.SideSell {
			total = total.Add(e.Quantity.Mul(e.Price).Mul(e.Multiplier).Neg())
		}
	}
	return total
}

// Commissions sums commissions over an execution list. The result is <= 0.
func Commissions(execs []types.Execution) decimal.Decimal {
	total := decimal.Zero
	for i := range execs {
		total = total.Add(execs[i].Commission)
	}
	return total
}

// Realized is the realized PnL identity for a closed wheel: net cash over
// every execution plus commissions, reproducible to the cent from the
// execution list alone.
func Realized(execs []types.Execution) decimal.Decimal {
	return NetCash(execs).Add(Commissions(execs))
}

// optionLeg keys option holdings: contracts at different strikes after a
// roll are separate legs.
type optionLeg struct {
	kind   string
	strike string
}

// Holdings derives the open position legs of a wheel from its execution
// list: net quantities per leg with volume-weighted open prices. Closed
// wheels have no holdings.
func Holdings(w *types.Wheel, execs []types.Execution) []types.Holding {
	if !w.IsOpen() {
		return nil
	}

	var holdings []types.Holding

	if shares := sharesHolding(w.Symbol, execs); shares != nil {
		holdings = append(holdings, *shares)
	}
	holdings = append(holdings, optionHoldings(w.Symbol, execs)...)
	return holdings
}

func sharesHolding(symbol string, execs []types.Execution) *types.Holding {
	net := decimal.Zero
	boughtQty := decimal.Zero
	boughtCost := decimal.Zero
	mult := decimal.NewFromInt(1)

	for i := range execs {
		e := &execs[i]
		if e.AssetKind != types.KindStock {
			continue
		}
		net = net.Add(e.Quantity)
		if e.Side == types.SideBuy {
			boughtQty = boughtQty.Add(e.Quantity)
			boughtCost = boughtCost.Add(e.Quantity.Mul(e.Price))
		}
		mult = e.Multiplier
	}

	if !net.IsPositive() {
		return nil
	}

	vwap := decimal.Zero
	if boughtQty.IsPositive() {
		vwap = boughtCost.Div(boughtQty)
	}

	return &types.Holding{
		Type:          types.HoldingShares,
		Symbol:        symbol,
		Quantity:      net,
		PurchasePrice: vwap,
		Multiplier:    mult,
	}
}

func optionHoldings(symbol string, execs []types.Execution) []types.Holding {
	type legState struct {
		net      decimal.Decimal
		soldQty  decimal.Decimal // absolute contracts sold
		soldCash decimal.Decimal // abs(qty)*price over sells
		strike   *decimal.Decimal
		kind     string
		mult     decimal.Decimal
	}

	legs := make(map[optionLeg]*legState)
	var order []optionLeg

	for i := range execs {
		e := &execs[i]
		if !e.IsOption() || e.Strike == nil {
			continue
		}
		key := optionLeg{kind: e.AssetKind, strike: e.Strike.String()}
		leg, ok := legs[key]
		if !ok {
			leg = &legState{strike: e.Strike, kind: e.AssetKind, mult: e.Multiplier}
			legs[key] = leg
			order = append(order, key)
		}
		leg.net = leg.net.Add(e.Quantity)
		if e.Side == types.SideSell {
			leg.soldQty = leg.soldQty.Add(e.Quantity.Abs())
			leg.soldCash = leg.soldCash.Add(e.Quantity.Abs().Mul(e.Price))
		}
	}

	var holdings []types.Holding
	for _, key := range order {
		leg := legs[key]
		if !leg.net.IsNegative() {
			continue // leg fully closed or net long, not a short exposure
		}
		holdingType := types.HoldingShortPut
		if leg.kind == types.KindCall {
			holdingType = types.HoldingShortCall
		}
		vwap := decimal.Zero
		if leg.soldQty.IsPositive() {
			vwap = leg.soldCash.Div(leg.soldQty)
		}
		holdings = append(holdings, types.Holding{
			Type:          holdingType,
			Symbol:        symbol,
			Strike:        leg.strike,
			Quantity:      leg.net,
			PurchasePrice: vwap,
			Multiplier:    leg.mult,
		})
	}
	return holdings
}

// PriceHoldings fills current prices and unrealized PnL in place. Holdings
// the source cannot price keep nil price fields. For long stock the
// unrealized gain is (current - open) * quantity; for short option legs a
// price decline favors the seller: (open - current) * contracts * multiplier.
func PriceHoldings(accountID string, holdings []types.Holding, src PriceSource) {
	for i := range holdings {
		h := &holdings[i]
		inst := Instrument{Symbol: h.Symbol, Strike: h.Strike}
		switch h.Type {
		case types.HoldingShares:
			inst.Kind = types.KindStock
		case types.HoldingShortPut:
			inst.Kind = types.KindPut
		case types.HoldingShortCall:
			inst.Kind = types.KindCall
		}

		price, ok := src.Price(accountID, inst)
		if !ok {
			continue
		}
		current := price
		h.CurrentPrice = &current

		var unrealized decimal.Decimal
		if h.Type == types.HoldingShares {
			unrealized = current.Sub(h.PurchasePrice).Mul(h.Quantity).Mul(h.Multiplier)
		} else {
			unrealized = h.PurchasePrice.Sub(current).Mul(h.Quantity.Abs()).Mul(h.Multiplier)
		}
		h.UnrealizedPnL = &unrealized
	}
}

// UnrealizedTotal sums unrealized PnL across holdings. The second return is
// false when no holding could be priced.
func UnrealizedTotal(holdings []types.Holding) (decimal.Decimal, bool) {
	total := decimal.Zero
	priced := false
	for i := range holdings {
		if holdings[i].UnrealizedPnL != nil {
			total = total.Add(*holdings[i].UnrealizedPnL)
			priced = true
		}
	}
	return total, priced
}
