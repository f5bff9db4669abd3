// Package wheel reconstructs wheel cycles from execution streams. Rebuild is
// a pure fold: given a symbol's complete execution history in replay order it
// reproduces the symbol's wheel list deterministically, which is what makes
// ingestion idempotent under overlapping sync windows.
package wheel

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wheeltrack/wheeltrack-api/internal/types"
)

// OutcomeKind classifies what an execution did to wheel state.
type OutcomeKind int

const (
	OutcomeOpened OutcomeKind = iota
	OutcomeClosed
	OutcomeContinued
	OutcomeReview     // attached to a wheel but flagged for manual review
	OutcomeUnassigned // excluded from any wheel
)

// Outcome records, per execution, the transition it caused. The categorizer
// reads outcomes; it never re-derives phases.
type Outcome struct {
	ExecutionID string
	Kind        OutcomeKind
	WheelID     string
	Event       string
	Reason      string
}

// Result is the output of replaying one symbol's execution history.
type Result struct {
	Wheels     []types.Wheel
	WheelExecs map[string]string // execution id -> wheel id
	Outcomes   []Outcome
}

// Human-facing event descriptions attached to outcomes
const (
	EventPutSold      = "Put option sold"
	EventPutBought    = "Put option bought"
	EventPutAssigned  = "Put option assigned"
	EventCallSold     = "Call option sold"
	EventCallBought   = "Call option bought"
	EventCallAssigned = "Call option assigned"
	EventSharesBought = "Stock bought"
	EventSharesSold   = "Stock sold"
	EventSharesCalled = "Shares called away"
	EventSharesViaPut = "Shares bought via put assignment"
)

// openWheel tracks the running cycle for one symbol during replay.
type openWheel struct {
	wheel        types.Wheel
	shortPutQty  decimal.Decimal // contracts, negative while short
	shortCallQty decimal.Decimal
	sharesQty    decimal.Decimal
	putStrikes   []decimal.Decimal // strikes of puts sold within this cycle
	netCash      decimal.Decimal
	premium      decimal.Decimal
	commissions  decimal.Decimal
}

// SortForReplay orders executions for deterministic replay: timestamp first,
// then closes before opens (a same-day roll is close-then-open, never
// open-then-close), then option closes before stock closes (an assignment
// books the option buyback and the share fill at the same instant, and the
// share fill is what ends the wheel), then execution id as a stable final key.
func SortForReplay(execs []types.Execution) {
	sort.SliceStable(execs, func(i, j int) bool {
		a, b := &execs[i], &execs[j]
		if !a.TradeTime.Equal(b.TradeTime) {
			return a.TradeTime.Before(b.TradeTime)
		}
		if a.IsClosing() != b.IsClosing() {
			return a.IsClosing()
		}
		if a.IsClosing() && a.IsOption() != b.IsOption() {
			return a.IsOption()
		}
		return a.ExecutionID < b.ExecutionID
	})
}

// Rebuild replays a symbol's full execution history and returns the wheel
// set it implies. The input may be in any order.
func Rebuild(accountID, symbol string, execs []types.Execution) Result {
	ordered := make([]types.Execution, len(execs))
	copy(ordered, execs)
	SortForReplay(ordered)

	r := replay{
		accountID: accountID,
		symbol:    symbol,
		execs:     ordered,
		result: Result{
			WheelExecs: make(map[string]string),
		},
	}
	r.run()
	return r.result
}

type replay struct {
	accountID string
	symbol    string
	execs     []types.Execution
	open      *openWheel
	sequence  int
	result    Result
}

func (r *replay) run() {
	for i := range r.execs {
		r.apply(i)
	}
	if r.open != nil {
		r.finish(r.open)
	}
}

func (r *replay) apply(i int) {
	e := &r.execs[i]

	if r.open == nil {
		if e.AssetKind == types.KindPut && e.Side == types.SideSell {
			r.openNew(e)
			return
		}
		// Rule for out-of-order or unexpected broker data: report, never
		// fail the batch, never mutate wheel state.
		r.result.Outcomes = append(r.result.Outcomes, Outcome{
			ExecutionID: e.ExecutionID,
			Kind:        OutcomeUnassigned,
			Event:       Describe(e),
			Reason:      fmt.Sprintf("no open wheel for %s and execution is not an opening put sale", r.symbol),
		})
		return
	}

	r.attach(e)

	switch {
	case e.AssetKind == types.KindPut && e.Side == types.SideSell:
		r.open.shortPutQty = r.open.shortPutQty.Add(e.Quantity)
		if e.Strike != nil {
			r.open.putStrikes = append(r.open.putStrikes, *e.Strike)
		}
		r.continued(e, EventPutSold)

	case e.AssetKind == types.KindPut && e.Side == types.SideBuy:
		r.applyPutBuy(i, e)

	case e.AssetKind == types.KindCall && e.Side == types.SideSell:
		r.open.shortCallQty = r.open.shortCallQty.Add(e.Quantity)
		if r.open.wheel.Phase == types.PhaseSharesHeld {
			r.open.wheel.Phase = types.PhaseCoveredCall
		}
		r.continued(e, EventCallSold)

	case e.AssetKind == types.KindCall && e.Side == types.SideBuy:
		r.applyCallBuy(i, e)

	case e.AssetKind == types.KindStock && e.Side == types.SideBuy:
		r.applyStockBuy(e)

	case e.AssetKind == types.KindStock && e.Side == types.SideSell:
		r.applyStockSell(e)
	}
}

func (r *replay) applyPutBuy(i int, e *types.Execution) {
	r.open.shortPutQty = r.open.shortPutQty.Add(e.Quantity)
	fullyOffset := !r.open.shortPutQty.IsNegative()
	assigned := e.Assigned() || r.assignmentStockNearby(i, e, types.SideBuy)

	switch {
	case assigned && !fullyOffset:
		// Fewer contracts assigned than sold. Broker semantics for partial
		// assignment are not fully settled, so keep the phase and ask a
		// human to look.
		r.review(e, EventPutAssigned, "partial put assignment, verify remaining short contracts")
	case assigned:
		r.open.wheel.Phase = types.PhaseSharesHeld
		r.continued(e, EventPutAssigned)
	case fullyOffset && r.cycleFlat():
		r.closeOpen(e, types.ClosePutClosed, EventPutBought)
	default:
		r.continued(e, EventPutBought)
	}
}

func (r *replay) applyCallBuy(i int, e *types.Execution) {
	r.open.shortCallQty = r.open.shortCallQty.Add(e.Quantity)
	fullyOffset := !r.open.shortCallQty.IsNegative()
	calledAway := e.Assigned() || r.assignmentStockNearby(i, e, types.SideSell)

	switch {
	case calledAway:
		// The accompanying stock sale carries the close: the wheel ends
		// when the share position is actually reduced to zero.
		r.continued(e, EventCallAssigned)
	case fullyOffset && r.open.wheel.Phase == types.PhaseCoveredCall:
		r.open.wheel.Phase = types.PhaseSharesHeld
		r.continued(e, EventCallBought)
	default:
		r.continued(e, EventCallBought)
	}
}

func (r *replay) applyStockBuy(e *types.Execution) {
	r.open.sharesQty = r.open.sharesQty.Add(e.Quantity)

	if r.open.wheel.Phase == types.PhaseCSP && (e.Assigned() || r.priceMatchesPutStrike(e)) {
		r.open.wheel.Phase = types.PhaseSharesHeld
		r.continued(e, EventSharesViaPut)
		return
	}
	r.continued(e, EventSharesBought)
}

func (r *replay) applyStockSell(e *types.Execution) {
	r.open.sharesQty = r.open.sharesQty.Add(e.Quantity)

	if r.open.wheel.Phase == types.PhaseCoveredCall && !r.open.sharesQty.IsPositive() {
		r.closeOpen(e, types.CloseFullCycle, EventSharesCalled)
		return
	}
	r.continued(e, EventSharesSold)
}

// assignmentStockNearby scans the replay window for a stock fill on the same
// date that offsets the option being closed: a BUY at a put strike, or a
// SELL at a call strike. This is how assignments without explicit broker
// markers are recognized.
func (r *replay) assignmentStockNearby(i int, opt *types.Execution, stockSide string) bool {
	if opt.Strike == nil {
		return false
	}
	day := opt.TradeTime.Truncate(24 * time.Hour)
	for j := range r.execs {
		if j == i {
			continue
		}
		other := &r.execs[j]
		if other.AssetKind != types.KindStock || other.Side != stockSide {
			continue
		}
		if !other.TradeTime.Truncate(24 * time.Hour).Equal(day) {
			continue
		}
		if other.Price.Equal(*opt.Strike) || other.Assigned() {
			return true
		}
	}
	return false
}

func (r *replay) priceMatchesPutStrike(e *types.Execution) bool {
	for _, strike := range r.open.putStrikes {
		if e.Price.Equal(strike) {
			return true
		}
	}
	return false
}

// cycleFlat reports whether the open wheel holds no shares and no short
// call, i.e. buying back the final put genuinely ends the cycle.
func (r *replay) cycleFlat() bool {
	return !r.open.sharesQty.IsPositive() && !r.open.shortCallQty.IsNegative()
}

func (r *replay) openNew(e *types.Execution) {
	r.sequence++
	w := types.Wheel{
		WheelID:   fmt.Sprintf("WHL_%s_%s_%d", r.accountID, r.symbol, r.sequence),
		AccountID: r.accountID,
		Symbol:    r.symbol,
		Sequence:  r.sequence,
		Phase:     types.PhaseCSP,
		StartDate: e.TradeTime,
	}
	if e.Strike != nil {
		w.Strike = *e.Strike
	}

	r.open = &openWheel{wheel: w, shortPutQty: e.Quantity}
	if e.Strike != nil {
		r.open.putStrikes = []decimal.Decimal{*e.Strike}
	}
	r.accumulate(e)
	r.result.WheelExecs[e.ExecutionID] = w.WheelID
	r.result.Outcomes = append(r.result.Outcomes, Outcome{
		ExecutionID: e.ExecutionID,
		Kind:        OutcomeOpened,
		WheelID:     w.WheelID,
		Event:       EventPutSold,
	})
}

func (r *replay) attach(e *types.Execution) {
	r.accumulate(e)
	r.result.WheelExecs[e.ExecutionID] = r.open.wheel.WheelID
}

// accumulate folds an execution into the wheel's money aggregates. Net cash
// per fill is -quantity*price*multiplier: selling (negative quantity) brings
// cash in, buying pays it out.
func (r *replay) accumulate(e *types.Execution) {
	cash := e.Quantity.Mul(e.Price).Mul(e.Multiplier).Neg()
	r.open.netCash = r.open.netCash.Add(cash)
	r.open.commissions = r.open.commissions.Add(e.Commission)
	if e.IsOption() && e.Side == types.SideSell {
		r.open.premium = r.open.premium.Add(cash)
	}
}

func (r *replay) continued(e *types.Execution, event string) {
	r.result.Outcomes = append(r.result.Outcomes, Outcome{
		ExecutionID: e.ExecutionID,
		Kind:        OutcomeContinued,
		WheelID:     r.open.wheel.WheelID,
		Event:       event,
	})
}

func (r *replay) review(e *types.Execution, event, reason string) {
	r.result.Outcomes = append(r.result.Outcomes, Outcome{
		ExecutionID: e.ExecutionID,
		Kind:        OutcomeReview,
		WheelID:     r.open.wheel.WheelID,
		Event:       event,
		Reason:      reason,
	})
}

func (r *replay) closeOpen(e *types.Execution, reason, event string) {
	end := e.TradeTime
	r.open.wheel.Phase = types.PhaseClosed
	r.open.wheel.EndDate = &end
	closeReason := reason
	r.open.wheel.CloseReason = &closeReason

	r.result.Outcomes = append(r.result.Outcomes, Outcome{
		ExecutionID: e.ExecutionID,
		Kind:        OutcomeClosed,
		WheelID:     r.open.wheel.WheelID,
		Event:       event,
	})

	r.finish(r.open)
	r.open = nil
}

// finish seals the wheel's money aggregates. Realized PnL is recorded for
// closed wheels only; it equals net cash plus commissions, which by
// construction satisfies premium - costs + stock leg gain/loss.
func (r *replay) finish(ow *openWheel) {
	ow.wheel.PremiumCollected = ow.premium
	ow.wheel.Commissions = ow.commissions
	if !ow.wheel.IsOpen() {
		ow.wheel.RealizedPnL = ow.netCash.Add(ow.commissions)
	}
	r.result.Wheels = append(r.result.Wheels, ow.wheel)
}

// Describe names what an execution is in the original trade-log register,
// independent of any wheel context.
func Describe(e *types.Execution) string {
	switch {
	case e.AssetKind == types.KindPut && e.Side == types.SideSell:
		return EventPutSold
	case e.AssetKind == types.KindPut:
		return EventPutBought
	case e.AssetKind == types.KindCall && e.Side == types.SideSell:
		return EventCallSold
	case e.AssetKind == types.KindCall:
		return EventCallBought
	case e.Side == types.SideBuy:
		return EventSharesBought
	default:
		return EventSharesSold
	}
}
