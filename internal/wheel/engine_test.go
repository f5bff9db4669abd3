package wheel_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheeltrack/wheeltrack-api/internal/types"
	"github.com/wheeltrack/wheeltrack-api/internal/wheel"
)

const (
	testAccount = "ACC1"
	testSymbol  = "AAPL"
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func opt(id string, at time.Time, kind, qty, price, strike, notes string) types.Execution {
	strikeVal := d(strike)
	e := types.Execution{
		ExecutionID: id,
		AccountID:   testAccount,
		Symbol:      testSymbol,
		AssetKind:   kind,
		Quantity:    d(qty),
		Price:       d(price),
		Multiplier:  decimal.NewFromInt(100),
		Strike:      &strikeVal,
		Notes:       notes,
		TradeTime:   at,
	}
	if e.Quantity.IsNegative() {
		e.Side = types.SideSell
	} else {
		e.Side = types.SideBuy
	}
	return e
}

func stk(id string, at time.Time, qty, price, notes string) types.Execution {
	e := types.Execution{
		ExecutionID: id,
		AccountID:   testAccount,
		Symbol:      testSymbol,
		AssetKind:   types.KindStock,
		Quantity:    d(qty),
		Price:       d(price),
		Multiplier:  decimal.NewFromInt(1),
		Notes:       notes,
		TradeTime:   at,
	}
	if e.Quantity.IsNegative() {
		e.Side = types.SideSell
	} else {
		e.Side = types.SideBuy
	}
	return e
}

func outcomeFor(t *testing.T, result wheel.Result, execID string) wheel.Outcome {
	t.Helper()
	for _, o := range result.Outcomes {
		if o.ExecutionID == execID {
			return o
		}
	}
	t.Fatalf("no outcome for execution %s", execID)
	return wheel.Outcome{}
}

func TestRebuild_PutSaleOpensWheel(t *testing.T) {
	execs := []types.Execution{
		opt("E1", baseTime, types.KindPut, "-1", "2.00", "47", ""),
	}

	result := wheel.Rebuild(testAccount, testSymbol, execs)

	require.Len(t, result.Wheels, 1)
	w := result.Wheels[0]
	assert.Equal(t, "WHL_ACC1_AAPL_1", w.WheelID)
	assert.Equal(t, types.PhaseCSP, w.Phase)
	assert.True(t, w.IsOpen())
	assert.True(t, w.Strike.Equal(d("47")))
	assert.True(t, w.PremiumCollected.Equal(d("200")))
	assert.True(t, w.RealizedPnL.IsZero())

	o := outcomeFor(t, result, "E1")
	assert.Equal(t, wheel.OutcomeOpened, o.Kind)
	assert.Equal(t, wheel.EventPutSold, o.Event)
}

func TestRebuild_PutBuybackClosesWheel(t *testing.T) {
	sell := opt("E1", baseTime, types.KindPut, "-1", "2.00", "47", "")
	sell.Commission = d("-0.65")
	buy := opt("E2", baseTime.AddDate(0, 0, 7), types.KindPut, "1", "0.50", "47", "")
	buy.Commission = d("-0.65")

	result := wheel.Rebuild(testAccount, testSymbol, []types.Execution{sell, buy})

	require.Len(t, result.Wheels, 1)
	w := result.Wheels[0]
	assert.Equal(t, types.PhaseClosed, w.Phase)
	assert.False(t, w.IsOpen())
	require.NotNil(t, w.CloseReason)
	assert.Equal(t, types.ClosePutClosed, *w.CloseReason)
	require.NotNil(t, w.EndDate)
	assert.True(t, w.EndDate.Equal(buy.TradeTime))

	// 200 credit - 50 debit - 1.30 commissions
	assert.True(t, w.RealizedPnL.Equal(d("148.70")), "realized = %s", w.RealizedPnL)
	assert.True(t, w.PremiumCollected.Equal(d("200")))
	assert.True(t, w.Commissions.Equal(d("-1.30")))

	assert.Equal(t, wheel.OutcomeClosed, outcomeFor(t, result, "E2").Kind)
}

func TestRebuild_FullCycle(t *testing.T) {
	day := func(n int) time.Time { return baseTime.AddDate(0, 0, n) }

	execs := []types.Execution{
		opt("E1", day(0), types.KindPut, "-1", "2.00", "47", ""),
		opt("E2", day(7), types.KindPut, "1", "0", "47", "A"),
		stk("E3", day(7), "100", "47", "A"),
		opt("E4", day(10), types.KindCall, "-1", "1.50", "50", ""),
		opt("E5", day(17), types.KindCall, "1", "0", "50", "A"),
		stk("E6", day(17), "-100", "50", "A"),
	}

	result := wheel.Rebuild(testAccount, testSymbol, execs)

	require.Len(t, result.Wheels, 1)
	w := result.Wheels[0]
	assert.Equal(t, types.PhaseClosed, w.Phase)
	require.NotNil(t, w.CloseReason)
	assert.Equal(t, types.CloseFullCycle, *w.CloseReason)

	// 200 put credit + 150 call credit - 4700 assignment + 5000 called away
	assert.True(t, w.RealizedPnL.Equal(d("650")), "realized = %s", w.RealizedPnL)
	assert.True(t, w.PremiumCollected.Equal(d("350")))

	assert.Equal(t, wheel.EventPutAssigned, outcomeFor(t, result, "E2").Event)
	assert.Equal(t, wheel.EventCallAssigned, outcomeFor(t, result, "E5").Event)
	closing := outcomeFor(t, result, "E6")
	assert.Equal(t, wheel.OutcomeClosed, closing.Kind)
	assert.Equal(t, wheel.EventSharesCalled, closing.Event)

	// Every execution belongs to the single wheel
	for _, e := range execs {
		assert.Equal(t, w.WheelID, result.WheelExecs[e.ExecutionID])
	}
}

func TestRebuild_AssignmentStockLegIDSortsFirst(t *testing.T) {
	// The called-away stock sale and the call buyback share a timestamp, and
	// the stock leg's id sorts ahead of the option's. Option closes replay
	// before stock closes, so the buyback still lands inside the wheel and
	// its commission is counted.
	day := func(n int) time.Time { return baseTime.AddDate(0, 0, n) }

	execs := []types.Execution{
		opt("E1", day(0), types.KindPut, "-1", "2.00", "47", ""),
		opt("E2", day(7), types.KindPut, "1", "0", "47", "A"),
		stk("E3", day(7), "100", "47", "A"),
		opt("E4", day(10), types.KindCall, "-1", "1.50", "50", ""),
		opt("Z5", day(17), types.KindCall, "1", "0.05", "50", "A"),
		stk("A6", day(17), "-100", "50", "A"),
	}
	for i := range execs {
		execs[i].Commission = d("-0.65")
	}

	result := wheel.Rebuild(testAccount, testSymbol, execs)

	require.Len(t, result.Wheels, 1)
	w := result.Wheels[0]
	assert.Equal(t, types.PhaseClosed, w.Phase)
	require.NotNil(t, w.CloseReason)
	assert.Equal(t, types.CloseFullCycle, *w.CloseReason)

	assert.Equal(t, w.WheelID, result.WheelExecs["Z5"])
	assert.Equal(t, w.WheelID, result.WheelExecs["A6"])
	assert.Equal(t, wheel.EventCallAssigned, outcomeFor(t, result, "Z5").Event)
	assert.Equal(t, wheel.EventSharesCalled, outcomeFor(t, result, "A6").Event)

	// 350 premium - 5 buyback debit - 4700 assignment + 5000 called away,
	// plus six 0.65 commissions
	assert.True(t, w.Commissions.Equal(d("-3.90")), "commissions = %s", w.Commissions)
	assert.True(t, w.RealizedPnL.Equal(d("641.10")), "realized = %s", w.RealizedPnL)
}

func TestRebuild_AssignmentByStrikeMatch(t *testing.T) {
	// No broker assignment marker anywhere: the stock buy at the put strike
	// still moves the wheel to SHARES_HELD.
	execs := []types.Execution{
		opt("E1", baseTime, types.KindPut, "-1", "2.00", "47", ""),
		stk("E2", baseTime.AddDate(0, 0, 7), "100", "47", ""),
	}

	result := wheel.Rebuild(testAccount, testSymbol, execs)

	require.Len(t, result.Wheels, 1)
	w := result.Wheels[0]
	assert.Equal(t, types.PhaseSharesHeld, w.Phase)
	assert.True(t, w.IsOpen())
	assert.Equal(t, wheel.EventSharesViaPut, outcomeFor(t, result, "E2").Event)
}

func TestRebuild_SameDayRoll(t *testing.T) {
	// Buyback and the next put sale share a timestamp. Closes replay before
	// opens, so the first cycle ends and a second one starts, never the
	// reverse.
	rollTime := baseTime.AddDate(0, 0, 7)
	execs := []types.Execution{
		opt("E3", rollTime, types.KindPut, "-1", "2.50", "45", ""), // open, listed first on purpose
		opt("E1", baseTime, types.KindPut, "-1", "2.00", "47", ""),
		opt("E2", rollTime, types.KindPut, "1", "0.40", "47", ""), // close
	}

	result := wheel.Rebuild(testAccount, testSymbol, execs)

	require.Len(t, result.Wheels, 2)

	first, second := result.Wheels[0], result.Wheels[1]
	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, types.PhaseClosed, first.Phase)
	require.NotNil(t, first.CloseReason)
	assert.Equal(t, types.ClosePutClosed, *first.CloseReason)

	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, "WHL_ACC1_AAPL_2", second.WheelID)
	assert.Equal(t, types.PhaseCSP, second.Phase)
	assert.True(t, second.IsOpen())
	assert.True(t, second.Strike.Equal(d("45")))

	assert.Equal(t, first.WheelID, result.WheelExecs["E2"])
	assert.Equal(t, second.WheelID, result.WheelExecs["E3"])
}

func TestRebuild_UnassignedExecution(t *testing.T) {
	execs := []types.Execution{
		stk("E1", baseTime, "100", "150", ""),
		opt("E2", baseTime.AddDate(0, 0, 1), types.KindPut, "-1", "2.00", "47", ""),
	}

	result := wheel.Rebuild(testAccount, testSymbol, execs)

	o := outcomeFor(t, result, "E1")
	assert.Equal(t, wheel.OutcomeUnassigned, o.Kind)
	assert.NotEmpty(t, o.Reason)
	_, attached := result.WheelExecs["E1"]
	assert.False(t, attached, "unassigned execution must not join a wheel")

	// The later put sale still opens a wheel normally
	require.Len(t, result.Wheels, 1)
	assert.Equal(t, types.PhaseCSP, result.Wheels[0].Phase)
}

func TestRebuild_PartialAssignmentNeedsReview(t *testing.T) {
	execs := []types.Execution{
		opt("E1", baseTime, types.KindPut, "-2", "2.00", "47", ""),
		opt("E2", baseTime.AddDate(0, 0, 7), types.KindPut, "1", "0", "47", "A"),
	}

	result := wheel.Rebuild(testAccount, testSymbol, execs)

	o := outcomeFor(t, result, "E2")
	assert.Equal(t, wheel.OutcomeReview, o.Kind)
	assert.NotEmpty(t, o.Reason)

	// Phase is left untouched for a human to resolve
	require.Len(t, result.Wheels, 1)
	assert.Equal(t, types.PhaseCSP, result.Wheels[0].Phase)
	assert.True(t, result.Wheels[0].IsOpen())
}

func TestRebuild_CallBuybackKeepsShares(t *testing.T) {
	day := func(n int) time.Time { return baseTime.AddDate(0, 0, n) }

	execs := []types.Execution{
		opt("E1", day(0), types.KindPut, "-1", "2.00", "47", ""),
		opt("E2", day(7), types.KindPut, "1", "0", "47", "A"),
		stk("E3", day(7), "100", "47", "A"),
		opt("E4", day(10), types.KindCall, "-1", "1.50", "50", ""),
		opt("E5", day(14), types.KindCall, "1", "0.30", "50", ""),
	}

	result := wheel.Rebuild(testAccount, testSymbol, execs)

	require.Len(t, result.Wheels, 1)
	w := result.Wheels[0]
	assert.Equal(t, types.PhaseSharesHeld, w.Phase)
	assert.True(t, w.IsOpen())
	assert.Equal(t, wheel.EventCallBought, outcomeFor(t, result, "E5").Event)
}

func TestRebuild_DeterministicAcrossInputOrder(t *testing.T) {
	day := func(n int) time.Time { return baseTime.AddDate(0, 0, n) }

	execs := []types.Execution{
		opt("E1", day(0), types.KindPut, "-1", "2.00", "47", ""),
		opt("E2", day(7), types.KindPut, "1", "0", "47", "A"),
		stk("E3", day(7), "100", "47", "A"),
		opt("E4", day(10), types.KindCall, "-1", "1.50", "50", ""),
		opt("E5", day(17), types.KindCall, "1", "0", "50", "A"),
		stk("E6", day(17), "-100", "50", "A"),
		opt("E7", day(20), types.KindPut, "-1", "1.80", "44", ""),
	}

	forward := wheel.Rebuild(testAccount, testSymbol, execs)

	reversed := make([]types.Execution, 0, len(execs))
	for i := len(execs) - 1; i >= 0; i-- {
		reversed = append(reversed, execs[i])
	}
	backward := wheel.Rebuild(testAccount, testSymbol, reversed)

	assert.Equal(t, forward.Wheels, backward.Wheels)
	assert.Equal(t, forward.WheelExecs, backward.WheelExecs)
}

func TestRebuild_SingleOpenWheelPerSymbol(t *testing.T) {
	day := func(n int) time.Time { return baseTime.AddDate(0, 0, n) }

	execs := []types.Execution{
		opt("E1", day(0), types.KindPut, "-1", "2.00", "47", ""),
		opt("E2", day(7), types.KindPut, "1", "0.50", "47", ""),
		opt("E3", day(14), types.KindPut, "-1", "1.80", "45", ""),
		opt("E4", day(21), types.KindPut, "1", "0.40", "45", ""),
		opt("E5", day(28), types.KindPut, "-1", "1.60", "43", ""),
	}

	result := wheel.Rebuild(testAccount, testSymbol, execs)

	require.Len(t, result.Wheels, 3)
	open := 0
	for i, w := range result.Wheels {
		assert.Equal(t, i+1, w.Sequence)
		if w.IsOpen() {
			open++
		}
	}
	assert.Equal(t, 1, open)
	assert.True(t, result.Wheels[2].IsOpen())
}

func TestSortForReplay_TieBreak(t *testing.T) {
	at := baseTime
	open2 := opt("B2", at, types.KindPut, "-1", "2.50", "45", "")
	closing := opt("A1", at, types.KindPut, "1", "0.40", "47", "")
	earlier := opt("C0", at.Add(-time.Hour), types.KindPut, "-1", "2.00", "47", "")
	open1 := opt("B1", at, types.KindPut, "-1", "2.20", "46", "")

	execs := []types.Execution{open2, closing, earlier, open1}
	wheel.SortForReplay(execs)

	require.Len(t, execs, 4)
	assert.Equal(t, "C0", execs[0].ExecutionID) // earliest timestamp first
	assert.Equal(t, "A1", execs[1].ExecutionID) // close before opens
	assert.Equal(t, "B1", execs[2].ExecutionID) // then stable id order
	assert.Equal(t, "B2", execs[3].ExecutionID)
}
