// Package analytics derives rollups from the wheel set. Every figure is a
// deterministic pure function of the wheels and their executions; there is
// no hidden state and nothing here mutates anything.
package analytics

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wheeltrack/wheeltrack-api/internal/types"
	"github.com/wheeltrack/wheeltrack-api/pkg/money"
)

const monthKey = "2006-01"

// Report is the full analytics payload.
type Report struct {
	Overview     Overview        `json:"overview"`
	Monthly      []MonthlyBucket `json:"monthly"`
	Symbols      []SymbolRollup  `json:"symbols"`
	CloseReasons map[string]int  `json:"close_reasons"`
}

// Overview mirrors the headline numbers of the wheel set.
type Overview struct {
	TotalWheels      int          `json:"total_wheels"`
	OpenWheels       int          `json:"open_wheels"`
	ClosedWheels     int          `json:"closed_wheels"`
	WinRate          float64      `json:"win_rate"` // closed wheels with realized PnL >= 0 / closed wheels
	BestPnL          money.Amount `json:"best_pnl"`
	WorstPnL         money.Amount `json:"worst_pnl"`
	AveragePnL       money.Amount `json:"average_pnl"`
	TotalRealizedPnL money.Amount `json:"total_realized_pnl"`
	TotalPremiums    money.Amount `json:"total_premiums"`
	TotalCommissions money.Amount `json:"total_commissions"`
	AvgHoldDays      float64      `json:"avg_hold_days"` // closed wheels only
}

// MonthlyBucket groups premium, realized PnL and cycle counts by month.
type MonthlyBucket struct {
	Month   string       `json:"month"` // YYYY-MM
	Premium money.Amount `json:"premium"`
	PnL     money.Amount `json:"pnl"`
	Opened  int          `json:"opened"`
	Closed  int          `json:"closed"`

	premiumAcc decimal.Decimal
	pnlAcc     decimal.Decimal
}

// SymbolRollup mirrors the overview fields for one symbol.
type SymbolRollup struct {
	Symbol           string       `json:"symbol"`
	TotalWheels      int          `json:"total_wheels"`
	OpenWheels       int          `json:"open_wheels"`
	ClosedWheels     int          `json:"closed_wheels"`
	WinRate          float64      `json:"win_rate"`
	TotalRealizedPnL money.Amount `json:"total_realized_pnl"`
	TotalPremiums    money.Amount `json:"total_premiums"`
	TotalCommissions money.Amount `json:"total_commissions"`
}

// Close-reason histogram keys; open wheels count under "open".
const reasonOpen = "open"

// Aggregate folds the wheel set into the analytics report. execsByWheel
// supplies each wheel's execution list for the monthly premium buckets.
func Aggregate(wheels []types.Wheel, execsByWheel map[string][]types.Execution) Report {
	report := Report{
		CloseReasons: map[string]int{
			reasonOpen:           0,
			types.CloseFullCycle: 0,
			types.ClosePutClosed: 0,
		},
	}

	months := make(map[string]*MonthlyBucket)
	symbols := make(map[string]*symbolAcc)

	var closedPnL []decimal.Decimal
	var wins int
	var holdDaysSum float64
	totalPnL := decimal.Zero
	totalPrem := decimal.Zero
	totalComm := decimal.Zero

	for i := range wheels {
		w := &wheels[i]
		report.Overview.TotalWheels++
		totalPrem = totalPrem.Add(w.PremiumCollected)
		totalComm = totalComm.Add(w.Commissions)

		sym := symbolOf(symbols, w.Symbol)
		sym.total++
		sym.premiums = sym.premiums.Add(w.PremiumCollected)
		sym.commissions = sym.commissions.Add(w.Commissions)

		monthOf(months, w.StartDate.Format(monthKey)).Opened++

		for _, e := range execsByWheel[w.WheelID] {
			if e.IsOption() && e.Side == types.SideSell {
				bucket := monthOf(months, e.TradeTime.Format(monthKey))
				credit := e.Quantity.Mul(e.Price).Mul(e.Multiplier).Neg()
				bucket.premiumAcc = bucket.premiumAcc.Add(credit)
			}
		}

		if w.IsOpen() {
			report.Overview.OpenWheels++
			report.CloseReasons[reasonOpen]++
			sym.open++
			continue
		}

		report.Overview.ClosedWheels++
		sym.closed++
		if w.CloseReason != nil {
			report.CloseReasons[*w.CloseReason]++
		}

		closedPnL = append(closedPnL, w.RealizedPnL)
		totalPnL = totalPnL.Add(w.RealizedPnL)
		sym.realized = sym.realized.Add(w.RealizedPnL)
		if !w.RealizedPnL.IsNegative() {
			wins++
			sym.wins++
		}

		bucket := monthOf(months, w.EndDate.Format(monthKey))
		bucket.Closed++
		bucket.pnlAcc = bucket.pnlAcc.Add(w.RealizedPnL)

		holdDaysSum += w.EndDate.Sub(w.StartDate).Hours() / 24
	}

	report.Overview.TotalRealizedPnL = money.FromDecimal(totalPnL)
	report.Overview.TotalPremiums = money.FromDecimal(totalPrem)
	report.Overview.TotalCommissions = money.FromDecimal(totalComm)
	report.Overview.BestPnL = money.FromDecimal(maxOf(closedPnL))
	report.Overview.WorstPnL = money.FromDecimal(minOf(closedPnL))
	report.Overview.AveragePnL = money.FromDecimal(avgOf(closedPnL))
	if n := report.Overview.ClosedWheels; n > 0 {
		report.Overview.WinRate = float64(wins) / float64(n)
		report.Overview.AvgHoldDays = holdDaysSum / float64(n)
	}

	report.Monthly = sortedMonths(months)
	report.Symbols = sortedSymbols(symbols)
	return report
}

// AggregateFromStore is a convenience wrapper computing the report for an
// account from persisted wheels.
func AggregateFromStore(wheels []types.Wheel, fetch func(wheelID string) ([]types.Execution, error)) (Report, error) {
	execsByWheel := make(map[string][]types.Execution, len(wheels))
	for i := range wheels {
		execs, err := fetch(wheels[i].WheelID)
		if err != nil {
			return Report{}, err
		}
		execsByWheel[wheels[i].WheelID] = execs
	}
	return Aggregate(wheels, execsByWheel), nil
}

type symbolAcc struct {
	total, open, closed, wins int
	realized                  decimal.Decimal
	premiums                  decimal.Decimal
	commissions               decimal.Decimal
}

func symbolOf(m map[string]*symbolAcc, symbol string) *symbolAcc {
	if acc, ok := m[symbol]; ok {
		return acc
	}
	acc := &symbolAcc{}
	m[symbol] = acc
	return acc
}

func monthOf(m map[string]*MonthlyBucket, key string) *MonthlyBucket {
	if b, ok := m[key]; ok {
		return b
	}
	b := &MonthlyBucket{Month: key}
	m[key] = b
	return b
}

func sortedMonths(m map[string]*MonthlyBucket) []MonthlyBucket {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]MonthlyBucket, 0, len(keys))
	for _, k := range keys {
		b := m[k]
		b.Premium = money.FromDecimal(b.premiumAcc)
		b.PnL = money.FromDecimal(b.pnlAcc)
		out = append(out, *b)
	}
	return out
}

func sortedSymbols(m map[string]*symbolAcc) []SymbolRollup {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]SymbolRollup, 0, len(keys))
	for _, k := range keys {
		acc := m[k]
		rollup := SymbolRollup{
			Symbol:           k,
			TotalWheels:      acc.total,
			OpenWheels:       acc.open,
			ClosedWheels:     acc.closed,
			TotalRealizedPnL: money.FromDecimal(acc.realized),
			TotalPremiums:    money.FromDecimal(acc.premiums),
			TotalCommissions: money.FromDecimal(acc.commissions),
		}
		if acc.closed > 0 {
			rollup.WinRate = float64(acc.wins) / float64(acc.closed)
		}
		out = append(out, rollup)
	}
	return out
}

func maxOf(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	best := values[0]
	for _, v := range values[1:] {
		if v.GreaterThan(best) {
			best = v
		}
	}
	return best
}

func minOf(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	worst := values[0]
	for _, v := range values[1:] {
		if v.LessThan(worst) {
			worst = v
		}
	}
	return worst
}

func avgOf(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total.Div(decimal.NewFromInt(int64(len(values))))
}
