// Package ingest normalizes raw broker execution records into the canonical
// Execution shape. Anything that cannot be mapped is rejected here so that
// downstream code never branches on broker-specific fields.
package ingest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wheeltrack/wheeltrack-api/internal/broker"
	"github.com/wheeltrack/wheeltrack-api/internal/types"
)

// BatchResult is the outcome of normalizing one raw statement batch.
type BatchResult struct {
	Executions []types.Execution
	Malformed  int
	Skipped    int // excluded symbols, cash lines, within-batch duplicates
}

// Normalizer converts raw broker records into canonical executions.
type Normalizer struct {
	accountID string
	exclude   map[string]bool
}

// NewNormalizer creates a normalizer for one account. Symbols in exclude are
// dropped at the boundary before any state is touched.
func NewNormalizer(accountID string, excludeSymbols []string) *Normalizer {
	exclude := make(map[string]bool, len(excludeSymbols))
	for _, s := range excludeSymbols {
		exclude[s] = true
	}
	return &Normalizer{accountID: accountID, exclude: exclude}
}

// NormalizeBatch maps a raw statement batch into canonical executions.
// Malformed records are counted and skipped, never fatal. Duplicate
// execution ids within the batch collapse to the first occurrence; duplicates
// against previously ingested executions are absorbed later by the store's
// unique index.
func (n *Normalizer) NormalizeBatch(raws []broker.RawExecution) BatchResult {
	var result BatchResult
	seen := make(map[string]bool, len(raws))

	for i := range raws {
		raw := &raws[i]
		if raw.AssetCategory == "CASH" || n.exclude[raw.Symbol] {
			result.Skipped++
			continue
		}

		exec, err := n.Normalize(raw)
		if err != nil {
			result.Malformed++
			continue
		}
		if seen[exec.ExecutionID] {
			result.Skipped++
			continue
		}
		seen[exec.ExecutionID] = true
		result.Executions = append(result.Executions, *exec)
	}

	return result
}

// Normalize maps a single raw record into a canonical execution, or fails
// with MalformedExecution when a required field is missing or non-numeric.
func (n *Normalizer) Normalize(raw *broker.RawExecution) (*types.Execution, error) {
	if raw.Symbol == "" {
		return nil, fmt.Errorf("%w: missing symbol", types.ErrMalformedExecution)
	}

	kind, err := classifyKind(raw)
	if err != nil {
		return nil, err
	}

	quantity, err := requireDecimal("quantity", raw.Quantity)
	if err != nil {
		return nil, err
	}
	if quantity.IsZero() {
		return nil, fmt.Errorf("%w: zero quantity", types.ErrMalformedExecution)
	}

	price, err := requireDecimal("price", raw.TradePrice)
	if err != nil {
		return nil, err
	}

	commission := optionalDecimal(raw.IBCommission, decimal.Zero)
	if commission.IsPositive() {
		// Commission is always a cost.
		commission = commission.Neg()
	}

	defaultMult := decimal.NewFromInt(1)
	if kind != types.KindStock {
		defaultMult = decimal.NewFromInt(100)
	}
	multiplier := optionalDecimal(raw.Multiplier, defaultMult)

	tradeTime, err := parseTradeTime(raw.TradeDate, raw.TradeTime)
	if err != nil {
		return nil, err
	}

	exec := &types.Execution{
		ExecutionID: executionID(raw),
		AccountID:   n.accountID,
		Symbol:      raw.Symbol,
		AssetKind:   kind,
		Quantity:    quantity,
		Price:       price,
		Commission:  commission,
		Multiplier:  multiplier,
		Notes:       raw.Notes,
		TradeTime:   tradeTime,
	}

	if quantity.IsNegative() {
		exec.Side = types.SideSell
	} else {
		exec.Side = types.SideBuy
	}

	if kind != types.KindStock {
		strike, err := requireDecimal("strike", raw.Strike)
		if err != nil {
			return nil, err
		}
		exec.Strike = &strike
		if raw.Expiry != "" {
			if expiry, err := time.Parse("20060102", raw.Expiry); err == nil {
				exec.Expiry = &expiry
			}
		}
	}

	return exec, nil
}

// NormalizePositions maps raw open-position marks into snapshot rows,
// dropping anything unparseable.
func (n *Normalizer) NormalizePositions(raws []broker.RawPosition) []types.PositionSnapshot {
	snapshots := make([]types.PositionSnapshot, 0, len(raws))
	for i := range raws {
		raw := &raws[i]
		if raw.Symbol == "" || n.exclude[raw.Symbol] {
			continue
		}
		mark, err := decimal.NewFromString(raw.MarkPrice)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, types.PositionSnapshot{
			AccountID:  n.accountID,
			Symbol:     raw.Symbol,
			Position:   optionalDecimal(raw.Position, decimal.Zero),
			MarkPrice:  mark,
			Multiplier: optionalDecimal(raw.Multiplier, decimal.NewFromInt(1)),
		})
	}
	return snapshots
}

func classifyKind(raw *broker.RawExecution) (string, error) {
	switch raw.AssetCategory {
	case "STK":
		return types.KindStock, nil
	case "OPT":
		switch raw.PutCall {
		case "P":
			return types.KindPut, nil
		case "C":
			return types.KindCall, nil
		}
		return "", fmt.Errorf("%w: option without put/call marker", types.ErrMalformedExecution)
	}
	return "", fmt.Errorf("%w: unknown asset category %q", types.ErrMalformedExecution, raw.AssetCategory)
}

// executionID prefers the broker's trade id and falls back to a fingerprint
// of the fill, matching how re-synced overlapping windows are deduplicated.
func executionID(raw *broker.RawExecution) string {
	if raw.TradeID != "" {
		return raw.TradeID
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s", raw.TradeDate, raw.Symbol, raw.Quantity, raw.TradePrice, raw.Strike)
}

func requireDecimal(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("%w: missing %s", types.ErrMalformedExecution, field)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: non-numeric %s %q", types.ErrMalformedExecution, field, value)
	}
	return d, nil
}

func optionalDecimal(value string, fallback decimal.Decimal) decimal.Decimal {
	if value == "" {
		return fallback
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseTradeTime(date, clock string) (time.Time, error) {
	if date == "" {
		return time.Time{}, fmt.Errorf("%w: missing trade date", types.ErrMalformedExecution)
	}
	if clock != "" {
		if t, err := time.Parse("20060102;150405", date+";"+clock); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse("20060102", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unparseable trade date %q", types.ErrMalformedExecution, date)
	}
	return t, nil
}
