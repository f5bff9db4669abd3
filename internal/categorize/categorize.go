// Package categorize turns state-machine outcomes for a freshly synced batch
// into human-facing suggested actions. It is a labeling pass over already
// computed state and performs no mutation of its own.
package categorize

import (
	"fmt"

	"github.com/wheeltrack/wheeltrack-api/internal/types"
	"github.com/wheeltrack/wheeltrack-api/internal/wheel"
)

// Categorize labels the new executions of a sync batch using the outcomes
// the state machine produced during the rebuild. Executions the rebuild did
// not see (pure duplicates absorbed by dedup) get no entry.
func Categorize(newExecs []types.Execution, outcomes map[string]wheel.Outcome) []types.CategorizedTrade {
	trades := make([]types.CategorizedTrade, 0, len(newExecs))

	for i := range newExecs {
		e := &newExecs[i]
		outcome, ok := outcomes[e.ExecutionID]
		if !ok {
			trades = append(trades, types.CategorizedTrade{
				Date:            e.TradeTime.Format("2006-01-02"),
				Symbol:          e.Symbol,
				Action:          wheel.Describe(e),
				SuggestedAction: types.ActionNone,
				Details:         "duplicate of an already ingested execution",
			})
			continue
		}

		trades = append(trades, types.CategorizedTrade{
			Date:            e.TradeTime.Format("2006-01-02"),
			Symbol:          e.Symbol,
			Action:          outcome.Event,
			SuggestedAction: suggest(outcome),
			Details:         details(e, outcome),
		})
	}

	return trades
}

func suggest(o wheel.Outcome) string {
	switch o.Kind {
	case wheel.OutcomeOpened:
		return types.ActionStartWheel
	case wheel.OutcomeClosed:
		return types.ActionCloseWheel
	case wheel.OutcomeContinued:
		return types.ActionContinueWheel
	default:
		return types.ActionNeedsReview
	}
}

func details(e *types.Execution, o wheel.Outcome) string {
	if o.Reason != "" {
		return o.Reason
	}
	if e.Strike != nil {
		return fmt.Sprintf("%s %s %s @ %s, strike %s",
			e.Side, e.Quantity.Abs().String(), e.AssetKind, e.Price.StringFixed(2), e.Strike.StringFixed(2))
	}
	return fmt.Sprintf("%s %s %s @ %s",
		e.Side, e.Quantity.Abs().String(), e.AssetKind, e.Price.StringFixed(2))
}
