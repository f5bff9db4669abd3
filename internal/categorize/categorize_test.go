package categorize_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheeltrack/wheeltrack-api/internal/categorize"
	"github.com/wheeltrack/wheeltrack-api/internal/types"
	"github.com/wheeltrack/wheeltrack-api/internal/wheel"
)

func putSale(id string) types.Execution {
	strike := decimal.RequireFromString("47")
	return types.Execution{
		ExecutionID: id,
		Symbol:      "AAPL",
		AssetKind:   types.KindPut,
		Side:        types.SideSell,
		Quantity:    decimal.RequireFromString("-1"),
		Price:       decimal.RequireFromString("2.00"),
		Multiplier:  decimal.NewFromInt(100),
		Strike:      &strike,
		TradeTime:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestCategorize_SuggestedActions(t *testing.T) {
	execs := []types.Execution{putSale("E1"), putSale("E2"), putSale("E3"), putSale("E4")}
	outcomes := map[string]wheel.Outcome{
		"E1": {ExecutionID: "E1", Kind: wheel.OutcomeOpened, Event: wheel.EventPutSold},
		"E2": {ExecutionID: "E2", Kind: wheel.OutcomeClosed, Event: wheel.EventPutBought},
		"E3": {ExecutionID: "E3", Kind: wheel.OutcomeContinued, Event: wheel.EventCallSold},
		"E4": {ExecutionID: "E4", Kind: wheel.OutcomeReview, Event: wheel.EventPutAssigned, Reason: "partial put assignment, verify remaining short contracts"},
	}

	trades := categorize.Categorize(execs, outcomes)
	require.Len(t, trades, 4)

	assert.Equal(t, types.ActionStartWheel, trades[0].SuggestedAction)
	assert.Equal(t, types.ActionCloseWheel, trades[1].SuggestedAction)
	assert.Equal(t, types.ActionContinueWheel, trades[2].SuggestedAction)
	assert.Equal(t, types.ActionNeedsReview, trades[3].SuggestedAction)

	assert.Equal(t, "2026-03-02", trades[0].Date)
	assert.Equal(t, wheel.EventPutSold, trades[0].Action)
	assert.Contains(t, trades[0].Details, "strike 47.00")
	assert.Equal(t, "partial put assignment, verify remaining short contracts", trades[3].Details)
}

func TestCategorize_UnassignedNeedsReview(t *testing.T) {
	execs := []types.Execution{putSale("E1")}
	outcomes := map[string]wheel.Outcome{
		"E1": {ExecutionID: "E1", Kind: wheel.OutcomeUnassigned, Event: wheel.EventSharesBought, Reason: "no open wheel for AAPL and execution is not an opening put sale"},
	}

	trades := categorize.Categorize(execs, outcomes)
	require.Len(t, trades, 1)
	assert.Equal(t, types.ActionNeedsReview, trades[0].SuggestedAction)
	assert.NotEmpty(t, trades[0].Details)
}

func TestCategorize_MissingOutcomeIsNoAction(t *testing.T) {
	trades := categorize.Categorize([]types.Execution{putSale("E1")}, nil)
	require.Len(t, trades, 1)
	assert.Equal(t, types.ActionNone, trades[0].SuggestedAction)
}
