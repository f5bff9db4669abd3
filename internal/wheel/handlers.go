package wheel

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/wheeltrack/wheeltrack-api/internal/pnl"
	"github.com/wheeltrack/wheeltrack-api/internal/types"
	"github.com/wheeltrack/wheeltrack-api/pkg/money"
	"github.com/wheeltrack/wheeltrack-api/pkg/response"
)

const dateFormat = "2006-01-02"

// GinHandlers contains HTTP handlers for wheel and history endpoints
type GinHandlers struct {
	db     *Database
	prices pnl.PriceSource
}

// NewGinHandlers creates a new set of HTTP handlers for wheel endpoints
func NewGinHandlers(db *Database, prices pnl.PriceSource) *GinHandlers {
	return &GinHandlers{db: db, prices: prices}
}

// WheelSummaryHandler handles GET requests for the account's wheel list,
// newest cycles first, with holdings and per-trade detail.
func (h *GinHandlers) WheelSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")
		if accountID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		wheels, err := h.db.GetWheels(accountID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		summaries := make([]types.WheelSummary, 0, len(wheels))
		for i := range wheels {
			summary, err := h.summarize(accountID, &wheels[i])
			if err != nil {
				log.Error().Err(err).Str("wheel_id", wheels[i].WheelID).Msg("failed to summarize wheel")
				response.InternalError(c, err.Error())
				return
			}
			summaries = append(summaries, *summary)
		}

		response.Success(c, summaries)
	}
}

func (h *GinHandlers) summarize(accountID string, w *types.Wheel) (*types.WheelSummary, error) {
	execs, err := h.db.GetWheelExecutions(w.WheelID)
	if err != nil {
		return nil, err
	}

	summary := &types.WheelSummary{
		WheelNum:         w.Sequence,
		Symbol:           w.Symbol,
		Strike:           "$" + w.Strike.StringFixed(2),
		StartDate:        w.StartDate.Format(dateFormat),
		IsOpen:           w.IsOpen(),
		Phase:            w.Phase,
		Comm:             money.FromDecimal(w.Commissions),
		PremiumCollected: money.FromDecimal(w.PremiumCollected),
		Holdings:         []types.HoldingView{},
		Trades:           make([]types.WheelTradeView, 0, len(execs)),
	}
	if w.EndDate != nil {
		summary.EndDate = w.EndDate.Format(dateFormat)
	}
	if w.CloseReason != nil {
		summary.CloseReason = *w.CloseReason
	}

	for i := range execs {
		e := &execs[i]
		summary.Trades = append(summary.Trades, types.WheelTradeView{
			Date:     e.TradeTime.Format(dateFormat),
			Action:   Describe(e),
			Details:  executionDetails(e),
			Type:     e.AssetKind,
			Quantity: e.Quantity.InexactFloat64(),
			Price:    money.FromDecimal(e.Price),
		})
	}

	if !w.IsOpen() {
		summary.PnL = money.FromDecimal(w.RealizedPnL)
		summary.CurrentPnL = summary.PnL
		summary.UnrealizedPnL = money.Unpriced()
		return summary, nil
	}

	holdings := pnl.Holdings(w, execs)
	pnl.PriceHoldings(accountID, holdings, h.prices)
	for i := range holdings {
		summary.Holdings = append(summary.Holdings, holdingView(&holdings[i]))
	}

	cashSoFar := pnl.Realized(execs)
	summary.PnL = money.FromDecimal(cashSoFar)

	if unrealized, priced := pnl.UnrealizedTotal(holdings); priced {
		summary.UnrealizedPnL = money.FromDecimal(unrealized)
		summary.CurrentPnL = money.FromDecimal(cashSoFar.Add(unrealized))
	} else {
		summary.UnrealizedPnL = money.Unpriced()
		summary.CurrentPnL = money.Unpriced()
	}

	return summary, nil
}

func holdingView(h *types.Holding) types.HoldingView {
	view := types.HoldingView{
		Type:          h.Type,
		Symbol:        h.Symbol,
		Quantity:      h.Quantity.InexactFloat64(),
		PurchasePrice: money.FromDecimal(h.PurchasePrice),
		CurrentPrice:  money.Unpriced(),
		UnrealizedPnL: money.Unpriced(),
	}
	if h.Strike != nil {
		view.Strike = "$" + h.Strike.StringFixed(2)
	}
	if h.CurrentPrice != nil {
		view.CurrentPrice = money.FromDecimal(*h.CurrentPrice)
	}
	if h.UnrealizedPnL != nil {
		view.UnrealizedPnL = money.FromDecimal(*h.UnrealizedPnL)
	}
	return view
}

// HistoryHandler handles GET requests for the flat execution list,
// newest first.
func (h *GinHandlers) HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")
		if accountID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		execs, err := h.db.GetHistory(accountID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		entries := make([]types.HistoryEntry, 0, len(execs))
		for i := range execs {
			e := &execs[i]
			entries = append(entries, types.HistoryEntry{
				Date:    e.TradeTime.Format(dateFormat),
				Symbol:  e.Symbol,
				Details: executionDetails(e),
				Qty:     e.Quantity.InexactFloat64(),
				Price:   money.FromDecimal(e.Price),
				Comm:    money.FromDecimal(e.Commission),
			})
		}

		response.Success(c, entries)
	}
}

func executionDetails(e *types.Execution) string {
	if e.Strike != nil {
		expiry := ""
		if e.Expiry != nil {
			expiry = " exp " + e.Expiry.Format(dateFormat)
		}
		return fmt.Sprintf("%s %s %s%s", e.Strike.StringFixed(2), e.AssetKind, e.Side, expiry)
	}
	return fmt.Sprintf("%s %s", e.AssetKind, e.Side)
}
