package types

import (
	"github.com/wheeltrack/wheeltrack-api/pkg/money"
)

// Suggested actions attached to newly synced executions
const (
	ActionStartWheel    = "Start New Wheel"
	ActionCloseWheel    = "Close Open Wheel"
	ActionContinueWheel = "Continue Wheel"
	ActionNeedsReview   = "Needs Review"
	ActionNone          = "No Action"
)

// CategorizedTrade is a report entry produced for each execution of a sync
// batch. It is never persisted.
type CategorizedTrade struct {
	Date            string `json:"date"`
	Symbol          string `json:"symbol"`
	Action          string `json:"action"`
	SuggestedAction string `json:"suggested_action"`
	Details         string `json:"details"`
}

// SyncResponse is the payload returned by a successful sync.
type SyncResponse struct {
	Status            string             `json:"status"`
	Count             int                `json:"count"`
	Malformed         int                `json:"malformed,omitempty"`
	CategorizedTrades []CategorizedTrade `json:"categorized_trades"`
}

// HoldingView is the wire shape of one open position leg.
type HoldingView struct {
	Type          string       `json:"type"`
	Symbol        string       `json:"symbol"`
	Strike        string       `json:"strike,omitempty"`
	Quantity      float64      `json:"quantity"`
	PurchasePrice money.Amount `json:"purchasePrice"`
	CurrentPrice  money.Amount `json:"currentPrice"`
	UnrealizedPnL money.Amount `json:"unrealizedPnl"`
}

// WheelTradeView is one execution as shown inside a wheel summary.
type WheelTradeView struct {
	Date     string       `json:"date"`
	Action   string       `json:"action"`
	Details  string       `json:"details"`
	Type     string       `json:"type"`
	Quantity float64      `json:"quantity"`
	Price    money.Amount `json:"price"`
}

// WheelSummary is the wire shape of one wheel cycle.
type WheelSummary struct {
	WheelNum         int              `json:"wheelNum"`
	Symbol           string           `json:"symbol"`
	Strike           string           `json:"strike"`
	StartDate        string           `json:"startDate"`
	EndDate          string           `json:"endDate,omitempty"`
	IsOpen           bool             `json:"isOpen"`
	Phase            string           `json:"phase"`
	CloseReason      string           `json:"closeReason,omitempty"`
	Comm             money.Amount     `json:"comm"`
	PremiumCollected money.Amount     `json:"premiumCollected"`
	UnrealizedPnL    money.Amount     `json:"unrealizedPnl"`
	CurrentPnL       money.Amount     `json:"currentPnl"`
	PnL              money.Amount     `json:"pnl"`
	Holdings         []HoldingView    `json:"holdings"`
	Trades           []WheelTradeView `json:"trades"`
}

// HistoryEntry is one execution in the flat history listing.
type HistoryEntry struct {
	Date    string       `json:"date"`
	Symbol  string       `json:"symbol"`
	Details string       `json:"details"`
	Qty     float64      `json:"qty"`
	Price   money.Amount `json:"price"`
	Comm    money.Amount `json:"comm"`
}
