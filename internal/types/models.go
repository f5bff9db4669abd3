package types

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Instrument kinds for canonical executions
const (
	KindStock = "STOCK"
	KindPut   = "PUT"
	KindCall  = "CALL"
)

// Execution sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Wheel phases
const (
	PhaseCSP         = "CSP"
	PhaseSharesHeld  = "SHARES_HELD"
	PhaseCoveredCall = "COVERED_CALL"
	PhaseClosed      = "CLOSED"
)

// Wheel close reasons
const (
	CloseFullCycle = "full_cycle"
	ClosePutClosed = "put_closed"
)

// Domain error kinds surfaced by the sync pipeline
var (
	ErrMalformedExecution    = errors.New("malformed execution record")
	ErrUnassignableExecution = errors.New("execution cannot be assigned to a wheel")
	ErrConcurrentSyncActive  = errors.New("a sync is already in progress for this account")
	ErrUpstreamFetch         = errors.New("upstream fetch failed")
	ErrNoPrice               = errors.New("no price available")
)

// Execution is one canonical broker fill. Executions are append-only facts:
// once ingested and assigned to a wheel they are never mutated, only read.
type Execution struct {
	gorm.Model  `json:"-"`
	ExecutionID string           `gorm:"uniqueIndex" json:"execution_id"`
	AccountID   string           `gorm:"index:idx_executions_account_symbol" json:"account_id"`
	Symbol      string           `gorm:"index:idx_executions_account_symbol" json:"symbol"`
	AssetKind   string           `json:"asset_kind"` // STOCK, PUT or CALL
	Side        string           `json:"side"`       // BUY or SELL
	Strike      *decimal.Decimal `gorm:"type:numeric" json:"strike,omitempty"`
	Expiry      *time.Time       `json:"expiry,omitempty"`
	Quantity    decimal.Decimal  `gorm:"type:numeric" json:"quantity"` // signed: negative reduces exposure held short
	Price       decimal.Decimal  `gorm:"type:numeric" json:"price"`
	Commission  decimal.Decimal  `gorm:"type:numeric" json:"commission"` // always <= 0
	Multiplier  decimal.Decimal  `gorm:"type:numeric" json:"multiplier"` // 1 for stock, typically 100 for options
	Notes       string           `json:"notes,omitempty"`                // broker codes; "A" marks an assignment fill
	TradeTime   time.Time        `gorm:"index" json:"trade_time"`
	WheelID     *string          `gorm:"index" json:"wheel_id,omitempty"`
}

// IsOption reports whether the execution is an option leg.
func (e *Execution) IsOption() bool {
	return e.AssetKind == KindPut || e.AssetKind == KindCall
}

// IsClosing reports whether the execution reduces exposure: buying back a
// short option or selling stock. Used by the same-timestamp tie-break
// (closes before opens).
func (e *Execution) IsClosing() bool {
	if e.IsOption() {
		return e.Side == SideBuy
	}
	return e.Side == SideSell
}

// Assigned reports whether the broker flagged this fill as the result of an
// option assignment or exercise.
func (e *Execution) Assigned() bool {
	for _, code := range splitCodes(e.Notes) {
		if code == "A" || code == "Ex" {
			return true
		}
	}
	return false
}

func splitCodes(notes string) []string {
	var codes []string
	start := -1
	for i := 0; i <= len(notes); i++ {
		if i == len(notes) || notes[i] == ';' {
			if start >= 0 && i > start {
				codes = append(codes, notes[start:i])
			}
			start = -1
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return codes
}

// Wheel is one cash-secured-put cycle for a symbol. A symbol has at most one
// open wheel at any time; closed wheels are ordered by Sequence.
type Wheel struct {
	gorm.Model       `json:"-"`
	WheelID          string          `gorm:"uniqueIndex" json:"wheel_id"`
	AccountID        string          `gorm:"index:idx_wheels_account_symbol" json:"account_id"`
	Symbol           string          `gorm:"index:idx_wheels_account_symbol" json:"symbol"`
	Sequence         int             `json:"sequence"`
	Phase            string          `json:"phase"`
	Strike           decimal.Decimal `gorm:"type:numeric" json:"strike"` // strike of the opening put
	StartDate        time.Time       `json:"start_date"`
	EndDate          *time.Time      `json:"end_date,omitempty"`
	CloseReason      *string         `json:"close_reason,omitempty"`
	PremiumCollected decimal.Decimal `gorm:"type:numeric" json:"premium_collected"`
	Commissions      decimal.Decimal `gorm:"type:numeric" json:"commissions"` // sum of commissions, <= 0
	RealizedPnL      decimal.Decimal `gorm:"column:realized_pnl;type:numeric" json:"realized_pnl"`
}

// IsOpen reports whether the wheel cycle is still running.
func (w *Wheel) IsOpen() bool {
	return w.EndDate == nil
}

// Holding leg types
const (
	HoldingShares    = "SHARES"
	HoldingShortPut  = "SHORT_PUT"
	HoldingShortCall = "SHORT_CALL"
)

// Holding is a derived view of one open position leg of an open wheel. It is
// recomputed from the wheel's execution list on read and never persisted.
type Holding struct {
	Type          string           `json:"type"`
	Symbol        string           `json:"symbol"`
	Strike        *decimal.Decimal `json:"strike,omitempty"`
	Quantity      decimal.Decimal  `json:"quantity"`
	PurchasePrice decimal.Decimal  `json:"purchase_price"` // volume-weighted open price per unit
	Multiplier    decimal.Decimal  `json:"multiplier"`
	CurrentPrice  *decimal.Decimal `json:"current_price,omitempty"`  // nil when unpriced
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl,omitempty"` // nil when unpriced
}

// PositionSnapshot is the latest broker mark for an open position. The table
// is wiped and rewritten on every successful sync; it backs the price source
// used for unrealized PnL.
type PositionSnapshot struct {
	gorm.Model `json:"-"`
	AccountID  string          `gorm:"index" json:"account_id"`
	Symbol     string          `gorm:"index" json:"symbol"`
	Position   decimal.Decimal `gorm:"type:numeric" json:"position"`
	MarkPrice  decimal.Decimal `gorm:"type:numeric" json:"mark_price"`
	Multiplier decimal.Decimal `gorm:"type:numeric" json:"multiplier"`
}

// AccountSettings holds the per-account broker credentials used by syncs.
type AccountSettings struct {
	gorm.Model  `json:"-"`
	AccountID   string `gorm:"uniqueIndex" json:"account_id"`
	FlexToken   string `json:"flex_token,omitempty"`
	FlexQueryID string `json:"flex_query_id,omitempty"`
}

// Sync run statuses
const (
	SyncStatusSuccess = "SUCCESS"
	SyncStatusFailed  = "FAILED"
)

// SyncRun records the outcome of one sync for auditability.
type SyncRun struct {
	gorm.Model  `json:"-"`
	SyncID      string     `gorm:"uniqueIndex" json:"sync_id"`
	AccountID   string     `gorm:"index" json:"account_id"`
	Status      string     `json:"status"`
	Fetched     int        `json:"fetched"`
	Inserted    int        `json:"inserted"`
	Malformed   int        `json:"malformed"`
	NeedsReview int        `json:"needs_review"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
