package pnl

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wheeltrack/wheeltrack-api/internal/types"
)

// SnapshotSource serves prices from the position snapshots written by the
// most recent sync. Stock marks match rows with multiplier 1, option marks
// rows with a contract multiplier. A symbol the broker reported no open
// position for is simply unpriced.
type SnapshotSource struct {
	db *gorm.DB
}

func NewSnapshotSource(db *gorm.DB) *SnapshotSource {
	return &SnapshotSource{db: db}
}

func (s *SnapshotSource) Price(accountID string, inst Instrument) (decimal.Decimal, bool) {
	query := s.db.Where("account_id = ? AND symbol = ?", accountID, inst.Symbol)
	if inst.Kind == types.KindStock {
		query = query.Where("multiplier = ?", "1")
	} else {
		query = query.Where("multiplier <> ?", "1")
	}

	// The broker snapshot keys option positions by underlying symbol only.
	// With two open option legs (mid-roll put plus covered call) the
	// earliest-written row wins; order by id so the pick is stable across
	// reads.
	var snap types.PositionSnapshot
	if err := query.Order("id").First(&snap).Error; err != nil {
		return decimal.Zero, false
	}
	return snap.MarkPrice, true
}

// ReplaceSnapshots wipes and rewrites the account's position snapshot inside
// the given transaction. Positions are a point-in-time view of the current
// portfolio, so unlike executions they are never accumulated.
func ReplaceSnapshots(tx *gorm.DB, accountID string, snaps []types.PositionSnapshot) error {
	if err := tx.Unscoped().
		Where("account_id = ?", accountID).
		Delete(&types.PositionSnapshot{}).Error; err != nil {
		return err
	}
	for i := range snaps {
		if err := tx.Create(&snaps[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
