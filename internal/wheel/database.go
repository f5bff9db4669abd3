package wheel

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wheeltrack/wheeltrack-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GormDB exposes the underlying connection for transaction composition.
func (d *Database) GormDB() *gorm.DB {
	return d.db
}

// InsertExecutions inserts new executions, silently absorbing duplicates via
// the unique index on execution_id. Returns the set of ids actually
// inserted; re-ingesting a known id is a no-op, which keeps syncs over
// overlapping time windows idempotent.
func (d *Database) InsertExecutions(tx *gorm.DB, execs []types.Execution) (map[string]bool, error) {
	inserted := make(map[string]bool, len(execs))
	for i := range execs {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}},
			DoNothing: true,
		}).Create(&execs[i])
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			inserted[execs[i].ExecutionID] = true
		}
	}
	return inserted, nil
}

// GetSymbolExecutions returns a symbol's full execution history in replay order.
func (d *Database) GetSymbolExecutions(accountID, symbol string) ([]types.Execution, error) {
	var execs []types.Execution
	err := d.db.Where("account_id = ? AND symbol = ?", accountID, symbol).
		Order("trade_time ASC").
		Find(&execs).Error
	if err != nil {
		return nil, err
	}
	SortForReplay(execs)
	return execs, nil
}

// ReplaceSymbolWheels swaps a symbol's wheel set for the rebuilt one and
// re-points the symbol's executions at their wheels. Must run inside the
// sync transaction so readers never see a partially rebuilt symbol.
func (d *Database) ReplaceSymbolWheels(tx *gorm.DB, accountID, symbol string, result Result) error {
	if err := tx.Unscoped().
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Delete(&types.Wheel{}).Error; err != nil {
		return err
	}

	for i := range result.Wheels {
		if err := tx.Create(&result.Wheels[i]).Error; err != nil {
			return err
		}
	}

	// Clear stale assignments first: an execution that fell out of a wheel
	// (unassignable after a rebuild) must not keep pointing at one.
	if err := tx.Model(&types.Execution{}).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Update("wheel_id", nil).Error; err != nil {
		return err
	}

	for execID, wheelID := range result.WheelExecs {
		if err := tx.Model(&types.Execution{}).
			Where("execution_id = ?", execID).
			Update("wheel_id", wheelID).Error; err != nil {
			return err
		}
	}

	return nil
}

// GetWheels returns all wheels for an account, newest cycles first.
func (d *Database) GetWheels(accountID string) ([]types.Wheel, error) {
	var wheels []types.Wheel
	err := d.db.Where("account_id = ?", accountID).
		Order("start_date DESC, sequence DESC").
		Find(&wheels).Error
	if err != nil {
		return nil, err
	}
	return wheels, nil
}

// GetWheelExecutions returns a wheel's executions in replay order.
func (d *Database) GetWheelExecutions(wheelID string) ([]types.Execution, error) {
	var execs []types.Execution
	err := d.db.Where("wheel_id = ?", wheelID).
		Order("trade_time ASC").
		Find(&execs).Error
	if err != nil {
		return nil, err
	}
	SortForReplay(execs)
	return execs, nil
}

// GetHistory returns an account's full execution list, newest first.
func (d *Database) GetHistory(accountID string) ([]types.Execution, error) {
	var execs []types.Execution
	err := d.db.Where("account_id = ?", accountID).
		Order("trade_time DESC").
		Find(&execs).Error
	if err != nil {
		return nil, err
	}
	return execs, nil
}
