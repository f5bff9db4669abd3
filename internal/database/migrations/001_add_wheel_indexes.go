package migrations

import (
	"gorm.io/gorm"
)

// AddWheelIndexes creates the query-path indexes for executions and wheels
func AddWheelIndexes(db *gorm.DB) error {
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Per-symbol replay ordering used by every wheel rebuild
		`CREATE INDEX IF NOT EXISTS idx_executions_replay
		 ON executions(account_id, symbol, trade_time)`,

		// Sequence ordering for wheel listings
		`CREATE INDEX IF NOT EXISTS idx_wheels_sequence
		 ON wheels(account_id, symbol, sequence)`,

		// Open-wheel lookup (end_date IS NULL scans)
		`CREATE INDEX IF NOT EXISTS idx_wheels_end_date
		 ON wheels(account_id, end_date)`,

		// History listing is newest-first
		`CREATE INDEX IF NOT EXISTS idx_executions_account_time
		 ON executions(account_id, trade_time)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
