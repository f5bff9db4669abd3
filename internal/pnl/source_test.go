package pnl_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wheeltrack/wheeltrack-api/internal/database"
	"github.com/wheeltrack/wheeltrack-api/internal/pnl"
	"github.com/wheeltrack/wheeltrack-api/internal/types"
)

func newSnapshotDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func writeSnapshot(t *testing.T, db *gorm.DB, symbol, mark, multiplier string) {
	t.Helper()
	require.NoError(t, db.Create(&types.PositionSnapshot{
		AccountID:  "ACC1",
		Symbol:     symbol,
		Position:   d("-1"),
		MarkPrice:  d(mark),
		Multiplier: d(multiplier),
	}).Error)
}

func TestSnapshotSource_StockAndOptionMarks(t *testing.T) {
	db := newSnapshotDB(t)
	writeSnapshot(t, db, "AAPL", "49.00", "1")
	writeSnapshot(t, db, "AAPL", "0.70", "100")

	src := pnl.NewSnapshotSource(db)

	mark, ok := src.Price("ACC1", pnl.Instrument{Symbol: "AAPL", Kind: types.KindStock})
	require.True(t, ok)
	assert.True(t, mark.Equal(d("49.00")))

	mark, ok = src.Price("ACC1", pnl.Instrument{Symbol: "AAPL", Kind: types.KindCall})
	require.True(t, ok)
	assert.True(t, mark.Equal(d("0.70")))
}

func TestSnapshotSource_TwoOptionLegsPicksFirstRow(t *testing.T) {
	// Snapshots carry no strike or right, so two open option legs on one
	// symbol collapse to whichever row was written first. The pick must at
	// least be stable.
	db := newSnapshotDB(t)
	writeSnapshot(t, db, "AAPL", "0.70", "100")
	writeSnapshot(t, db, "AAPL", "1.35", "100")

	src := pnl.NewSnapshotSource(db)
	for i := 0; i < 5; i++ {
		mark, ok := src.Price("ACC1", pnl.Instrument{Symbol: "AAPL", Kind: types.KindPut})
		require.True(t, ok)
		assert.True(t, mark.Equal(d("0.70")), "mark = %s", mark)
	}
}

func TestSnapshotSource_UnknownSymbolUnpriced(t *testing.T) {
	db := newSnapshotDB(t)
	writeSnapshot(t, db, "AAPL", "49.00", "1")

	src := pnl.NewSnapshotSource(db)
	_, ok := src.Price("ACC1", pnl.Instrument{Symbol: "MSFT", Kind: types.KindStock})
	assert.False(t, ok)
}
