package syncer_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wheeltrack/wheeltrack-api/internal/broker"
	"github.com/wheeltrack/wheeltrack-api/internal/database"
	"github.com/wheeltrack/wheeltrack-api/internal/syncer"
	"github.com/wheeltrack/wheeltrack-api/internal/types"
)

const testAccount = "ACC1"

// stubSource serves canned statements and can block to simulate a slow
// broker fetch.
type stubSource struct {
	mu      sync.Mutex
	stmt    broker.Statement
	err     error
	started chan struct{} // closed on first fetch, if set
	release chan struct{} // fetch blocks until closed, if set
}

func (s *stubSource) FetchStatement(ctx context.Context, _ broker.Credentials) (*broker.Statement, error) {
	s.mu.Lock()
	if s.started != nil {
		close(s.started)
		s.started = nil
	}
	release := s.release
	s.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	stmt := s.stmt
	return &stmt, nil
}

func (s *stubSource) set(stmt broker.Statement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stmt = stmt
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func rawTrade(id, symbol, category, putCall, strike, qty, price, date, notes string) broker.RawExecution {
	raw := broker.RawExecution{
		TradeID:       id,
		Symbol:        symbol,
		AssetCategory: category,
		PutCall:       putCall,
		Strike:        strike,
		Quantity:      qty,
		TradePrice:    price,
		IBCommission:  "-0.65",
		TradeDate:     date,
		Notes:         notes,
	}
	if category == "OPT" {
		raw.Multiplier = "100"
	} else {
		raw.Multiplier = "1"
	}
	return raw
}

// fullCycleTrades is one complete wheel on AAPL: put sold, assigned, covered
// call sold, shares called away.
func fullCycleTrades() []broker.RawExecution {
	return []broker.RawExecution{
		rawTrade("T1", "AAPL", "OPT", "P", "47", "-1", "2.00", "20260302", ""),
		rawTrade("T2", "AAPL", "OPT", "P", "47", "1", "0", "20260309", "A"),
		rawTrade("T3", "AAPL", "STK", "", "", "100", "47", "20260309", "A"),
		rawTrade("T4", "AAPL", "OPT", "C", "50", "-1", "1.50", "20260312", ""),
		rawTrade("T5", "AAPL", "OPT", "C", "50", "1", "0", "20260319", "A"),
		rawTrade("T6", "AAPL", "STK", "", "", "-100", "50", "20260319", "A"),
	}
}

func testCreds() broker.Credentials {
	return broker.Credentials{Token: "test-token", QueryID: "123456"}
}

func TestSync_BuildsWheelsFromStatement(t *testing.T) {
	db := newTestDB(t)
	source := &stubSource{stmt: broker.Statement{
		Trades: fullCycleTrades(),
		Positions: []broker.RawPosition{
			{Symbol: "AAPL", Position: "100", MarkPrice: "49.50", Multiplier: "1"},
		},
	}}
	service := syncer.NewService(db, source, nil, 2)

	resp, err := service.Sync(context.Background(), testAccount, testCreds())
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 6, resp.Count)
	assert.Equal(t, 0, resp.Malformed)
	require.Len(t, resp.CategorizedTrades, 6)
	assert.Equal(t, types.ActionStartWheel, resp.CategorizedTrades[0].SuggestedAction)
	assert.Equal(t, types.ActionCloseWheel, resp.CategorizedTrades[5].SuggestedAction)

	var wheels []types.Wheel
	require.NoError(t, db.Where("account_id = ?", testAccount).Find(&wheels).Error)
	require.Len(t, wheels, 1)
	assert.Equal(t, types.PhaseClosed, wheels[0].Phase)
	require.NotNil(t, wheels[0].CloseReason)
	assert.Equal(t, types.CloseFullCycle, *wheels[0].CloseReason)

	// Every execution points at the wheel
	var execs []types.Execution
	require.NoError(t, db.Where("account_id = ?", testAccount).Find(&execs).Error)
	require.Len(t, execs, 6)
	for _, e := range execs {
		require.NotNil(t, e.WheelID)
		assert.Equal(t, wheels[0].WheelID, *e.WheelID)
	}

	// Snapshots were written
	var snaps []types.PositionSnapshot
	require.NoError(t, db.Where("account_id = ?", testAccount).Find(&snaps).Error)
	assert.Len(t, snaps, 1)

	// The run was recorded
	var run types.SyncRun
	require.NoError(t, db.Where("account_id = ?", testAccount).First(&run).Error)
	assert.Equal(t, types.SyncStatusSuccess, run.Status)
	assert.Equal(t, 6, run.Inserted)
}

func TestSync_RepeatIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	source := &stubSource{stmt: broker.Statement{Trades: fullCycleTrades()}}
	service := syncer.NewService(db, source, nil, 2)

	first, err := service.Sync(context.Background(), testAccount, testCreds())
	require.NoError(t, err)
	require.Equal(t, 6, first.Count)

	var wheelsBefore []types.Wheel
	require.NoError(t, db.Find(&wheelsBefore).Error)

	second, err := service.Sync(context.Background(), testAccount, testCreds())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Count, "re-syncing the same statement ingests nothing")
	assert.Empty(t, second.CategorizedTrades)

	var count int64
	require.NoError(t, db.Model(&types.Execution{}).Count(&count).Error)
	assert.EqualValues(t, 6, count)

	// The rebuilt wheel set is byte-for-byte reproducible
	var wheelsAfter []types.Wheel
	require.NoError(t, db.Find(&wheelsAfter).Error)
	require.Len(t, wheelsAfter, len(wheelsBefore))
	for i := range wheelsAfter {
		assert.Equal(t, wheelsBefore[i].WheelID, wheelsAfter[i].WheelID)
		assert.Equal(t, wheelsBefore[i].Phase, wheelsAfter[i].Phase)
		assert.True(t, wheelsBefore[i].RealizedPnL.Equal(wheelsAfter[i].RealizedPnL))
	}
}

func TestSync_OverlappingWindows(t *testing.T) {
	db := newTestDB(t)
	all := fullCycleTrades()
	source := &stubSource{stmt: broker.Statement{Trades: all[:2]}}
	service := syncer.NewService(db, source, nil, 2)

	// First window: put sold and assigned
	resp, err := service.Sync(context.Background(), testAccount, testCreds())
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)

	var w types.Wheel
	require.NoError(t, db.Where("account_id = ?", testAccount).First(&w).Error)
	assert.Equal(t, types.PhaseSharesHeld, w.Phase)
	wheelID := w.WheelID

	// Second window overlaps the first and completes the cycle
	source.set(broker.Statement{Trades: all})
	resp, err = service.Sync(context.Background(), testAccount, testCreds())
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Count, "only the unseen executions count as new")

	var wheels []types.Wheel
	require.NoError(t, db.Where("account_id = ?", testAccount).Find(&wheels).Error)
	require.Len(t, wheels, 1)
	assert.Equal(t, wheelID, wheels[0].WheelID, "rebuild reproduces the same wheel id")
	assert.Equal(t, types.PhaseClosed, wheels[0].Phase)
}

func TestSync_ConcurrentSyncRejected(t *testing.T) {
	db := newTestDB(t)
	source := &stubSource{
		stmt:    broker.Statement{Trades: fullCycleTrades()},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := source.started
	service := syncer.NewService(db, source, nil, 2)

	done := make(chan error, 1)
	go func() {
		_, err := service.Sync(context.Background(), testAccount, testCreds())
		done <- err
	}()

	<-started

	// Second sync for the same account while the first is mid-fetch
	_, err := service.Sync(context.Background(), testAccount, testCreds())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConcurrentSyncActive)

	close(source.release)
	require.NoError(t, <-done)

	// The slot is released once the first sync finishes
	_, err = service.Sync(context.Background(), testAccount, testCreds())
	require.NoError(t, err)
}

func TestSync_DifferentAccountsRunIndependently(t *testing.T) {
	db := newTestDB(t)
	source := &stubSource{
		stmt:    broker.Statement{Trades: fullCycleTrades()},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := source.started
	service := syncer.NewService(db, source, nil, 2)

	done := make(chan error, 1)
	go func() {
		_, err := service.Sync(context.Background(), testAccount, testCreds())
		done <- err
	}()

	<-started
	close(source.release)

	// A different account is not blocked by ACC1's sync
	_, err := service.Sync(context.Background(), "ACC2", testCreds())
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestSync_UpstreamFailureLeavesStateUntouched(t *testing.T) {
	db := newTestDB(t)
	source := &stubSource{stmt: broker.Statement{Trades: fullCycleTrades()}}
	service := syncer.NewService(db, source, nil, 2)

	_, err := service.Sync(context.Background(), testAccount, testCreds())
	require.NoError(t, err)

	source.mu.Lock()
	source.err = fmt.Errorf("%w: flex service returned 502", types.ErrUpstreamFetch)
	source.mu.Unlock()

	_, err = service.Sync(context.Background(), testAccount, testCreds())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstreamFetch)

	// Wheel state from the successful sync is intact
	var wheels []types.Wheel
	require.NoError(t, db.Where("account_id = ?", testAccount).Find(&wheels).Error)
	assert.Len(t, wheels, 1)

	// The failed run is on record
	var run types.SyncRun
	require.NoError(t, db.Where("account_id = ? AND status = ?", testAccount, types.SyncStatusFailed).First(&run).Error)
	assert.NotEmpty(t, run.Error)
}

func TestSync_MalformedRecordsAreCountedNotFatal(t *testing.T) {
	db := newTestDB(t)
	trades := fullCycleTrades()
	trades = append(trades, rawTrade("T7", "AAPL", "OPT", "P", "", "-1", "2.00", "20260323", "")) // missing strike
	source := &stubSource{stmt: broker.Statement{Trades: trades}}
	service := syncer.NewService(db, source, nil, 2)

	resp, err := service.Sync(context.Background(), testAccount, testCreds())
	require.NoError(t, err)
	assert.Equal(t, 6, resp.Count)
	assert.Equal(t, 1, resp.Malformed)
}
