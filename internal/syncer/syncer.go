// Package syncer orchestrates one sync: fetch the broker statement,
// normalize it, dedup-insert the new executions, rebuild the affected
// symbols' wheels and label the delta. A sync is all-or-nothing: wheel state
// changes are published in a single transaction only after every affected
// symbol's batch has been applied.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/wheeltrack/wheeltrack-api/internal/broker"
	"github.com/wheeltrack/wheeltrack-api/internal/categorize"
	"github.com/wheeltrack/wheeltrack-api/internal/ingest"
	"github.com/wheeltrack/wheeltrack-api/internal/pnl"
	"github.com/wheeltrack/wheeltrack-api/internal/types"
	"github.com/wheeltrack/wheeltrack-api/internal/wheel"
)

// ExecutionSource fetches an account's raw statement. The broker client
// implements it; tests inject stubs.
type ExecutionSource interface {
	FetchStatement(ctx context.Context, creds broker.Credentials) (*broker.Statement, error)
}

// Service runs syncs with at most one in flight per account. State-machine
// transitions are not commutative, so a second sync for the same account is
// rejected rather than interleaved; different accounts sync independently.
type Service struct {
	db             *wheel.Database
	source         ExecutionSource
	excludeSymbols []string
	symbolWorkers  int

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewService creates a sync service over the given store and raw source.
func NewService(gormDB *gorm.DB, source ExecutionSource, excludeSymbols []string, symbolWorkers int) *Service {
	if symbolWorkers < 1 {
		symbolWorkers = 1
	}
	return &Service{
		db:             wheel.NewDatabase(gormDB),
		source:         source,
		excludeSymbols: excludeSymbols,
		symbolWorkers:  symbolWorkers,
		inFlight:       make(map[string]bool),
	}
}

// Sync runs the full pipeline for one account. It returns
// ConcurrentSyncRejected immediately when a sync is already active for the
// account, and UpstreamFetchFailure when the broker fetch exhausts its
// retries; in both cases wheel state is left untouched.
func (s *Service) Sync(ctx context.Context, accountID string, creds broker.Credentials) (*types.SyncResponse, error) {
	if !s.acquire(accountID) {
		return nil, fmt.Errorf("%w: account %s", types.ErrConcurrentSyncActive, accountID)
	}
	defer s.release(accountID)

	logger := log.With().
		Str("component", "syncer").
		Str("account_id", accountID).
		Logger()

	run := &types.SyncRun{
		SyncID:    "SYN_" + uuid.New().String(),
		AccountID: accountID,
		StartedAt: time.Now(),
	}

	resp, err := s.run(ctx, accountID, creds, run)

	now := time.Now()
	run.FinishedAt = &now
	if err != nil {
		run.Status = types.SyncStatusFailed
		run.Error = err.Error()
		logger.Error().Err(err).Str("sync_id", run.SyncID).Msg("sync failed")
	} else {
		run.Status = types.SyncStatusSuccess
		logger.Info().
			Str("sync_id", run.SyncID).
			Int("fetched", run.Fetched).
			Int("inserted", run.Inserted).
			Int("malformed", run.Malformed).
			Int("needs_review", run.NeedsReview).
			Msg("sync completed")
	}
	if dbErr := s.db.GormDB().Create(run).Error; dbErr != nil {
		logger.Error().Err(dbErr).Msg("failed to record sync run")
	}

	return resp, err
}

func (s *Service) run(ctx context.Context, accountID string, creds broker.Credentials, run *types.SyncRun) (*types.SyncResponse, error) {
	stmt, err := s.source.FetchStatement(ctx, creds)
	if err != nil {
		return nil, err
	}
	run.Fetched = len(stmt.Trades)

	normalizer := ingest.NewNormalizer(accountID, s.excludeSymbols)
	batch := normalizer.NormalizeBatch(stmt.Trades)
	run.Malformed = batch.Malformed
	snapshots := normalizer.NormalizePositions(stmt.Positions)

	var (
		insertedIDs map[string]bool
		outcomes    = make(map[string]wheel.Outcome)
	)

	err = s.db.GormDB().Transaction(func(tx *gorm.DB) error {
		txStore := wheel.NewDatabase(tx)

		insertedIDs, err = txStore.InsertExecutions(tx, batch.Executions)
		if err != nil {
			return err
		}

		symbols := affectedSymbols(batch.Executions)

		// Load each symbol's full history inside the transaction, then
		// rebuild concurrently: the rebuild itself is a pure fold, so only
		// the loads and the writes touch the connection.
		histories := make(map[string][]types.Execution, len(symbols))
		for _, symbol := range symbols {
			execs, err := txStore.GetSymbolExecutions(accountID, symbol)
			if err != nil {
				return err
			}
			histories[symbol] = execs
		}

		results := make(map[string]wheel.Result, len(symbols))
		var resultsMu sync.Mutex
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(s.symbolWorkers)
		for _, symbol := range symbols {
			symbol := symbol
			g.Go(func() error {
				result := wheel.Rebuild(accountID, symbol, histories[symbol])
				resultsMu.Lock()
				results[symbol] = result
				resultsMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, symbol := range symbols {
			result := results[symbol]
			if err := txStore.ReplaceSymbolWheels(tx, accountID, symbol, result); err != nil {
				return err
			}
			for _, o := range result.Outcomes {
				outcomes[o.ExecutionID] = o
			}
		}

		return pnl.ReplaceSnapshots(tx, accountID, snapshots)
	})
	if err != nil {
		return nil, err
	}

	newExecs := make([]types.Execution, 0, len(insertedIDs))
	for i := range batch.Executions {
		if insertedIDs[batch.Executions[i].ExecutionID] {
			newExecs = append(newExecs, batch.Executions[i])
		}
	}
	run.Inserted = len(newExecs)

	trades := categorize.Categorize(newExecs, outcomes)
	for _, t := range trades {
		if t.SuggestedAction == types.ActionNeedsReview {
			run.NeedsReview++
		}
	}

	return &types.SyncResponse{
		Status:            "success",
		Count:             len(newExecs),
		Malformed:         batch.Malformed,
		CategorizedTrades: trades,
	}, nil
}

func (s *Service) acquire(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[accountID] {
		return false
	}
	s.inFlight[accountID] = true
	return true
}

func (s *Service) release(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, accountID)
}

func affectedSymbols(execs []types.Execution) []string {
	seen := make(map[string]bool)
	var symbols []string
	for i := range execs {
		if !seen[execs[i].Symbol] {
			seen[execs[i].Symbol] = true
			symbols = append(symbols, execs[i].Symbol)
		}
	}
	return symbols
}
