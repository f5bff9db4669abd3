package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wheeltrack/wheeltrack-api/internal/account"
	"github.com/wheeltrack/wheeltrack-api/internal/analytics"
	"github.com/wheeltrack/wheeltrack-api/internal/auth"
	"github.com/wheeltrack/wheeltrack-api/internal/broker"
	"github.com/wheeltrack/wheeltrack-api/internal/database"
	"github.com/wheeltrack/wheeltrack-api/internal/pnl"
	"github.com/wheeltrack/wheeltrack-api/internal/syncer"
	"github.com/wheeltrack/wheeltrack-api/internal/wheel"
	"github.com/wheeltrack/wheeltrack-api/pkg/middleware"
)

const (
	minRounds     = 4
	maxRounds     = 10
	serverAddress = "http://localhost:8080"
	jwtSecret     = "simulation-secret-key"
)

var symbols = []string{"AAPL", "SOFI", "PLTR", "F", "AMD"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// statementGenerator replaces the live Flex feed with generated wheel
// activity. Every fetch returns the full statement accumulated so far, the
// same way a real Flex query covers its whole reporting period, so repeat
// syncs exercise the dedup path.
type statementGenerator struct {
	mu     sync.Mutex
	trades []broker.RawExecution
	clock  time.Time
	nextID int
}

func newStatementGenerator() *statementGenerator {
	return &statementGenerator{
		clock: time.Now().AddDate(0, -6, 0),
	}
}

// FetchStatement returns a copy of everything generated so far.
func (g *statementGenerator) FetchStatement(_ context.Context, _ broker.Credentials) (*broker.Statement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	stmt := &broker.Statement{
		Trades: make([]broker.RawExecution, len(g.trades)),
	}
	copy(stmt.Trades, g.trades)

	// Mark every symbol with a current stock price so open holdings price
	for _, symbol := range symbols {
		stmt.Positions = append(stmt.Positions, broker.RawPosition{
			Symbol:     symbol,
			Position:   "100",
			MarkPrice:  strconv.FormatFloat(20+rand.Float64()*180, 'f', 2, 64),
			Multiplier: "1",
		})
	}
	return stmt, nil
}

// advance generates one more round of market activity: a fresh wheel cycle
// on a random symbol, randomly closed by buyback or run through assignment
// and a covered call.
func (g *statementGenerator) advance() {
	g.mu.Lock()
	defer g.mu.Unlock()

	symbol := symbols[rand.Intn(len(symbols))]
	strike := float64(rand.Intn(180) + 20)
	premium := 0.5 + rand.Float64()*4

	// Open with a cash-secured put
	g.append(symbol, "OPT", "P", strike, -1, premium, "")
	g.clock = g.clock.Add(time.Duration(rand.Intn(72)+24) * time.Hour)

	switch rand.Intn(3) {
	case 0:
		// Buy the put back cheaper
		g.append(symbol, "OPT", "P", strike, 1, premium*0.3, "")
	case 1:
		// Assignment, then a covered call that gets called away
		g.append(symbol, "OPT", "P", strike, 1, 0, "A")
		g.append(symbol, "STK", "", 0, 100, strike, "A")
		g.clock = g.clock.Add(time.Duration(rand.Intn(72)+24) * time.Hour)

		callStrike := strike + float64(rand.Intn(10)+1)
		g.append(symbol, "OPT", "C", callStrike, -1, premium*0.8, "")
		g.clock = g.clock.Add(time.Duration(rand.Intn(72)+24) * time.Hour)
		g.append(symbol, "OPT", "C", callStrike, 1, 0, "A")
		g.append(symbol, "STK", "", 0, -100, callStrike, "A")
	default:
		// Leave the put open
	}

	g.clock = g.clock.Add(time.Duration(rand.Intn(120)+24) * time.Hour)
}

func (g *statementGenerator) append(symbol, category, putCall string, strike, qty, price float64, notes string) {
	g.nextID++
	raw := broker.RawExecution{
		TradeID:       fmt.Sprintf("SIM%06d", g.nextID),
		Symbol:        symbol,
		AssetCategory: category,
		PutCall:       putCall,
		Quantity:      strconv.FormatFloat(qty, 'f', -1, 64),
		TradePrice:    strconv.FormatFloat(price, 'f', 2, 64),
		IBCommission:  "-1.05",
		TradeDate:     g.clock.Format("20060102"),
		TradeTime:     g.clock.Format("150405"),
		Notes:         notes,
	}
	if category == "OPT" {
		raw.Strike = strconv.FormatFloat(strike, 'f', 2, 64)
		raw.Expiry = g.clock.AddDate(0, 0, 14).Format("20060102")
		raw.Multiplier = "100"
	} else {
		raw.Multiplier = "1"
	}
	g.trades = append(g.trades, raw)
}

// simulationClient handles HTTP communication with the wheel tracking API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"settings":  {name: "Update Settings"},
			"sync":      {name: "Sync"},
			"wheels":    {name: "Get Wheels"},
			"history":   {name: "Get History"},
			"analytics": {name: "Get Analytics"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// updateSettings stores broker credentials for the simulated account
func (sc *simulationClient) updateSettings() error {
	start := time.Now()
	defer func() {
		sc.stats["settings"].addDuration(time.Since(start))
	}()

	payload := map[string]string{
		"flex_token":    "simulation-flex-token",
		"flex_query_id": "123456",
	}
	body, _ := json.Marshal(payload)

	respBody, err := sc.do("POST", "/api/v1/account/settings", body)
	if err != nil {
		sc.stats["settings"].failures++
		return err
	}
	log.Debug().Str("response", string(respBody)).Msg("Update settings response")
	return nil
}

// syncResult carries the sync counts the summary reports on
type syncResult struct {
	Count       int
	Malformed   int
	NeedsReview int
	Actions     map[string]int
}

// sync triggers one statement sync and returns the categorization counts
func (sc *simulationClient) sync() (*syncResult, error) {
	start := time.Now()
	defer func() {
		sc.stats["sync"].addDuration(time.Since(start))
	}()

	respBody, err := sc.do("POST", "/api/v1/sync", nil)
	if err != nil {
		sc.stats["sync"].failures++
		return nil, err
	}
	log.Debug().Str("response", string(respBody)).Msg("Sync response")

	var result struct {
		Data struct {
			Count             int `json:"count"`
			Malformed         int `json:"malformed"`
			CategorizedTrades []struct {
				SuggestedAction string `json:"suggested_action"`
			} `json:"categorized_trades"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	out := &syncResult{
		Count:     result.Data.Count,
		Malformed: result.Data.Malformed,
		Actions:   make(map[string]int),
	}
	for _, t := range result.Data.CategorizedTrades {
		out.Actions[t.SuggestedAction]++
		if t.SuggestedAction == "Needs Review" {
			out.NeedsReview++
		}
	}
	return out, nil
}

// getWheels retrieves the wheel summaries and returns open/closed counts
func (sc *simulationClient) getWheels() (open, closed int, err error) {
	start := time.Now()
	defer func() {
		sc.stats["wheels"].addDuration(time.Since(start))
	}()

	respBody, err := sc.do("GET", "/api/v1/wheels", nil)
	if err != nil {
		sc.stats["wheels"].failures++
		return 0, 0, err
	}

	var result struct {
		Data []struct {
			IsOpen bool `json:"isOpen"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, 0, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	for _, w := range result.Data {
		if w.IsOpen {
			open++
		} else {
			closed++
		}
	}
	return open, closed, nil
}

// getHistory retrieves the execution history and returns its length
func (sc *simulationClient) getHistory() (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["history"].addDuration(time.Since(start))
	}()

	respBody, err := sc.do("GET", "/api/v1/history", nil)
	if err != nil {
		sc.stats["history"].failures++
		return 0, err
	}

	var result struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return len(result.Data), nil
}

// getAnalytics retrieves the aggregate report
func (sc *simulationClient) getAnalytics() (winRate float64, totalPremium string, err error) {
	start := time.Now()
	defer func() {
		sc.stats["analytics"].addDuration(time.Since(start))
	}()

	respBody, err := sc.do("GET", "/api/v1/analytics", nil)
	if err != nil {
		sc.stats["analytics"].failures++
		return 0, "", err
	}
	log.Debug().Str("response", string(respBody)).Msg("Analytics response")

	var result struct {
		Data struct {
			Overview struct {
				WinRate      float64 `json:"win_rate"`
				TotalPremium struct {
					Value string `json:"value"`
				} `json:"total_premiums"`
			} `json:"overview"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return result.Data.Overview.WinRate, result.Data.Overview.TotalPremium.Value, nil
}

// do sends an authenticated request and returns the raw response body
func (sc *simulationClient) do(method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the wheel tracking simulation
// It starts a local API server fed by generated broker statements and drives
// repeated sync rounds against it
func main() {
	generator := newStatementGenerator()

	// Start the server in a goroutine
	go func() {
		if err := startServer(generator); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	if err := simClient.updateSettings(); err != nil {
		log.Fatal().Err(err).Msg("Failed to store broker settings")
	}

	targetRounds := rand.Intn(maxRounds-minRounds) + minRounds
	log.Info().Int("target_rounds", targetRounds).Msg("Starting simulation")

	stats := struct {
		Rounds        int
		NewExecutions int
		Malformed     int
		NeedsReview   int
		Actions       map[string]int
		StartTime     time.Time
	}{
		StartTime: time.Now(),
		Actions:   make(map[string]int),
	}

	for round := 1; round <= targetRounds; round++ {
		generator.advance()

		result, err := simClient.sync()
		if err != nil {
			log.Error().Err(err).Int("round", round).Msg("Sync failed")
			continue
		}
		stats.Rounds++
		stats.NewExecutions += result.Count
		stats.Malformed += result.Malformed
		stats.NeedsReview += result.NeedsReview
		for action, n := range result.Actions {
			stats.Actions[action] += n
		}

		log.Info().
			Int("round", round).
			Int("new_executions", result.Count).
			Int("needs_review", result.NeedsReview).
			Msg("Sync round completed")
	}

	// A repeat sync over the same statement must ingest nothing new
	dup, err := simClient.sync()
	if err != nil {
		log.Error().Err(err).Msg("Duplicate sync failed")
	} else if dup.Count != 0 {
		log.Error().Int("count", dup.Count).Msg("Duplicate sync ingested executions")
	} else {
		log.Info().Msg("Duplicate sync ingested nothing, as expected")
	}

	open, closed, err := simClient.getWheels()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch wheels")
	}

	historyLen, err := simClient.getHistory()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch history")
	}

	winRate, totalPremium, err := simClient.getAnalytics()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch analytics")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🛞 WHEEL TRACKING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Sync Statistics
------------------
Sync Rounds:      %d
New Executions:   %d
Malformed:        %d
Needs Review:     %d
Open Wheels:      %d
Closed Wheels:    %d
History Entries:  %d
Win Rate:         %.1f%%
Total Premium:    %s
Duration:         %v

📈 Suggested Actions
--------------------
`, stats.Rounds, stats.NewExecutions, stats.Malformed, stats.NeedsReview,
		open, closed, historyLen, winRate*100, totalPremium,
		duration.Round(time.Millisecond))

	// Print action distribution with simple ASCII bar chart
	maxActionCount := 0
	for _, count := range stats.Actions {
		if count > maxActionCount {
			maxActionCount = count
		}
	}
	for action, count := range stats.Actions {
		barLength := int(float64(count) / float64(maxActionCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-18s: %s (%d)\n", action, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("sync_rounds", stats.Rounds).
		Int("new_executions", stats.NewExecutions).
		Int("open_wheels", open).
		Int("closed_wheels", closed).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer initializes and starts the wheel tracking API server backed by
// the statement generator instead of the live broker
func startServer(generator *statementGenerator) error {
	dbPath := filepath.Join(os.TempDir(), "wheeltrack-simulation.db")
	_ = os.Remove(dbPath)

	// Initialize database
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(jwtSecret, 24*time.Hour)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	accountDB := account.NewDatabase(db)
	syncService := syncer.NewService(db, generator, nil, 4)
	wheelDB := wheel.NewDatabase(db)

	// Initialize router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	accountHandlers := account.NewGinHandlers(accountDB)
	syncHandlers := syncer.NewGinHandlers(syncService, accountDB)
	wheelHandlers := wheel.NewGinHandlers(wheelDB, pnl.NewSnapshotSource(db))
	analyticsHandlers := analytics.NewGinHandlers(wheelDB)

	// Setup routes
	setupRoutes(router, authHandlers, syncHandlers, wheelHandlers, analyticsHandlers, accountHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	syncHandlers *syncer.GinHandlers,
	wheelHandlers *wheel.GinHandlers,
	analyticsHandlers *analytics.GinHandlers,
	accountHandlers *account.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Authenticated routes
		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(jwtSecret))
		{
			protected.POST("/sync", syncHandlers.SyncHandler())
			protected.GET("/wheels", wheelHandlers.WheelSummaryHandler())
			protected.GET("/history", wheelHandlers.HistoryHandler())
			protected.GET("/analytics", analyticsHandlers.ReportHandler())
			protected.GET("/account/settings", accountHandlers.GetSettingsHandler())
			protected.POST("/account/settings", accountHandlers.UpdateSettingsHandler())
		}
	}
}
