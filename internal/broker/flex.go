// Package broker fetches execution data from the IBKR Flex Web Service. The
// service is two-step: SendRequest registers the query and returns a
// reference code, GetStatement is then polled until the report is generated.
package broker

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wheeltrack/wheeltrack-api/internal/types"
)

const flexVersion = "3"

// Client is an IBKR Flex Web Service client with retry and backoff.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	initialBackoff time.Duration
}

// NewClient creates a Flex client for the given service base URL.
func NewClient(baseURL string, maxRetries int, initialBackoff time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}
}

// FetchStatement runs the full SendRequest/GetStatement exchange and returns
// the parsed statement. Exhausted retries surface as UpstreamFetchFailure so
// the caller can abort the sync without touching wheel state.
func (c *Client) FetchStatement(ctx context.Context, creds Credentials) (*Statement, error) {
	logger := log.With().Str("component", "flex_client").Logger()

	refCode, err := c.sendRequest(ctx, creds)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("reference_code", refCode).Msg("flex query registered")

	backoff := c.initialBackoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("statement not ready, backing off")
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", types.ErrUpstreamFetch, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		stmt, ready, err := c.getStatement(ctx, creds.Token, refCode)
		if err != nil {
			return nil, err
		}
		if ready {
			logger.Info().
				Int("trades", len(stmt.Trades)).
				Int("positions", len(stmt.Positions)).
				Msg("flex statement fetched")
			return stmt, nil
		}
	}

	return nil, fmt.Errorf("%w: statement not ready after %d attempts", types.ErrUpstreamFetch, c.maxRetries+1)
}

func (c *Client) sendRequest(ctx context.Context, creds Credentials) (string, error) {
	body, err := c.get(ctx, "/SendRequest", url.Values{
		"t": {creds.Token},
		"q": {creds.QueryID},
		"v": {flexVersion},
	})
	if err != nil {
		return "", err
	}

	var resp flexSendResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: unparseable SendRequest response: %v", types.ErrUpstreamFetch, err)
	}
	if resp.Status != "Success" || resp.ReferenceCode == "" {
		return "", fmt.Errorf("%w: flex request rejected: %s", types.ErrUpstreamFetch, resp.ErrorMessage)
	}
	return resp.ReferenceCode, nil
}

// getStatement returns ready=false when the report is still being generated.
func (c *Client) getStatement(ctx context.Context, token, refCode string) (*Statement, bool, error) {
	body, err := c.get(ctx, "/GetStatement", url.Values{
		"t": {token},
		"q": {refCode},
		"v": {flexVersion},
	})
	if err != nil {
		return nil, false, err
	}

	var envelope flexEnvelope
	if err := xml.Unmarshal(body, &envelope); err == nil && envelope.XMLName.Local == "FlexQueryResponse" {
		return &Statement{Trades: envelope.Trades, Positions: envelope.Positions}, true, nil
	}

	// Still generating: the service answers with a FlexStatementResponse
	// until the report is available.
	var pending flexSendResponse
	if err := xml.Unmarshal(body, &pending); err == nil && pending.XMLName.Local == "FlexStatementResponse" {
		return nil, false, nil
	}

	return nil, false, fmt.Errorf("%w: unparseable GetStatement response", types.ErrUpstreamFetch)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUpstreamFetch, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: flex service returned %d", types.ErrUpstreamFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUpstreamFetch, err)
	}
	return body, nil
}
