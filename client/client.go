package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solmirror/service/ledger"
	"github.com/brojonat/solmirror/service/mirror"
	natspkg "github.com/brojonat/solmirror/service/nats"
)

// ErrStreamClosed is returned by Await when the server ends the stream
// before a matching trade arrives.
var ErrStreamClosed = errors.New("trade stream closed")

// Client is the HTTP client for the solmirror query API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new query API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// PnLReport is realized PnL grouped by period.
type PnLReport struct {
	Period string                     `json:"period"`
	Groups map[string]ledger.PnLGroup `json:"groups"`
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Stats retrieves the engine statistics.
func (c *Client) Stats(ctx context.Context) (*mirror.Stats, error) {
	var stats mirror.Stats
	if err := c.getJSON(ctx, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// PnL retrieves realized PnL grouped by hour, day or week.
func (c *Client) PnL(ctx context.Context, period ledger.Period) (*PnLReport, error) {
	if period == ledger.PeriodTotal {
		return nil, fmt.Errorf("use TotalPnL for the %q period", period)
	}
	var report PnLReport
	q := url.Values{"period": {string(period)}}
	if err := c.getJSON(ctx, "/api/v1/pnl", q, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// TotalPnL retrieves the ledger-wide PnL summary.
func (c *Client) TotalPnL(ctx context.Context) (*ledger.TotalPnL, error) {
	var total ledger.TotalPnL
	q := url.Values{"period": {string(ledger.PeriodTotal)}}
	if err := c.getJSON(ctx, "/api/v1/pnl", q, &total); err != nil {
		return nil, err
	}
	return &total, nil
}

// Latency retrieves mean latency over the rolling windows.
func (c *Client) Latency(ctx context.Context) (*ledger.LatencyAverages, error) {
	var avg ledger.LatencyAverages
	if err := c.getJSON(ctx, "/api/v1/latency", nil, &avg); err != nil {
		return nil, err
	}
	return &avg, nil
}

// Durations retrieves holding-time statistics of closed trades.
func (c *Client) Durations(ctx context.Context) (*ledger.DurationStats, error) {
	var stats ledger.DurationStats
	if err := c.getJSON(ctx, "/api/v1/durations", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Trades retrieves up to limit recent mirrored trades. A limit of 0 uses the
// server default.
func (c *Client) Trades(ctx context.Context, limit int) ([]ledger.Trade, error) {
	var resp struct {
		Trades []ledger.Trade `json:"trades"`
	}
	if err := c.getJSON(ctx, "/api/v1/trades", limitQuery(limit), &resp); err != nil {
		return nil, err
	}
	return resp.Trades, nil
}

// FailedTrades retrieves up to limit recent rejected trades.
func (c *Client) FailedTrades(ctx context.Context, limit int) ([]ledger.FailedTrade, error) {
	var resp struct {
		FailedTrades []ledger.FailedTrade `json:"failed_trades"`
	}
	if err := c.getJSON(ctx, "/api/v1/failed", limitQuery(limit), &resp); err != nil {
		return nil, err
	}
	return resp.FailedTrades, nil
}

// Errors retrieves up to limit recent pipeline errors.
func (c *Client) Errors(ctx context.Context, limit int) ([]ledger.ErrorRecord, error) {
	var resp struct {
		Errors []ledger.ErrorRecord `json:"errors"`
	}
	if err := c.getJSON(ctx, "/api/v1/errors", limitQuery(limit), &resp); err != nil {
		return nil, err
	}
	return resp.Errors, nil
}

// StreamTrades follows the server's trade event stream, calling fn for every
// trade event until ctx is cancelled, the server closes the stream, or fn
// returns an error. An empty master follows every master wallet.
//
// The client's HTTP timeout applies to the whole stream, so callers that
// stream for long periods should construct the client with a zero-timeout
// http.Client.
func (c *Client) StreamTrades(ctx context.Context, master string, fn func(*natspkg.TradeEvent) error) error {
	u := c.baseURL + "/api/v1/stream/trades"
	if master != "" {
		u += "/" + url.PathEscape(master)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to trade stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var event, data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if err := c.dispatch(event, data, fn); err != nil {
				return err
			}
			event, data = "", ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading trade stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrStreamClosed
}

func (c *Client) dispatch(event, data string, fn func(*natspkg.TradeEvent) error) error {
	switch event {
	case "trade":
		var te natspkg.TradeEvent
		if err := json.Unmarshal([]byte(data), &te); err != nil {
			c.logger.Warn("skipping malformed trade event", "error", err)
			return nil
		}
		return fn(&te)
	case "error":
		var errInfo struct {
			Error string `json:"error"`
		}
		json.Unmarshal([]byte(data), &errInfo)
		return fmt.Errorf("trade stream error: %s", errInfo.Error)
	case "connected":
		c.logger.Debug("trade stream connected", "data", data)
	}
	return nil
}

// errMatched stops StreamTrades once Await has its trade.
var errMatched = errors.New("matched")

// Await blocks until the stream delivers a trade event for which match
// returns true, or until timeout elapses.
func (c *Client) Await(ctx context.Context, master string, timeout time.Duration, match func(*natspkg.TradeEvent) bool) (*natspkg.TradeEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var found *natspkg.TradeEvent
	err := c.StreamTrades(ctx, master, func(te *natspkg.TradeEvent) error {
		if match(te) {
			found = te
			return errMatched
		}
		return nil
	})
	if errors.Is(err, errMatched) {
		return found, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("no matching trade within %s: %w", timeout, err)
	}
	return nil, err
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	c.logger.Debug("query completed", "path", path)
	return nil
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
