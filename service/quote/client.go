package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/solmirror/service/metrics"
)

// DefaultBaseURL is the public Jupiter v6 API.
const DefaultBaseURL = "https://quote-api.jup.ag/v6"

// QuoteRequest is one quote lookup. Amount is in the input mint's smallest unit.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// Quote is the aggregator's route. Raw holds the full response body, which
// must be echoed back verbatim when requesting the swap transaction.
type Quote struct {
	InputMint            string          `json:"inputMint"`
	OutputMint           string          `json:"outputMint"`
	InAmount             string          `json:"inAmount"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	Raw                  json.RawMessage `json:"-"`
}

// InAmountUnits parses InAmount; malformed values read as zero.
func (q *Quote) InAmountUnits() uint64 {
	n, _ := strconv.ParseUint(q.InAmount, 10, 64)
	return n
}

// OutAmountUnits parses OutAmount; malformed values read as zero.
func (q *Quote) OutAmountUnits() uint64 {
	n, _ := strconv.ParseUint(q.OutAmount, 10, 64)
	return n
}

// EntryPrice is inAmount/outAmount, or 0 when outAmount is unknown.
func (q *Quote) EntryPrice() float64 {
	out := q.OutAmountUnits()
	if out == 0 {
		return 0
	}
	return float64(q.InAmountUnits()) / float64(out)
}

// ExitPrice is outAmount/inAmount, the price of the input asset in units of
// the output asset. It is used when a sell closes an earlier buy.
func (q *Quote) ExitPrice() float64 {
	in := q.InAmountUnits()
	if in == 0 {
		return 0
	}
	return float64(q.OutAmountUnits()) / float64(in)
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports uint64          `json:"prioritizationFeeLamports"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Client talks to the aggregator HTTP API. Every call goes through the
// client's Policy. Base URLs after the first are alternates used when the
// current host fails name resolution.
type Client struct {
	endpoints  []string
	httpClient *http.Client
	policy     Policy
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	current int
}

// NewHTTPClient builds an http.Client with a connect timeout and a total
// per-request timeout.
func NewHTTPClient(connectTimeout, totalTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: connectTimeout,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewClient creates an aggregator client. If httpClient is nil a client with
// 5s connect and 10s total timeouts is used. m may be nil.
func NewClient(endpoints []string, policy Policy, httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) *Client {
	if len(endpoints) == 0 {
		endpoints = []string{DefaultBaseURL}
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(5*time.Second, 10*time.Second)
	}
	cleaned := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		cleaned = append(cleaned, strings.TrimRight(e, "/"))
	}
	return &Client{
		endpoints:  cleaned,
		httpClient: httpClient,
		policy:     policy,
		logger:     logger,
		metrics:    m,
	}
}

// BaseURL returns the endpoint currently in use.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.current]
}

func (c *Client) rotate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = (c.current + 1) % len(c.endpoints)
	return c.endpoints[c.current]
}

// Quote requests a route for req.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	params.Set("onlyDirectRoutes", "false")
	params.Set("asLegacyTransaction", "false")

	body, err := c.call(ctx, "quote", func(ctx context.Context, base string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, base+"/quote?"+params.Encode(), nil)
	})
	if err != nil {
		return nil, err
	}

	var q Quote
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	if q.OutAmount == "" {
		return nil, &APIError{Op: "quote", StatusCode: http.StatusOK, Body: "response has no outAmount"}
	}
	q.Raw = body
	return &q, nil
}

// SwapTransaction asks the aggregator for the unsigned swap transaction of
// q, returned base64 encoded.
func (c *Client) SwapTransaction(ctx context.Context, q *Quote, userPublicKey string, priorityFeeLamports uint64) (string, error) {
	quoteJSON := q.Raw
	if len(quoteJSON) == 0 {
		var err error
		if quoteJSON, err = json.Marshal(q); err != nil {
			return "", fmt.Errorf("failed to encode quote: %w", err)
		}
	}

	payload, err := json.Marshal(swapRequest{
		QuoteResponse:             quoteJSON,
		UserPublicKey:             userPublicKey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: priorityFeeLamports,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode swap request: %w", err)
	}

	body, err := c.call(ctx, "swap", func(ctx context.Context, base string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/swap", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode swap response: %w", err)
	}
	if resp.SwapTransaction == "" {
		return "", &APIError{Op: "swap", StatusCode: http.StatusOK, Body: "response has no swapTransaction"}
	}
	return resp.SwapTransaction, nil
}

// call executes one logical request under the policy and returns the body
// of the first 2xx response.
func (c *Client) call(ctx context.Context, op string, build func(ctx context.Context, base string) (*http.Request, error)) ([]byte, error) {
	var body []byte

	err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		base := c.BaseURL()
		req, err := build(ctx, base)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		start := time.Now()
		b, err := c.do(req, op)
		c.record(op, err, start)
		if err != nil {
			kind := Classify(err)
			if kind == KindDNS && len(c.endpoints) > 1 {
				next := c.rotate()
				c.logger.WarnContext(ctx, "name resolution failed, switching endpoint",
					"operation", op,
					"from", base,
					"to", next,
				)
			}
			return err
		}
		body = b
		return nil
	}, func(err error, wait time.Duration) {
		kind := Classify(err)
		c.logger.WarnContext(ctx, "aggregator call failed, retrying",
			"operation", op,
			"kind", kind,
			"backoff_seconds", wait.Seconds(),
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordQuoteRetry(op, string(kind))
		}
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) record(op string, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = string(Classify(err))
	}
	c.metrics.RecordQuoteCall(op, status, time.Since(start).Seconds())
}
