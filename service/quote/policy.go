package quote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Kind classifies an external call failure.
type Kind string

const (
	// KindDNS is a name-resolution failure; the caller may switch to an
	// alternate endpoint before retrying.
	KindDNS Kind = "dns"
	// KindTransientNetwork covers connect errors, resets and timeouts.
	KindTransientNetwork Kind = "network"
	// KindRateLimited is a 429 response.
	KindRateLimited Kind = "rate_limit"
	// KindTerminal is any other API error; it is never retried.
	KindTerminal Kind = "terminal"
)

// ErrRateLimited matches, via errors.Is, any 429 APIError.
var ErrRateLimited = errors.New("rate limited")

// APIError is a non-2xx response from the aggregator.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s: aggregator returned status %d: %s", e.Op, e.StatusCode, body)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == 429 {
		return ErrRateLimited
	}
	return nil
}

// Classify maps an error to its retry class.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindTerminal
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return KindRateLimited
		}
		return KindTerminal
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	if IsRateLimitText(err.Error()) {
		return KindRateLimited
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransientNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransientNetwork
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}

	return KindTerminal
}

// rateLimitPattern matches a 429 only where it is a status or error code,
// never inside a signature or address.
var rateLimitPattern = regexp.MustCompile(`(?i)(status|code)\D{0,3}429\b|too many requests`)

// IsRateLimitText reports whether an error message describes a 429.
func IsRateLimitText(msg string) bool {
	return rateLimitPattern.MatchString(msg)
}

// IsRetryable is the default retry predicate: everything except terminal errors.
func IsRetryable(err error) bool {
	return Classify(err) != KindTerminal
}

// Policy is the single retry policy applied to every external call of the
// executor: a capped number of attempts with exponential backoff.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter float64
	// Retryable decides whether a failed attempt is retried. Defaults to IsRetryable.
	Retryable func(error) bool
}

// DefaultPolicy retries up to three attempts starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     8 * time.Second,
		Jitter:          0.1,
		Retryable:       IsRetryable,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt cap is reached. onRetry, if set, is called before each wait.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error, onRetry func(err error, wait time.Duration)) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(p.MaxAttempts, 1)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	op := func() error {
		err := fn(ctx, attempt)
		attempt++
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.RetryNotify(op, bo, onRetry)
}
