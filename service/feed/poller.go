package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/brojonat/solmirror/service/metrics"
	"github.com/brojonat/solmirror/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// SignatureSource is the RPC surface the poller needs. *solana.Client
// implements it.
type SignatureSource interface {
	RecentSignatures(ctx context.Context, wallet solanago.PublicKey, limit int) ([]*rpc.TransactionSignature, error)
	FetchTransaction(ctx context.Context, signature solanago.Signature) (*rpc.GetTransactionResult, error)
}

// PollerConfig configures the polling fallback.
type PollerConfig struct {
	Interval time.Duration
	// Limit is the signature window per poll.
	Limit int
	// RequestsPerSecond throttles per-signature transaction fetches.
	RequestsPerSecond float64
	// HeartbeatEvery logs a liveness line every N polls; 0 disables it.
	HeartbeatEvery int
}

// DefaultPollerConfig polls the last 5 signatures every 5 seconds.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:          5 * time.Second,
		Limit:             5,
		RequestsPerSecond: 2,
		HeartbeatEvery:    12,
	}
}

// Poller discovers new transactions by comparing recent signature lists
// against the last one it has seen.
type Poller struct {
	source  SignatureSource
	wallet  solanago.PublicKey
	cfg     PollerConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics

	lastSeen  solanago.Signature
	baselined bool
	polls     int
}

// NewPoller creates a poller for wallet.
func NewPoller(source SignatureSource, wallet solanago.PublicKey, cfg PollerConfig, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Poller{
		source:  source,
		wallet:  wallet,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		metrics: m,
	}
}

// Resume sets the last seen signature, e.g. the last one the stream
// delivered, so the next poll emits only what came after it.
func (p *Poller) Resume(sig solanago.Signature) {
	p.lastSeen = sig
	p.baselined = true
}

// Run polls every Interval until ctx is cancelled. Poll errors are logged
// and the loop continues.
func (p *Poller) Run(ctx context.Context, emit func(context.Context, *solana.Record) error) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx, emit); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WarnContext(ctx, "poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs a single cycle. The first cycle without a prior signature only
// records a baseline. Later cycles emit every signature newer than the last
// one seen, oldest first.
func (p *Poller) Poll(ctx context.Context, emit func(context.Context, *solana.Record) error) error {
	p.polls++
	if p.cfg.HeartbeatEvery > 0 && p.polls%p.cfg.HeartbeatEvery == 0 {
		p.logger.InfoContext(ctx, "Still monitoring",
			"wallet", p.wallet.String(),
			"polls", p.polls,
		)
	}

	sigs, err := p.source.RecentSignatures(ctx, p.wallet, p.cfg.Limit)
	if err != nil {
		return err
	}

	if !p.baselined {
		p.baselined = true
		if len(sigs) > 0 {
			p.lastSeen = sigs[0].Signature
		}
		p.logger.InfoContext(ctx, "polling baseline established",
			"wallet", p.wallet.String(),
			"last_seen", p.lastSeen.String(),
		)
		return nil
	}

	var fresh []*rpc.TransactionSignature
	for _, s := range sigs {
		if s.Signature == p.lastSeen {
			break
		}
		fresh = append(fresh, s)
	}
	if len(fresh) == 0 {
		return nil
	}
	p.lastSeen = sigs[0].Signature

	for i := len(fresh) - 1; i >= 0; i-- {
		s := fresh[i]
		if s.Err != nil {
			p.drop(ctx, s.Signature, "failed_on_chain")
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		result, err := p.source.FetchTransaction(ctx, s.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WarnContext(ctx, "skipping transaction after fetch failure",
				"signature", s.Signature.String(),
				"error", err,
			)
			p.drop(ctx, s.Signature, "fetch_failed")
			continue
		}

		raw, err := json.Marshal(result)
		if err != nil {
			p.logger.WarnContext(ctx, "failed to encode transaction", "signature", s.Signature.String(), "error", err)
		}

		rec := &solana.Record{
			Signature:  s.Signature.String(),
			Slot:       result.Slot,
			Source:     solana.SourcePoll,
			ReceivedAt: time.Now(),
			Poll:       result,
			Raw:        raw,
		}
		if err := emit(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) drop(ctx context.Context, sig solanago.Signature, reason string) {
	p.logger.DebugContext(ctx, "dropping signature", "signature", sig.String(), "reason", reason)
	if p.metrics != nil {
		p.metrics.RecordFeedDropped(reason)
	}
}
