package feed

import (
	"context"
	"log/slog"

	"github.com/brojonat/solmirror/service/metrics"
	"github.com/brojonat/solmirror/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Modes reported to metrics.
const (
	ModeStream = "stream"
	ModePoll   = "poll"
)

// Config configures a Watcher.
type Config struct {
	Master solanago.PublicKey
	Stream StreamConfig
	Poll   PollerConfig
	// Buffer is the capacity of the delivery channel.
	Buffer int
	// DedupeSize is how many emitted signatures are remembered.
	DedupeSize int
}

// Watcher delivers the master wallet's transactions on a bounded channel.
// It streams when an endpoint is configured, resubscribes once on failure
// and then falls back to polling for the rest of its life. Failed
// transactions and signatures it already delivered are dropped.
type Watcher struct {
	cfg     Config
	poller  *Poller
	logger  *slog.Logger
	metrics *metrics.Metrics

	seen    *recentSet
	out     chan *solana.Record
	lastSig string
}

// NewWatcher creates a watcher. source backs the polling fallback.
func NewWatcher(cfg Config, source SignatureSource, logger *slog.Logger, m *metrics.Metrics) *Watcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = 1024
	}
	return &Watcher{
		cfg:     cfg,
		poller:  NewPoller(source, cfg.Master, cfg.Poll, logger, m),
		logger:  logger,
		metrics: m,
		seen:    newRecentSet(cfg.DedupeSize),
	}
}

// Watch starts watching and returns the delivery channel. The channel is
// closed when ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) <-chan *solana.Record {
	w.out = make(chan *solana.Record, w.cfg.Buffer)
	go func() {
		defer close(w.out)
		w.run(ctx)
	}()
	return w.out
}

func (w *Watcher) run(ctx context.Context) {
	master := w.cfg.Master.String()

	if w.cfg.Stream.Endpoint != "" {
		for attempt := range 2 {
			w.setMode(ModeStream)
			err := w.streamOnce(ctx, master)
			if ctx.Err() != nil {
				return
			}
			if attempt == 0 {
				w.logger.WarnContext(ctx, "stream failed, resubscribing", "error", err)
			} else {
				w.logger.WarnContext(ctx, "stream failed again, falling back to polling", "error", err)
			}
		}
	}

	if w.lastSig != "" {
		if sig, err := solanago.SignatureFromBase58(w.lastSig); err == nil {
			w.poller.Resume(sig)
		}
	}

	w.setMode(ModePoll)
	w.logger.InfoContext(ctx, "polling for transactions",
		"wallet", master,
		"interval", w.cfg.Poll.Interval,
	)
	w.poller.Run(ctx, w.emit)
}

func (w *Watcher) streamOnce(ctx context.Context, master string) error {
	stream, err := DialStream(ctx, w.cfg.Stream, master, w.logger, w.metrics)
	if err != nil {
		return err
	}
	defer stream.Close()
	return stream.Run(ctx, w.emit)
}

// emit filters and delivers one record. It blocks while the channel is full.
func (w *Watcher) emit(ctx context.Context, rec *solana.Record) error {
	if rec.Signature == "" {
		w.drop("no_signature")
		return nil
	}
	if rec.Failed() {
		w.drop("failed_on_chain")
		return nil
	}
	if !w.seen.add(rec.Signature) {
		w.drop("duplicate")
		return nil
	}

	select {
	case w.out <- rec:
	case <-ctx.Done():
		return ctx.Err()
	}

	if rec.Source == solana.SourceStream {
		w.lastSig = rec.Signature
	}
	if w.metrics != nil {
		w.metrics.RecordFeedRecord(string(rec.Source))
	}
	return nil
}

func (w *Watcher) drop(reason string) {
	if w.metrics != nil {
		w.metrics.RecordFeedDropped(reason)
	}
}

func (w *Watcher) setMode(mode string) {
	if w.metrics != nil {
		w.metrics.RecordFeedMode(mode)
	}
}

// recentSet remembers the last n strings added.
type recentSet struct {
	items map[string]struct{}
	order []string
	next  int
}

func newRecentSet(n int) *recentSet {
	return &recentSet{
		items: make(map[string]struct{}, n),
		order: make([]string, 0, n),
	}
}

// add reports whether s was not already present.
func (r *recentSet) add(s string) bool {
	if _, ok := r.items[s]; ok {
		return false
	}
	if len(r.order) < cap(r.order) {
		r.order = append(r.order, s)
	} else {
		delete(r.items, r.order[r.next])
		r.order[r.next] = s
		r.next = (r.next + 1) % len(r.order)
	}
	r.items[s] = struct{}{}
	return true
}
