package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultReportSchedule pushes stats every thirty seconds.
const DefaultReportSchedule = "@every 30s"

// StatsSource is anything that can snapshot engine stats.
type StatsSource interface {
	Stats() Stats
}

// StatsSink receives periodic stats snapshots.
type StatsSink interface {
	PublishStats(ctx context.Context, s Stats) error
}

// Reporter logs and publishes engine stats on a cron schedule.
type Reporter struct {
	cron   *cron.Cron
	src    StatsSource
	sink   StatsSink
	logger *slog.Logger
	ctx    context.Context
}

// NewReporter registers the push job. schedule uses the six-field cron
// format with seconds. sink may be nil, in which case stats are only logged.
func NewReporter(ctx context.Context, schedule string, src StatsSource, sink StatsSink, logger *slog.Logger) (*Reporter, error) {
	if schedule == "" {
		schedule = DefaultReportSchedule
	}
	r := &Reporter{
		cron:   cron.New(cron.WithSeconds()),
		src:    src,
		sink:   sink,
		logger: logger,
		ctx:    ctx,
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.Push(r.ctx) }); err != nil {
		return nil, fmt.Errorf("register stats report: %w", err)
	}
	return r, nil
}

// Start begins the schedule.
func (r *Reporter) Start() {
	r.cron.Start()
	r.logger.Info("stats reporter started")
}

// Stop halts the schedule and waits for a running push to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("stats reporter stopped")
}

// Push logs one snapshot and hands it to the sink.
func (r *Reporter) Push(ctx context.Context) {
	s := r.src.Stats()

	var last string
	if !s.LastTradeTime.IsZero() {
		last = s.LastTradeTime.UTC().Format(time.RFC3339)
	}
	r.logger.InfoContext(ctx, "mirror stats",
		"total_copies", s.TotalCopies,
		"successful_copies", s.SuccessfulCopies,
		"failed_copies", s.FailedCopies,
		"skipped_records", s.SkippedRecords,
		"avg_latency_ms", s.AvgLatencyMs,
		"last_trade_time", last,
	)

	if r.sink == nil {
		return
	}
	if err := r.sink.PublishStats(ctx, s); err != nil {
		r.logger.WarnContext(ctx, "failed to publish stats", "error", err)
	}
}
