package ledger

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const pgErrUniqueViolation = "23505"

// ErrDuplicateTrade is returned when a trade id is inserted twice.
var ErrDuplicateTrade = errors.New("duplicate trade id")

// PostgresStore persists the ledger in Postgres, one table per record kind.
type PostgresStore struct {
	pool       *pgxpool.Pool
	latencyCap int
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, latencyCap int) *PostgresStore {
	if latencyCap <= 0 {
		latencyCap = DefaultLatencyCapacity
	}
	return &PostgresStore{pool: pool, latencyCap: latencyCap}
}

// ConnectPostgres opens a pool for dsn, verifies it and applies the schema.
func ConnectPostgres(ctx context.Context, dsn string, latencyCap int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgresStore(pool, latencyCap)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	var err error

	if snap.Trades, err = s.loadTrades(ctx); err != nil {
		return nil, err
	}
	if snap.FailedTrades, err = s.loadFailed(ctx); err != nil {
		return nil, err
	}
	if snap.Errors, err = s.loadErrors(ctx); err != nil {
		return nil, err
	}
	if snap.LatencyHistory, err = s.loadLatency(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t Trade) error {
	query := `
		INSERT INTO ledger_trades (
			trade_id, created_at, signature, master_signature, token_in, token_out,
			amount_in, amount_out, entry_price, is_buy, dex, strategy, latency_ms,
			master_amount, your_amount, status, exit_price, exit_at, duration_seconds,
			pnl, pnl_percent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Timestamp, t.Signature, t.MasterSignature, t.TokenIn, t.TokenOut,
		t.AmountIn, t.AmountOut, t.EntryPrice, t.IsBuy, t.DEX, t.Strategy, t.LatencyMs,
		t.MasterAmount, t.YourAmount, t.Status, t.ExitPrice, t.ExitTime, t.DurationSeconds,
		t.PnL, t.PnLPercent,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return ErrDuplicateTrade
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTrade(ctx context.Context, t Trade) error {
	query := `
		UPDATE ledger_trades
		SET exit_price = $2, exit_at = $3, duration_seconds = $4, pnl = $5, pnl_percent = $6, status = $7
		WHERE trade_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, t.ID, t.ExitPrice, t.ExitTime, t.DurationSeconds, t.PnL, t.PnLPercent, t.Status)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendFailed(ctx context.Context, f FailedTrade) error {
	info, err := marshalJSONB(f.TradeInfo)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ledger_failed_trades (created_at, reason, master_signature, master_amount, trade_info)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.pool.Exec(ctx, query, f.Timestamp, f.Reason, f.MasterSignature, f.MasterAmount, info); err != nil {
		return fmt.Errorf("insert failed trade: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendError(ctx context.Context, e ErrorRecord) error {
	errCtx, err := marshalJSONB(e.Context)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ledger_errors (created_at, message, error_type, potential_cause, context)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.pool.Exec(ctx, query, e.Timestamp, e.Message, e.Type, e.PotentialCause, errCtx); err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendLatency(ctx context.Context, sample LatencySample) error {
	query := `INSERT INTO ledger_latency (created_at, latency_ms) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, sample.Timestamp, sample.LatencyMs); err != nil {
		return fmt.Errorf("insert latency sample: %w", err)
	}
	return nil
}

func (s *PostgresStore) loadTrades(ctx context.Context) ([]Trade, error) {
	query := `
		SELECT trade_id, created_at, signature, master_signature, token_in, token_out,
			amount_in, amount_out, entry_price, is_buy, dex, strategy, latency_ms,
			master_amount, your_amount, status, exit_price, exit_at, duration_seconds,
			pnl, pnl_percent
		FROM ledger_trades
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(
			&t.ID, &t.Timestamp, &t.Signature, &t.MasterSignature, &t.TokenIn, &t.TokenOut,
			&t.AmountIn, &t.AmountOut, &t.EntryPrice, &t.IsBuy, &t.DEX, &t.Strategy, &t.LatencyMs,
			&t.MasterAmount, &t.YourAmount, &t.Status, &t.ExitPrice, &t.ExitTime, &t.DurationSeconds,
			&t.PnL, &t.PnLPercent,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		if t.ExitTime != nil {
			exit := t.ExitTime.UTC()
			t.ExitTime = &exit
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) loadFailed(ctx context.Context) ([]FailedTrade, error) {
	query := `
		SELECT created_at, reason, master_signature, master_amount, trade_info
		FROM ledger_failed_trades
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load failed trades: %w", err)
	}
	defer rows.Close()

	var out []FailedTrade
	for rows.Next() {
		var f FailedTrade
		var info []byte
		if err := rows.Scan(&f.Timestamp, &f.Reason, &f.MasterSignature, &f.MasterAmount, &info); err != nil {
			return nil, fmt.Errorf("scan failed trade: %w", err)
		}
		if f.TradeInfo, err = unmarshalJSONB(info); err != nil {
			return nil, err
		}
		f.Timestamp = f.Timestamp.UTC()
		f.Status = "failed"
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadErrors(ctx context.Context) ([]ErrorRecord, error) {
	query := `
		SELECT created_at, message, error_type, potential_cause, context
		FROM ledger_errors
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorRecord
	for rows.Next() {
		var e ErrorRecord
		var errCtx []byte
		if err := rows.Scan(&e.Timestamp, &e.Message, &e.Type, &e.PotentialCause, &errCtx); err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		if e.Context, err = unmarshalJSONB(errCtx); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// loadLatency returns the newest latencyCap samples, oldest first.
func (s *PostgresStore) loadLatency(ctx context.Context) ([]LatencySample, error) {
	query := `
		SELECT created_at, latency_ms
		FROM ledger_latency
		ORDER BY id DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, s.latencyCap)
	if err != nil {
		return nil, fmt.Errorf("load latency history: %w", err)
	}
	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LatencySample, error) {
		var ts time.Time
		var ms float64
		if err := row.Scan(&ts, &ms); err != nil {
			return LatencySample{}, err
		}
		return LatencySample{Timestamp: ts.UTC(), LatencyMs: ms}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan latency sample: %w", err)
	}
	slices.Reverse(samples)
	return samples, nil
}

func marshalJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return b, nil
}

func unmarshalJSONB(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode jsonb: %w", err)
	}
	return m, nil
}
