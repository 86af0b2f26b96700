package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/brojonat/solmirror/service/ledger"
	"github.com/brojonat/solmirror/service/mirror"
)

// LedgerReader is the read side of the ledger. *ledger.Ledger implements it.
type LedgerReader interface {
	PnL(period ledger.Period) map[string]ledger.PnLGroup
	TotalPnL() ledger.TotalPnL
	LatencyAverages() ledger.LatencyAverages
	DurationStats() ledger.DurationStats
	Trades(limit int) []ledger.Trade
	FailedTrades(limit int) []ledger.FailedTrade
	Errors(limit int) []ledger.ErrorRecord
}

// StatsSource snapshots the engine statistics. *mirror.Engine implements it.
type StatsSource interface {
	Stats() mirror.Stats
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// handleStats returns the engine's statistics snapshot.
// GET /api/v1/stats
func handleStats(stats StatsSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, stats.Stats(), http.StatusOK)
	})
}

// handlePnL returns realized PnL grouped by period, or the ledger-wide total.
// GET /api/v1/pnl?period=hour|day|week|total
func handlePnL(l LedgerReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("period")
		if raw == "" {
			raw = string(ledger.PeriodDay)
		}
		period, err := ledger.ParsePeriod(raw)
		if err != nil {
			logger.Debug("invalid period", "period", raw)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if period == ledger.PeriodTotal {
			writeJSON(w, l.TotalPnL(), http.StatusOK)
			return
		}

		writeJSON(w, map[string]interface{}{
			"period": period,
			"groups": l.PnL(period),
		}, http.StatusOK)
	})
}

// handleLatency returns mean latency over the rolling windows.
// GET /api/v1/latency
func handleLatency(l LedgerReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, l.LatencyAverages(), http.StatusOK)
	})
}

// handleDurations returns holding-time statistics of closed trades.
// GET /api/v1/durations
func handleDurations(l LedgerReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, l.DurationStats(), http.StatusOK)
	})
}

// handleListTrades lists the most recent mirrored trades.
// GET /api/v1/trades?limit=N
func handleListTrades(l LedgerReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		trades := l.Trades(limit)
		logger.Debug("trades listed", "count", len(trades))

		writeJSON(w, map[string]interface{}{
			"trades": trades,
			"count":  len(trades),
			"limit":  limit,
		}, http.StatusOK)
	})
}

// handleListFailed lists the most recent rejected master trades.
// GET /api/v1/failed?limit=N
func handleListFailed(l LedgerReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		failed := l.FailedTrades(limit)
		writeJSON(w, map[string]interface{}{
			"failed_trades": failed,
			"count":         len(failed),
			"limit":         limit,
		}, http.StatusOK)
	})
}

// handleListErrors lists the most recent pipeline errors.
// GET /api/v1/errors?limit=N
func handleListErrors(l LedgerReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		errs := l.Errors(limit)
		writeJSON(w, map[string]interface{}{
			"errors": errs,
			"count":  len(errs),
			"limit":  limit,
		}, http.StatusOK)
	})
}

// parseLimit reads ?limit= (default 50, max 1000).
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: must be an integer")
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be at least 1")
	}
	if limit > maxListLimit {
		return 0, fmt.Errorf("limit cannot exceed %d", maxListLimit)
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
