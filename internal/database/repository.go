package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// TRADES
// ============================================================================

const tradeColumns = `id, symbol, direction, entry_price, exit_price, quantity, entry_time, exit_time,
	stop_loss, take_profit, pnl, pnl_percent, base_confidence, enhanced_confidence,
	model_version, exit_reason, duration_minutes, trading_mode, status, created_at, updated_at`

// CreateTrade inserts a new open trade. A UUID is assigned when the caller
// has not set one.
func (r *Repository) CreateTrade(ctx context.Context, trade *Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.Status == "" {
		trade.Status = TradeStatusOpen
	}
	query := `
		INSERT INTO trades (id, symbol, direction, entry_price, quantity, entry_time,
			stop_loss, take_profit, base_confidence, enhanced_confidence,
			model_version, trading_mode, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		trade.ID, trade.Symbol, trade.Direction, trade.EntryPrice, trade.Quantity, trade.EntryTime,
		trade.StopLoss, trade.TakeProfit, trade.BaseConfidence, trade.EnhancedConfidence,
		trade.ModelVersion, trade.TradingMode, trade.Status,
	).Scan(&trade.CreatedAt, &trade.UpdatedAt)
}

// CloseTrade marks a trade closed with its outcome.
func (r *Repository) CloseTrade(ctx context.Context, id string, exitPrice float64, exitTime time.Time, pnl, pnlPercent float64, exitReason string) error {
	query := `
		UPDATE trades
		SET exit_price = $2, exit_time = $3, pnl = $4, pnl_percent = $5, exit_reason = $6,
		    duration_minutes = EXTRACT(EPOCH FROM ($3 - entry_time)) / 60,
		    status = 'CLOSED', updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'OPEN'
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, exitPrice, exitTime, pnl, pnlPercent, exitReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close trade %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetTradeByID retrieves a trade by ID
func (r *Repository) GetTradeByID(ctx context.Context, id string) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`
	trade := &Trade{}
	err := scanTrade(r.db.Pool.QueryRow(ctx, query, id), trade)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// GetOpenTrades retrieves all open trades, newest first
func (r *Repository) GetOpenTrades(ctx context.Context) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = 'OPEN' ORDER BY entry_time DESC`
	return r.queryTrades(ctx, query)
}

// GetOpenTradeBySymbol returns the open trade for a symbol, or ErrNotFound.
func (r *Repository) GetOpenTradeBySymbol(ctx context.Context, symbol string) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = 'OPEN' AND symbol = $1 LIMIT 1`
	trade := &Trade{}
	err := scanTrade(r.db.Pool.QueryRow(ctx, query, symbol), trade)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("open trade for %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// GetTradeHistory retrieves closed trades with pagination, newest first
func (r *Repository) GetTradeHistory(ctx context.Context, limit, offset int) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = 'CLOSED'
		ORDER BY exit_time DESC LIMIT $1 OFFSET $2`
	return r.queryTrades(ctx, query, limit, offset)
}

// GetClosedTradesSince retrieves trades closed at or after the given time
func (r *Repository) GetClosedTradesSince(ctx context.Context, since time.Time) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = 'CLOSED' AND exit_time >= $1
		ORDER BY exit_time ASC`
	return r.queryTrades(ctx, query, since)
}

// GetRecentClosedTrades retrieves the most recently closed trades
func (r *Repository) GetRecentClosedTrades(ctx context.Context, limit int) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = 'CLOSED'
		ORDER BY exit_time DESC LIMIT $1`
	return r.queryTrades(ctx, query, limit)
}

// CountOpenTrades returns the number of currently open trades
func (r *Repository) CountOpenTrades(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE status = 'OPEN'`).Scan(&count)
	return count, err
}

// CountTradesOpenedSince returns how many trades were opened at or after
// the given time, regardless of status.
func (r *Repository) CountTradesOpenedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE entry_time >= $1`, since).Scan(&count)
	return count, err
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		trade := &Trade{}
		if err := scanTrade(rows, trade); err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner, trade *Trade) error {
	return row.Scan(
		&trade.ID, &trade.Symbol, &trade.Direction, &trade.EntryPrice, &trade.ExitPrice,
		&trade.Quantity, &trade.EntryTime, &trade.ExitTime, &trade.StopLoss, &trade.TakeProfit,
		&trade.PnL, &trade.PnLPercent, &trade.BaseConfidence, &trade.EnhancedConfidence,
		&trade.ModelVersion, &trade.ExitReason, &trade.DurationMinutes, &trade.TradingMode,
		&trade.Status, &trade.CreatedAt, &trade.UpdatedAt,
	)
}

// ============================================================================
// TRADE CONDITIONS
// ============================================================================

// SaveTradeConditions stores the indicator snapshot for a trade entry
func (r *Repository) SaveTradeConditions(ctx context.Context, tc *TradeConditions) error {
	query := `
		INSERT INTO trade_conditions (trade_id, rsi, macd, macd_signal, macd_histogram,
			sma_short, sma_long, ema_fast, ema_slow, atr, bb_position, volume_ratio,
			trend, signal_confidence, signal_reason, features)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		tc.TradeID, tc.RSI, tc.MACD, tc.MACDSignal, tc.MACDHistogram,
		tc.SMAShort, tc.SMALong, tc.EMAFast, tc.EMASlow, tc.ATR, tc.BBPosition, tc.VolumeRatio,
		tc.Trend, tc.SignalConfidence, tc.SignalReason, tc.Features,
	)
	return err
}

// GetTradeConditions retrieves the entry snapshot for a trade
func (r *Repository) GetTradeConditions(ctx context.Context, tradeID string) (*TradeConditions, error) {
	query := `
		SELECT trade_id, rsi, macd, macd_signal, macd_histogram, sma_short, sma_long,
		       ema_fast, ema_slow, atr, bb_position, volume_ratio, trend,
		       signal_confidence, signal_reason, features, created_at
		FROM trade_conditions WHERE trade_id = $1
	`
	tc := &TradeConditions{}
	err := r.db.Pool.QueryRow(ctx, query, tradeID).Scan(
		&tc.TradeID, &tc.RSI, &tc.MACD, &tc.MACDSignal, &tc.MACDHistogram,
		&tc.SMAShort, &tc.SMALong, &tc.EMAFast, &tc.EMASlow, &tc.ATR,
		&tc.BBPosition, &tc.VolumeRatio, &tc.Trend,
		&tc.SignalConfidence, &tc.SignalReason, &tc.Features, &tc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conditions for trade %s: %w", tradeID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return tc, nil
}

// GetClosedTradesWithConditions returns closed trades joined with their
// entry snapshots, oldest first. Trades without a snapshot are skipped;
// only complete pairs are usable as training samples.
func (r *Repository) GetClosedTradesWithConditions(ctx context.Context, limit int) ([]*TradeWithConditions, error) {
	query := `
		SELECT ` + tradeColumns + `,
		       tc.trade_id, tc.rsi, tc.macd, tc.macd_signal, tc.macd_histogram,
		       tc.sma_short, tc.sma_long, tc.ema_fast, tc.ema_slow, tc.atr,
		       tc.bb_position, tc.volume_ratio, tc.trend,
		       tc.signal_confidence, tc.signal_reason, tc.features, tc.created_at
		FROM trades
		JOIN trade_conditions tc ON tc.trade_id = trades.id
		WHERE trades.status = 'CLOSED'
		ORDER BY trades.exit_time ASC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TradeWithConditions
	for rows.Next() {
		trade := &Trade{}
		tc := &TradeConditions{}
		err := rows.Scan(
			&trade.ID, &trade.Symbol, &trade.Direction, &trade.EntryPrice, &trade.ExitPrice,
			&trade.Quantity, &trade.EntryTime, &trade.ExitTime, &trade.StopLoss, &trade.TakeProfit,
			&trade.PnL, &trade.PnLPercent, &trade.BaseConfidence, &trade.EnhancedConfidence,
			&trade.ModelVersion, &trade.ExitReason, &trade.DurationMinutes, &trade.TradingMode,
			&trade.Status, &trade.CreatedAt, &trade.UpdatedAt,
			&tc.TradeID, &tc.RSI, &tc.MACD, &tc.MACDSignal, &tc.MACDHistogram,
			&tc.SMAShort, &tc.SMALong, &tc.EMAFast, &tc.EMASlow, &tc.ATR,
			&tc.BBPosition, &tc.VolumeRatio, &tc.Trend,
			&tc.SignalConfidence, &tc.SignalReason, &tc.Features, &tc.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &TradeWithConditions{Trade: trade, Conditions: tc})
	}
	return out, rows.Err()
}

// ============================================================================
// PERFORMANCE AGGREGATES
// ============================================================================

// GetPerformanceStats computes aggregate stats over trades closed at or
// after the given time.
func (r *Repository) GetPerformanceStats(ctx context.Context, since time.Time) (*PerformanceStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE pnl > 0),
			COUNT(*) FILTER (WHERE pnl <= 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(AVG(pnl) FILTER (WHERE pnl > 0), 0),
			COALESCE(AVG(pnl) FILTER (WHERE pnl <= 0), 0),
			COALESCE(SUM(pnl) FILTER (WHERE pnl > 0), 0),
			COALESCE(ABS(SUM(pnl) FILTER (WHERE pnl <= 0)), 0),
			COALESCE(MAX(pnl), 0),
			COALESCE(MIN(pnl), 0),
			COALESCE(AVG(duration_minutes), 0)
		FROM trades
		WHERE status = 'CLOSED' AND exit_time >= $1
	`
	stats := &PerformanceStats{}
	var grossProfit, grossLoss float64
	err := r.db.Pool.QueryRow(ctx, query, since).Scan(
		&stats.TotalTrades, &stats.WinningTrades, &stats.LosingTrades,
		&stats.TotalPnL, &stats.AvgWin, &stats.AvgLoss,
		&grossProfit, &grossLoss,
		&stats.BestTrade, &stats.WorstTrade,
		&stats.AvgDuration,
	)
	if err != nil {
		return nil, err
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		stats.ProfitFactor = grossProfit
	}
	return stats, nil
}

// GetSymbolStats computes per-symbol aggregates over trades closed at or
// after the given time.
func (r *Repository) GetSymbolStats(ctx context.Context, since time.Time) ([]*SymbolStats, error) {
	query := `
		SELECT
			symbol,
			COUNT(*),
			COALESCE(COUNT(*) FILTER (WHERE pnl > 0)::float / NULLIF(COUNT(*), 0), 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(SUM(pnl) FILTER (WHERE pnl > 0), 0),
			COALESCE(ABS(SUM(pnl) FILTER (WHERE pnl <= 0)), 0)
		FROM trades
		WHERE status = 'CLOSED' AND exit_time >= $1
		GROUP BY symbol
		ORDER BY symbol
	`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SymbolStats
	for rows.Next() {
		s := &SymbolStats{}
		var grossProfit, grossLoss float64
		if err := rows.Scan(&s.Symbol, &s.TotalTrades, &s.WinRate, &s.TotalPnL, &grossProfit, &grossLoss); err != nil {
			return nil, err
		}
		if grossLoss > 0 {
			s.ProfitFactor = grossProfit / grossLoss
		} else if grossProfit > 0 {
			s.ProfitFactor = grossProfit
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveStrategyPerformance stores an aggregated analysis window
func (r *Repository) SaveStrategyPerformance(ctx context.Context, sp *StrategyPerformance) error {
	query := `
		INSERT INTO strategy_performance (window_start, window_end, total_trades,
			winning_trades, losing_trades, win_rate, total_pnl, avg_win, avg_loss,
			profit_factor, params)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		sp.WindowStart, sp.WindowEnd, sp.TotalTrades, sp.WinningTrades, sp.LosingTrades,
		sp.WinRate, sp.TotalPnL, sp.AvgWin, sp.AvgLoss, sp.ProfitFactor, sp.Params,
	).Scan(&sp.ID, &sp.CreatedAt)
}

// ============================================================================
// MODEL PERFORMANCE
// ============================================================================

// SaveModelPerformance stores metrics for a trained model artifact
func (r *Repository) SaveModelPerformance(ctx context.Context, mp *ModelPerformance) error {
	query := `
		INSERT INTO model_performance (model_version, schema_version, trained_at,
			training_samples, accuracy, precision_score, recall, f1_score, auc,
			cv_accuracy, feature_importance, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		mp.ModelVersion, mp.SchemaVersion, mp.TrainedAt, mp.TrainingSamples,
		mp.Accuracy, mp.Precision, mp.Recall, mp.F1Score, mp.AUC, mp.CVAccuracy,
		mp.FeatureImportance, mp.Active,
	).Scan(&mp.ID, &mp.CreatedAt)
}

// ActivateModel marks one model version active and deactivates the rest.
func (r *Repository) ActivateModel(ctx context.Context, modelVersion string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE model_performance SET active = FALSE WHERE active`); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE model_performance SET active = TRUE WHERE model_version = $1`, modelVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("model %s: %w", modelVersion, ErrNotFound)
	}
	return tx.Commit(ctx)
}

// GetActiveModel returns the currently active model's metrics, or ErrNotFound.
func (r *Repository) GetActiveModel(ctx context.Context) (*ModelPerformance, error) {
	query := `
		SELECT id, model_version, schema_version, trained_at, training_samples,
		       accuracy, precision_score, recall, f1_score, auc, cv_accuracy,
		       feature_importance, active, created_at
		FROM model_performance WHERE active LIMIT 1
	`
	mp := &ModelPerformance{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&mp.ID, &mp.ModelVersion, &mp.SchemaVersion, &mp.TrainedAt, &mp.TrainingSamples,
		&mp.Accuracy, &mp.Precision, &mp.Recall, &mp.F1Score, &mp.AUC, &mp.CVAccuracy,
		&mp.FeatureImportance, &mp.Active, &mp.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active model: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return mp, nil
}

// ============================================================================
// LEARNING EVENTS
// ============================================================================

// SaveLearningEvent stores a parameter/model change audit record
func (r *Repository) SaveLearningEvent(ctx context.Context, ev *LearningEvent) error {
	query := `
		INSERT INTO learning_events (event_type, source, description,
			parameters_before, parameters_after)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		ev.EventType, ev.Source, ev.Description, ev.ParametersBefore, ev.ParametersAfter,
	).Scan(&ev.ID, &ev.CreatedAt)
}

// GetRecentLearningEvents retrieves the latest audit records, newest first
func (r *Repository) GetRecentLearningEvents(ctx context.Context, limit int) ([]*LearningEvent, error) {
	query := `
		SELECT id, event_type, source, description, parameters_before, parameters_after, created_at
		FROM learning_events ORDER BY created_at DESC LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LearningEvent
	for rows.Next() {
		ev := &LearningEvent{}
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Source, &ev.Description,
			&ev.ParametersBefore, &ev.ParametersAfter, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
