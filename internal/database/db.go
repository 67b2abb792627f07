package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dduho/trading-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection, retrying with exponential
// backoff so the bot survives a database that comes up after it does.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	log := logging.WithComponent("database")

	var pool *pgxpool.Pool
	connect := func() error {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		p, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err != nil {
			return err
		}
		if err := p.Ping(connectCtx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	notify := func(err error, next time.Duration) {
		log.Warn("database connection failed, retrying",
			"error", err,
			"next_attempt_in", next.String())
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	log.Info("connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)
	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info("running database migrations")

	migrations := []string{
		// Core trade record. UUID primary keys are generated by the
		// application so trades can be referenced before the insert.
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			quantity DECIMAL(20, 8) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ,
			stop_loss DECIMAL(20, 8),
			take_profit DECIMAL(20, 8),
			pnl DECIMAL(20, 8),
			pnl_percent DECIMAL(10, 4),
			base_confidence DECIMAL(10, 6) NOT NULL DEFAULT 0,
			enhanced_confidence DECIMAL(10, 6) NOT NULL DEFAULT 0,
			model_version VARCHAR(64),
			exit_reason VARCHAR(40),
			duration_minutes DECIMAL(12, 2),
			trading_mode VARCHAR(10) NOT NULL DEFAULT 'paper',
			status VARCHAR(10) NOT NULL DEFAULT 'OPEN',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time)`,

		// Indicator snapshot captured at trade entry. One row per trade;
		// the learning pipeline joins on trade_id to build training data.
		`CREATE TABLE IF NOT EXISTS trade_conditions (
			trade_id UUID PRIMARY KEY REFERENCES trades(id) ON DELETE CASCADE,
			rsi DECIMAL(10, 4),
			macd DECIMAL(20, 8),
			macd_signal DECIMAL(20, 8),
			macd_histogram DECIMAL(20, 8),
			sma_short DECIMAL(20, 8),
			sma_long DECIMAL(20, 8),
			ema_fast DECIMAL(20, 8),
			ema_slow DECIMAL(20, 8),
			atr DECIMAL(20, 8),
			bb_position DECIMAL(10, 6),
			volume_ratio DECIMAL(10, 4),
			trend VARCHAR(10),
			signal_confidence DECIMAL(10, 6),
			signal_reason TEXT,
			features JSONB,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,

		// Aggregated performance per analysis window.
		`CREATE TABLE IF NOT EXISTS strategy_performance (
			id SERIAL PRIMARY KEY,
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			total_trades INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			losing_trades INTEGER NOT NULL,
			win_rate DECIMAL(10, 6) NOT NULL,
			total_pnl DECIMAL(20, 8) NOT NULL,
			avg_win DECIMAL(20, 8),
			avg_loss DECIMAL(20, 8),
			profit_factor DECIMAL(10, 4),
			params JSONB,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_performance_window ON strategy_performance(window_end)`,

		// Metrics for every trained model artifact.
		`CREATE TABLE IF NOT EXISTS model_performance (
			id SERIAL PRIMARY KEY,
			model_version VARCHAR(64) NOT NULL UNIQUE,
			schema_version INTEGER NOT NULL,
			trained_at TIMESTAMPTZ NOT NULL,
			training_samples INTEGER NOT NULL,
			accuracy DECIMAL(10, 6),
			precision_score DECIMAL(10, 6),
			recall DECIMAL(10, 6),
			f1_score DECIMAL(10, 6),
			auc DECIMAL(10, 6),
			cv_accuracy DECIMAL(10, 6),
			feature_importance JSONB,
			active BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_performance_trained_at ON model_performance(trained_at)`,

		// Audit log of every parameter change with before/after state.
		`CREATE TABLE IF NOT EXISTS learning_events (
			id SERIAL PRIMARY KEY,
			event_type VARCHAR(40) NOT NULL,
			source VARCHAR(40) NOT NULL,
			description TEXT,
			parameters_before JSONB,
			parameters_after JSONB,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_learning_events_created_at ON learning_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_learning_events_type ON learning_events(event_type)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info("database migrations complete", "count", len(migrations))
	return nil
}
