package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dduho/trading-bot/internal/logging"
)

const stateKey = "trading-bot:risk:state"

// persistedState is the subset of gatekeeper state that survives restarts
// within the same UTC day.
type persistedState struct {
	Day         string             `json:"day"`
	DailyTrades int                `json:"daily_trades"`
	DailyPnL    float64            `json:"daily_pnl"`
	LastTrade   map[string]int64   `json:"last_trade_unix"`
	SavedAt     time.Time          `json:"saved_at"`
}

// StatePersister snapshots gatekeeper counters to Redis so a quick restart
// does not forget the day's trade count or active cooldowns.
type StatePersister struct {
	client *redis.Client
	log    *logging.Logger
}

// NewStatePersister creates a persister backed by the given Redis client.
func NewStatePersister(client *redis.Client, log *logging.Logger) *StatePersister {
	if log == nil {
		log = logging.Default()
	}
	return &StatePersister{client: client, log: log.WithComponent("risk")}
}

// Save writes the gatekeeper's daily counters to Redis with a 48h TTL.
func (sp *StatePersister) Save(ctx context.Context, g *Gatekeeper) error {
	g.mu.Lock()
	state := persistedState{
		Day:         g.currentDay.Format("2006-01-02"),
		DailyTrades: g.dailyTrades,
		DailyPnL:    g.dailyPnL,
		LastTrade:   make(map[string]int64, len(g.lastTradeTime)),
		SavedAt:     time.Now().UTC(),
	}
	for sym, t := range g.lastTradeTime {
		state.LastTrade[sym] = t.Unix()
	}
	g.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal risk state: %w", err)
	}
	if err := sp.client.Set(ctx, stateKey, data, 48*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to persist risk state: %w", err)
	}
	return nil
}

// Restore loads persisted counters into the gatekeeper. Stale snapshots
// from a previous UTC day are ignored; the day rollover handles them.
func (sp *StatePersister) Restore(ctx context.Context, g *Gatekeeper) error {
	data, err := sp.client.Get(ctx, stateKey).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read risk state: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode risk state: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if state.Day != g.currentDay.Format("2006-01-02") {
		sp.log.Info("discarding risk state from previous day", "day", state.Day)
		return nil
	}

	g.dailyTrades = state.DailyTrades
	g.dailyPnL = state.DailyPnL
	for sym, unix := range state.LastTrade {
		g.lastTradeTime[sym] = time.Unix(unix, 0).UTC()
	}
	sp.log.Info("risk state restored",
		"daily_trades", state.DailyTrades,
		"daily_pnl", state.DailyPnL)
	return nil
}
