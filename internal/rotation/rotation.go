package rotation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/logging"
)

// StatsSource is the slice of the repository the rotator reads from.
type StatsSource interface {
	GetSymbolStats(ctx context.Context, since time.Time) ([]*database.SymbolStats, error)
	GetPerformanceStats(ctx context.Context, since time.Time) (*database.PerformanceStats, error)
}

const (
	// minTotalTrades is the overall closed trade count before any
	// rotation runs at all.
	minTotalTrades = 50
	// minTradesToEvaluate is the per-symbol sample needed before a poor
	// score can evict it.
	minTradesToEvaluate = 10
	// minTradesForScore is the per-symbol sample below which the symbol
	// gets the neutral score instead of a computed one.
	minTradesForScore = 3
	// neutralScore is assigned to symbols without enough history. It sits
	// at the eviction threshold so unknowns are kept but never protected.
	neutralScore = 0.3

	analysisWindow = 7 * 24 * time.Hour
)

// Score weighs win rate, normalized PnL and normalized profit factor.
func Score(winRate, totalPnL, profitFactor float64) float64 {
	score := winRate*0.4 + (totalPnL/100)*0.3 + (profitFactor/3)*0.3
	if score < 0 {
		return 0
	}
	return score
}

// SymbolScore is one symbol's evaluation in a rotation pass.
type SymbolScore struct {
	Symbol      string  `json:"symbol"`
	TotalTrades int     `json:"total_trades"`
	WinRate     float64 `json:"win_rate"`
	TotalPnL    float64 `json:"total_pnl"`
	Score       float64 `json:"score"`
}

// Result reports the outcome of one rotation pass.
type Result struct {
	Rotated bool          `json:"rotated"`
	Kept    []string      `json:"kept,omitempty"`
	Removed []string      `json:"removed,omitempty"`
	Added   []string      `json:"added,omitempty"`
	Active  []string      `json:"active"`
	Scores  []SymbolScore `json:"scores,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// Rotator maintains the active symbol set, periodically replacing
// underperformers with fresh candidates from the pool.
type Rotator struct {
	mu         sync.RWMutex
	active     []string
	pool       []string
	maxSymbols int
	minSymbols int

	source StatsSource
	bus    *events.EventBus
	log    *logging.Logger
	now    func() time.Time
}

func New(initial, pool []string, maxSymbols, minSymbols int, source StatsSource, bus *events.EventBus, log *logging.Logger) *Rotator {
	if log == nil {
		log = logging.Default()
	}
	return &Rotator{
		active:     append([]string(nil), initial...),
		pool:       append([]string(nil), pool...),
		maxSymbols: maxSymbols,
		minSymbols: minSymbols,
		source:     source,
		bus:        bus,
		log:        log.WithComponent("rotation"),
		now:        time.Now,
	}
}

// SetClock overrides the time source for tests.
func (r *Rotator) SetClock(now func() time.Time) { r.now = now }

// Active returns a copy of the current symbol set.
func (r *Rotator) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.active...)
}

// Rotate runs one rotation pass. With too little history, or when the
// current set is already optimal, it reports Rotated=false and changes
// nothing.
func (r *Rotator) Rotate(ctx context.Context) (Result, error) {
	since := r.now().UTC().Add(-analysisWindow)

	overall, err := r.source.GetPerformanceStats(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("querying overall stats: %w", err)
	}
	if overall.TotalTrades < minTotalTrades {
		return Result{
			Active: r.Active(),
			Reason: fmt.Sprintf("only %d trades in window, need %d to rotate", overall.TotalTrades, minTotalTrades),
		}, nil
	}

	stats, err := r.source.GetSymbolStats(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("querying symbol stats: %w", err)
	}
	bySymbol := make(map[string]*database.SymbolStats, len(stats))
	for _, s := range stats {
		bySymbol[s.Symbol] = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	scored := make([]SymbolScore, 0, len(r.active))
	for _, symbol := range r.active {
		sc := SymbolScore{Symbol: symbol, Score: neutralScore}
		if s, ok := bySymbol[symbol]; ok && s.TotalTrades >= minTradesForScore {
			sc.TotalTrades = s.TotalTrades
			sc.WinRate = s.WinRate
			sc.TotalPnL = s.TotalPnL
			sc.Score = Score(s.WinRate, s.TotalPnL, s.ProfitFactor)
		}
		scored = append(scored, sc)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	// The best performers always survive the rotation.
	keepCount := r.minSymbols - 2
	if keepCount < 3 {
		keepCount = 3
	}
	if keepCount > len(scored) {
		keepCount = len(scored)
	}

	next := make([]string, 0, r.maxSymbols)
	var kept, removed []string
	for i, sc := range scored {
		if i < keepCount {
			next = append(next, sc.Symbol)
			kept = append(kept, sc.Symbol)
			continue
		}
		// Evict only symbols that earned a poor score over a real sample.
		if sc.TotalTrades >= minTradesToEvaluate && sc.Score < neutralScore {
			removed = append(removed, sc.Symbol)
			continue
		}
		if len(next) < r.maxSymbols {
			next = append(next, sc.Symbol)
			kept = append(kept, sc.Symbol)
		}
	}

	// Backfill from the pool, preserving its priority order.
	var added []string
	for _, candidate := range r.pool {
		if len(next) >= r.maxSymbols {
			break
		}
		if containsSymbol(next, candidate) || containsSymbol(r.active, candidate) {
			continue
		}
		next = append(next, candidate)
		added = append(added, candidate)
	}
	for _, candidate := range r.pool {
		if len(next) >= r.minSymbols {
			break
		}
		if containsSymbol(next, candidate) {
			continue
		}
		next = append(next, candidate)
		added = append(added, candidate)
	}

	// The pool could not refill to the floor. Cancel evictions, best
	// scores first, rather than shrink the universe below the minimum.
	for len(next) < r.minSymbols && len(removed) > 0 {
		restored := removed[0]
		removed = removed[1:]
		next = append(next, restored)
		kept = append(kept, restored)
	}

	if sameSet(next, r.active) {
		return Result{Active: append([]string(nil), r.active...), Scores: scored,
			Reason: "current symbol set is optimal"}, nil
	}

	r.active = next
	result := Result{
		Rotated: true,
		Kept:    kept,
		Removed: removed,
		Added:   added,
		Active:  append([]string(nil), next...),
		Scores:  scored,
	}
	r.log.Info("symbol rotation applied",
		"kept", len(kept), "removed", removed, "added", added, "active", len(next))
	if r.bus != nil {
		r.bus.PublishSymbolsRotated(added, removed, result.Active)
	}
	return result, nil
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
