package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulatedProvider generates random-walk market data for paper trading and
// tests. Each symbol keeps its own walk state so repeated calls produce a
// continuous price series.
type SimulatedProvider struct {
	mu      sync.Mutex
	rng     *rand.Rand
	symbols map[string]*walkState
	drift   float64
	vol     float64
}

type walkState struct {
	price      float64
	baseVolume float64
	candles    []Candle
	lastTime   time.Time
}

// NewSimulatedProvider creates a provider seeded for reproducible runs.
func NewSimulatedProvider(seed int64) *SimulatedProvider {
	return &SimulatedProvider{
		rng:     rand.New(rand.NewSource(seed)),
		symbols: make(map[string]*walkState),
		drift:   0.0001,
		vol:     0.004,
	}
}

func (p *SimulatedProvider) state(symbol string) *walkState {
	st, ok := p.symbols[symbol]
	if !ok {
		// Start each symbol at a pseudo-random base so series differ.
		st = &walkState{
			price:      20 + p.rng.Float64()*180,
			baseVolume: 5000 + p.rng.Float64()*20000,
		}
		p.symbols[symbol] = st
	}
	return st
}

func (p *SimulatedProvider) step(st *walkState, interval time.Duration) Candle {
	open := st.price

	change := p.drift + p.vol*p.rng.NormFloat64()
	close := open * (1 + change)
	if close <= 0 {
		close = open * 0.5
	}

	spread := math.Abs(open*p.vol*p.rng.Float64()) + math.Abs(close-open)
	high := math.Max(open, close) + spread*p.rng.Float64()
	low := math.Min(open, close) - spread*p.rng.Float64()
	if low <= 0 {
		low = math.Min(open, close) * 0.99
	}

	// Volume spikes on larger moves, mirroring real order flow.
	volume := st.baseVolume * (0.5 + p.rng.Float64() + math.Abs(change)*100)

	var openTime time.Time
	if st.lastTime.IsZero() {
		openTime = time.Now().Add(-interval)
	} else {
		openTime = st.lastTime
	}
	closeTime := openTime.Add(interval)

	st.price = close
	st.lastTime = closeTime

	return Candle{
		OpenTime:  openTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		CloseTime: closeTime,
	}
}

// GetCandles returns the most recent limit candles, generating new ones to
// extend the series as needed.
func (p *SimulatedProvider) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("invalid candle limit %d", limit)
	}

	interval, err := parseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(symbol)
	for len(st.candles) < limit {
		st.candles = append(st.candles, p.step(st, interval))
	}
	// Advance one candle per call so the series moves between scans.
	st.candles = append(st.candles, p.step(st, interval))
	if len(st.candles) > limit*2 {
		st.candles = st.candles[len(st.candles)-limit:]
	}

	out := make([]Candle, limit)
	copy(out, st.candles[len(st.candles)-limit:])
	return out, nil
}

// GetPrice returns the current simulated price.
func (p *SimulatedProvider) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(symbol)
	if st.price == 0 {
		return 0, fmt.Errorf("no price for symbol %s", symbol)
	}
	// Small intra-candle jitter around the last close.
	jitter := 1 + p.vol*0.25*p.rng.NormFloat64()
	return st.price * jitter, nil
}

func parseTimeframe(tf string) (time.Duration, error) {
	switch tf {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
}
