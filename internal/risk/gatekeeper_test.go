package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/dduho/trading-bot/config"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxOpenPositions: 2,
		MaxDailyTrades:   5,
		CooldownSecs:     120,
	}
}

func TestCanOpenOrderOfChecks(t *testing.T) {
	g := NewGatekeeper(testRiskConfig(), config.ModeLive, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	// Duplicate blocks first, even when other limits are also violated.
	g.RecordOpen("SOLUSDT")
	v := g.CanOpen("SOLUSDT")
	if v.Allowed || !strings.Contains(v.Reason, "already open") {
		t.Errorf("duplicate check: %+v", v)
	}

	// A recently closed symbol is on cooldown.
	g.RecordOpen("AVAXUSDT")
	g.RecordClose("AVAXUSDT", 1)
	v = g.CanOpen("AVAXUSDT")
	if v.Allowed || !strings.Contains(v.Reason, "cooldown") {
		t.Errorf("cooldown check: %+v", v)
	}

	// A fresh symbol with slots full hits max-open.
	g.RecordOpen("DOGEUSDT")
	v = g.CanOpen("ADAUSDT")
	if v.Allowed || !strings.Contains(v.Reason, "maximum open positions") {
		t.Errorf("max open check: %+v", v)
	}
}

func TestDailyTradeLimit(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 100
	cfg.CooldownSecs = 0
	g := NewGatekeeper(cfg, config.ModeLive, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	for i := 0; i < cfg.MaxDailyTrades; i++ {
		sym := "SYM" + string(rune('A'+i))
		if v := g.CanOpen(sym); !v.Allowed {
			t.Fatalf("trade %d blocked: %s", i, v.Reason)
		}
		g.RecordOpen(sym)
		g.RecordClose(sym, 0)
	}

	v := g.CanOpen("FRESH")
	if v.Allowed || !strings.Contains(v.Reason, "daily trade limit") {
		t.Errorf("limit check: %+v", v)
	}
}

func TestPaperModeSkipsAllCaps(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 1
	cfg.MaxDailyTrades = 1
	g := NewGatekeeper(cfg, config.ModePaper, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	// Blow past every cap: slot taken, daily count exhausted, a symbol
	// freshly closed inside its cooldown window, deep in drawdown.
	g.RecordOpen("SOLUSDT")
	g.RecordOpen("AVAXUSDT")
	g.RecordClose("AVAXUSDT", -500)

	if v := g.CanOpen("AVAXUSDT"); !v.Allowed {
		t.Errorf("cooldown should not bind in paper mode: %s", v.Reason)
	}
	if v := g.CanOpen("DOGEUSDT"); !v.Allowed {
		t.Errorf("caps should not bind in paper mode: %s", v.Reason)
	}

	// The duplicate-position guard still holds.
	if v := g.CanOpen("SOLUSDT"); v.Allowed {
		t.Error("duplicate position must block even in paper mode")
	}
}

func TestForceDailyReset(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 100
	cfg.CooldownSecs = 0
	g := NewGatekeeper(cfg, config.ModeLive, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	for i := 0; i < cfg.MaxDailyTrades; i++ {
		sym := "SYM" + string(rune('A'+i))
		g.RecordOpen(sym)
		g.RecordClose(sym, 0)
	}
	if v := g.CanOpen("FRESH"); v.Allowed {
		t.Fatal("expected daily limit to block before reset")
	}

	g.ForceDailyReset()
	if v := g.CanOpen("FRESH"); !v.Allowed {
		t.Errorf("expected reset to clear the limit, got: %s", v.Reason)
	}
	if g.DailyTrades() != 0 {
		t.Errorf("daily trades = %d after forced reset, want 0", g.DailyTrades())
	}
}

func TestDailyResetOnUTCDayChange(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 100
	cfg.CooldownSecs = 0
	g := NewGatekeeper(cfg, config.ModeLive, nil)

	now := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	for i := 0; i < cfg.MaxDailyTrades; i++ {
		sym := "SYM" + string(rune('A'+i))
		g.RecordOpen(sym)
		g.RecordClose(sym, -1)
	}
	if v := g.CanOpen("FRESH"); v.Allowed {
		t.Fatal("expected daily limit to block before midnight")
	}

	// Cross midnight UTC. The first check of the new day resets counters
	// even though no explicit reset ran.
	now = time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)
	if v := g.CanOpen("FRESH"); !v.Allowed {
		t.Errorf("expected reset after UTC midnight, got: %s", v.Reason)
	}
	if g.DailyTrades() != 0 {
		t.Errorf("daily trades = %d after rollover, want 0", g.DailyTrades())
	}
}

func TestCooldownExpires(t *testing.T) {
	g := NewGatekeeper(testRiskConfig(), config.ModeLive, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	g.RecordOpen("SOLUSDT")
	g.RecordClose("SOLUSDT", 2)

	if v := g.CanOpen("SOLUSDT"); v.Allowed {
		t.Fatal("expected cooldown to block immediately after close")
	}

	now = now.Add(121 * time.Second)
	if v := g.CanOpen("SOLUSDT"); !v.Allowed {
		t.Errorf("expected cooldown expired, got: %s", v.Reason)
	}
}

func TestDailyLossLimitOnlyWhenCapitalAtRisk(t *testing.T) {
	cfg := testRiskConfig()
	cfg.CooldownSecs = 0
	cfg.MaxOpenPositions = 100
	cfg.MaxDailyTrades = 1000

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	paper := NewGatekeeper(cfg, config.ModePaper, nil)
	paper.SetClock(func() time.Time { return now })
	paper.RecordOpen("SOLUSDT")
	paper.RecordClose("SOLUSDT", -500)
	if v := paper.CanOpen("AVAXUSDT"); !v.Allowed {
		t.Errorf("paper mode should keep trading through drawdown: %s", v.Reason)
	}

	live := NewGatekeeper(cfg, config.ModeLive, nil)
	live.SetClock(func() time.Time { return now })
	live.RecordOpen("SOLUSDT")
	live.RecordClose("SOLUSDT", -500)
	v := live.CanOpen("AVAXUSDT")
	if v.Allowed || !strings.Contains(v.Reason, "daily loss limit") {
		t.Errorf("live mode should stop at the loss limit: %+v", v)
	}
}

func TestSyncOpenPositions(t *testing.T) {
	g := NewGatekeeper(testRiskConfig(), config.ModePaper, nil)
	g.SyncOpenPositions([]string{"SOLUSDT", "AVAXUSDT"})

	if v := g.CanOpen("SOLUSDT"); v.Allowed {
		t.Error("synced position should block duplicates")
	}
	snap := g.Snapshot()
	if snap["open_positions"] != 2 {
		t.Errorf("open_positions = %v, want 2", snap["open_positions"])
	}
}
