package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/auth"
	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/strategy"
)

type mockStore struct {
	healthy    bool
	openTrades []*database.Trade
	history    []*database.Trade
	stats      *database.PerformanceStats
	symbols    []*database.SymbolStats
	learning   []*database.LearningEvent
	model      *database.ModelPerformance
}

func (m *mockStore) HealthCheck(ctx context.Context) error {
	if !m.healthy {
		return errors.New("db down")
	}
	return nil
}

func (m *mockStore) GetOpenTrades(ctx context.Context) ([]*database.Trade, error) {
	return m.openTrades, nil
}

func (m *mockStore) GetTradeHistory(ctx context.Context, limit, offset int) ([]*database.Trade, error) {
	if limit < len(m.history) {
		return m.history[:limit], nil
	}
	return m.history, nil
}

func (m *mockStore) GetTradeByID(ctx context.Context, id string) (*database.Trade, error) {
	for _, t := range m.history {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockStore) GetPerformanceStats(ctx context.Context, since time.Time) (*database.PerformanceStats, error) {
	return m.stats, nil
}

func (m *mockStore) GetSymbolStats(ctx context.Context, since time.Time) ([]*database.SymbolStats, error) {
	return m.symbols, nil
}

func (m *mockStore) GetRecentLearningEvents(ctx context.Context, limit int) ([]*database.LearningEvent, error) {
	return m.learning, nil
}

func (m *mockStore) GetActiveModel(ctx context.Context) (*database.ModelPerformance, error) {
	if m.model == nil {
		return nil, errors.New("no active model")
	}
	return m.model, nil
}

type mockBot struct {
	symbols []string
}

func (m *mockBot) Status() map[string]interface{} {
	return map[string]interface{}{"running": true, "mode": "paper"}
}

func (m *mockBot) ActiveSymbols() []string { return m.symbols }

func (m *mockBot) WatchdogStatus() map[string]interface{} {
	return map[string]interface{}{"healthy": true}
}

func (m *mockBot) AdaptiveCeiling(ctx context.Context) float64 { return 0.08 }

func testParams(t *testing.T) *strategy.Store {
	t.Helper()
	store, err := strategy.NewStore(strategy.DefaultParams(0.05, map[string]float64{
		"rsi": 0.25, "macd": 0.25, "moving_averages": 0.25, "volume": 0.15, "trend": 0.10,
	}), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func testServer(t *testing.T, store *mockStore, authSvc *auth.Service) *Server {
	t.Helper()
	return NewServer(
		config.ServerConfig{Enabled: true, Port: 0, Host: "127.0.0.1"},
		store,
		events.NewEventBus(),
		&mockBot{symbols: []string{"SOLUSDT", "AVAXUSDT"}},
		testParams(t),
		authSvc,
		nil,
	)
}

func doRequest(s *Server, method, path string, body []byte, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthReflectsDatabase(t *testing.T) {
	s := testServer(t, &mockStore{healthy: true}, nil)
	if rec := doRequest(s, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("healthy: status = %d, want 200", rec.Code)
	}

	s = testServer(t, &mockStore{healthy: false}, nil)
	if rec := doRequest(s, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: status = %d, want 503", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer(t, &mockStore{healthy: true}, nil)

	rec := doRequest(s, http.MethodGet, "/api/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Data["mode"] != "paper" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestTradeHistoryLimits(t *testing.T) {
	history := make([]*database.Trade, 5)
	for i := range history {
		history[i] = &database.Trade{ID: string(rune('a' + i)), Symbol: "SOLUSDT", Status: "closed"}
	}
	s := testServer(t, &mockStore{healthy: true, history: history}, nil)

	rec := doRequest(s, http.MethodGet, "/api/trades/history?limit=3", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Data []*database.Trade `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Data) != 3 {
		t.Errorf("len = %d, want 3", len(resp.Data))
	}
}

func TestTradeByIDNotFound(t *testing.T) {
	s := testServer(t, &mockStore{healthy: true}, nil)

	if rec := doRequest(s, http.MethodGet, "/api/trades/missing", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestParamsIncludeAdaptiveCeiling(t *testing.T) {
	s := testServer(t, &mockStore{healthy: true}, nil)

	rec := doRequest(s, http.MethodGet, "/api/params", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Data struct {
			AdaptiveCeiling float64                `json:"adaptive_ceiling"`
			Params          map[string]interface{} `json:"params"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Data.AdaptiveCeiling != 0.08 {
		t.Errorf("adaptive_ceiling = %v, want 0.08", resp.Data.AdaptiveCeiling)
	}
	if resp.Data.Params["min_confidence"] == nil {
		t.Errorf("params missing min_confidence: %v", resp.Data.Params)
	}
}

func TestActiveModelNotFound(t *testing.T) {
	s := testServer(t, &mockStore{healthy: true}, nil)

	if rec := doRequest(s, http.MethodGet, "/api/model", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	hash, err := auth.HashPassword("operator-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	authSvc := auth.NewService(config.AuthConfig{
		Enabled:              true,
		JWTSecret:            "test-secret-at-least-32-characters!!",
		OperatorPasswordHash: hash,
		TokenDurationMins:    60,
	}, nil)
	s := testServer(t, &mockStore{healthy: true}, authSvc)

	if rec := doRequest(s, http.MethodGet, "/api/status", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	body, _ := json.Marshal(map[string]string{"password": "operator-pass"})
	rec := doRequest(s, http.MethodPost, "/api/auth/login", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}

	if rec := doRequest(s, http.MethodGet, "/api/status", nil, login.Token); rec.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", rec.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	hash, err := auth.HashPassword("operator-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	authSvc := auth.NewService(config.AuthConfig{
		Enabled:              true,
		JWTSecret:            "test-secret-at-least-32-characters!!",
		OperatorPasswordHash: hash,
		TokenDurationMins:    60,
	}, nil)
	s := testServer(t, &mockStore{healthy: true}, authSvc)

	body, _ := json.Marshal(map[string]string{"password": "wrong"})
	if rec := doRequest(s, http.MethodPost, "/api/auth/login", body, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
