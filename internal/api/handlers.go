package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	defaultStatsDays    = 30
)

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "password is required")
		return
	}

	token, err := s.authSvc.Login(req.Password)
	if err != nil {
		errorResponse(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": s.authSvc.JWTManager().TokenDuration(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.bot.Status())
}

func (s *Server) handleSymbols(c *gin.Context) {
	successResponse(c, gin.H{"active": s.bot.ActiveSymbols()})
}

func (s *Server) handleOpenTrades(c *gin.Context) {
	trades, err := s.store.GetOpenTrades(c.Request.Context())
	if err != nil {
		s.log.Error("Failed to load open trades", "error", err.Error())
		errorResponse(c, http.StatusInternalServerError, "failed to load open trades")
		return
	}
	successResponse(c, trades)
}

func (s *Server) handleTradeHistory(c *gin.Context) {
	limit := queryInt(c, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	trades, err := s.store.GetTradeHistory(c.Request.Context(), limit, offset)
	if err != nil {
		s.log.Error("Failed to load trade history", "error", err.Error())
		errorResponse(c, http.StatusInternalServerError, "failed to load trade history")
		return
	}
	successResponse(c, trades)
}

func (s *Server) handleTradeByID(c *gin.Context) {
	trade, err := s.store.GetTradeByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, "trade not found")
		return
	}
	successResponse(c, trade)
}

func (s *Server) handlePerformance(c *gin.Context) {
	days := queryInt(c, "days", defaultStatsDays)
	if days <= 0 {
		days = defaultStatsDays
	}
	since := time.Now().AddDate(0, 0, -days)

	stats, err := s.store.GetPerformanceStats(c.Request.Context(), since)
	if err != nil {
		s.log.Error("Failed to load performance stats", "error", err.Error())
		errorResponse(c, http.StatusInternalServerError, "failed to load performance stats")
		return
	}
	successResponse(c, gin.H{
		"window_days": days,
		"stats":       stats,
	})
}

func (s *Server) handleSymbolPerformance(c *gin.Context) {
	days := queryInt(c, "days", defaultStatsDays)
	if days <= 0 {
		days = defaultStatsDays
	}
	since := time.Now().AddDate(0, 0, -days)

	stats, err := s.store.GetSymbolStats(c.Request.Context(), since)
	if err != nil {
		s.log.Error("Failed to load symbol stats", "error", err.Error())
		errorResponse(c, http.StatusInternalServerError, "failed to load symbol stats")
		return
	}
	successResponse(c, stats)
}

func (s *Server) handleParams(c *gin.Context) {
	successResponse(c, gin.H{
		"params":           s.params.Get().Snapshot(),
		"adaptive_ceiling": s.bot.AdaptiveCeiling(c.Request.Context()),
	})
}

func (s *Server) handleLearningEvents(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = 50
	}

	evts, err := s.store.GetRecentLearningEvents(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("Failed to load learning events", "error", err.Error())
		errorResponse(c, http.StatusInternalServerError, "failed to load learning events")
		return
	}
	successResponse(c, evts)
}

func (s *Server) handleActiveModel(c *gin.Context) {
	model, err := s.store.GetActiveModel(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusNotFound, "no active model")
		return
	}
	successResponse(c, model)
}

func (s *Server) handleWatchdog(c *gin.Context) {
	successResponse(c, s.bot.WatchdogStatus())
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
