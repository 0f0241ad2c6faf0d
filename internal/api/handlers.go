package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"paper-trading-engine/internal/positions"
	"paper-trading-engine/internal/risk"
)

// ==================== Engine control ====================

func (s *Server) handleEngineStatus(c *gin.Context) {
	successResponse(c, s.engine.GetStatus())
}

func (s *Server) handlePauseEngine(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		req.Reason = "Paused via API"
	}
	s.engine.Pause(req.Reason)
	successResponse(c, gin.H{"paused": true, "reason": req.Reason})
}

func (s *Server) handleResumeEngine(c *gin.Context) {
	s.engine.Resume()
	successResponse(c, gin.H{"paused": false})
}

// ==================== Portfolio and positions ====================

func (s *Server) handleGetPortfolio(c *gin.Context) {
	portfolio := s.positions.GetPortfolio()
	successResponse(c, gin.H{
		"portfolio": portfolio,
		"exposure":  s.positions.CurrentExposure(),
	})
}

func (s *Server) handleGetPositions(c *gin.Context) {
	successResponse(c, s.positions.OpenPositions())
}

func (s *Server) handleClosePosition(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.ClosePosition(c.Request.Context(), id); err != nil {
		if err == positions.ErrPositionNotFound {
			errorResponse(c, http.StatusNotFound, "position not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"closed": true, "position_id": id})
}

// ==================== Trade journal ====================

func (s *Server) handleGetJournal(c *gin.Context) {
	count := 100
	if v := c.Query("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}
	successResponse(c, s.journal.RecentEntries(count))
}

func (s *Server) handleGetJournalStats(c *gin.Context) {
	if asset := c.Query("asset"); asset != "" {
		successResponse(c, s.journal.StatsByAsset(asset))
		return
	}
	successResponse(c, s.journal.GetStats())
}

func (s *Server) handleGetSourcePerformance(c *gin.Context) {
	successResponse(c, s.journal.SourcePerformance())
}

// ==================== Goal and KPI tracking ====================

func (s *Server) handleGetProgress(c *gin.Context) {
	portfolio := s.positions.GetPortfolio()
	successResponse(c, s.goals.GetProgress(portfolio.RealizedPnl, time.Now()))
}

func (s *Server) handleGetLeverageRecommendation(c *gin.Context) {
	drawdown := s.riskMgr.CurrentDrawdownPct()
	successResponse(c, s.goals.CalculateOptimalLeverage(drawdown, nil, time.Now()))
}

func (s *Server) handleGetCapitalRequirements(c *gin.Context) {
	portfolio := s.positions.GetPortfolio()
	successResponse(c, s.goals.CalculateCapitalRequirements(portfolio.TotalValue))
}

func (s *Server) handleGetDailyHistory(c *gin.Context) {
	successResponse(c, s.goals.DailyHistory())
}

// ==================== Risk limits ====================

func (s *Server) handleGetRiskState(c *gin.Context) {
	successResponse(c, s.riskMgr.GetState())
}

func (s *Server) handleGetRiskLimits(c *gin.Context) {
	successResponse(c, s.riskMgr.GetLimits())
}

func (s *Server) handleUpdateRiskLimits(c *gin.Context) {
	var limits risk.Limits
	if err := c.ShouldBindJSON(&limits); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid limits payload: "+err.Error())
		return
	}
	s.riskMgr.UpdateLimits(limits)
	successResponse(c, s.riskMgr.GetLimits())
}

// ==================== Signal source weights ====================

func (s *Server) handleGetBanditArms(c *gin.Context) {
	successResponse(c, gin.H{
		"arms":             s.bandit.ArmStats(),
		"total_trades":     s.bandit.TotalTrades(),
		"exploration_rate": s.bandit.ExplorationRate(),
	})
}

func (s *Server) handleGetBanditRankings(c *gin.Context) {
	count := 10
	if v := c.Query("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}
	successResponse(c, gin.H{
		"top":             s.bandit.TopSources(count),
		"underperforming": s.bandit.UnderperformingSources(),
	})
}

// ==================== Auth ====================

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "username and password are required")
		return
	}

	pair, err := s.authService.Login(req.Username, req.Password)
	if err != nil {
		errorResponse(c, http.StatusUnauthorized, "invalid username or password")
		return
	}
	successResponse(c, pair)
}

func (s *Server) handleRefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := s.authService.Refresh(req.RefreshToken)
	if err != nil {
		errorResponse(c, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	successResponse(c, pair)
}

func (s *Server) handleLogout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		s.authService.Logout(req.RefreshToken)
	}
	successResponse(c, gin.H{"logged_out": true})
}
