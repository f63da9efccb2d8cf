package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kiwoom-core/internal/session"
	"kiwoom-core/internal/state"
)

func (s *Server) getSystemStatus(c *gin.Context) {
	resp := gin.H{
		"mode":      s.Meta.Mode,
		"watchlist": s.Meta.Watchlist,
		"version":   s.Meta.Version,
		"time":      time.Now().UTC().Format(time.RFC3339),
	}
	if s.Bus != nil {
		resp["bus_dropped"] = s.Bus.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Core.Status())
}

func (s *Server) getDiagnostics(c *gin.Context) {
	rows := s.Core.Diagnostics()
	if status := c.Query("status"); status != "" {
		filtered := rows[:0]
		for _, r := range rows {
			if r.Status == status {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows, "count": len(rows)})
}

func (s *Server) getTrades(c *gin.Context) {
	day := c.Query("day")
	if day == "" {
		day = s.Core.Today()
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_DAY",
			"error": "day must be YYYY-MM-DD",
		})
		return
	}

	trades, err := s.Core.TradesOn(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if trades == nil {
		trades = []state.Trade{}
	}

	var realized float64
	for _, t := range trades {
		realized += t.Profit
	}
	c.JSON(http.StatusOK, gin.H{
		"day":      day,
		"trades":   trades,
		"count":    len(trades),
		"realized": realized,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not enabled"})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) resetSymbol(c *gin.Context) {
	code := c.Param("code")
	if !s.Core.ResetSync(code) {
		c.JSON(http.StatusConflict, gin.H{
			"code":  "NOT_SYNC_FAILED",
			"error": "symbol is not latched in sync_failed",
		})
		return
	}
	s.log.Info().Str("code", code).Str("operator", CurrentOperator(c)).Msg("sync_failed reset via api")
	c.JSON(http.StatusOK, gin.H{"code": code, "reset": true})
}

func (s *Server) stopSession(c *gin.Context) {
	if err := s.Core.Stop(); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{
				"code":  "NOT_RUNNING",
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	s.log.Info().Str("operator", CurrentOperator(c)).Msg("session stopped via api")
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}
