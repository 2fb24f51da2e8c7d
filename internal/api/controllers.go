package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hedge-core/internal/orchestrator"
	"hedge-core/internal/rebalance"
	"hedge-core/internal/session"
	"hedge-core/internal/tradeerr"
	"hedge-core/internal/trading"
	"hedge-core/pkg/config"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondErr maps a service error to a status code.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrBatchRunning):
		respondError(c, http.StatusConflict, "TASK_RUNNING", err.Error())
	case errors.Is(err, session.ErrUnhealthy), errors.Is(err, session.ErrClosed):
		respondError(c, http.StatusServiceUnavailable, "EXCHANGE_UNAVAILABLE", err.Error())
	case tradeerr.IsValidation(err):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case tradeerr.IsRetryable(err):
		respondError(c, http.StatusServiceUnavailable, "EXCHANGE_BUSY", err.Error())
	case tradeerr.IsInterrupted(err):
		respondError(c, http.StatusServiceUnavailable, "INTERRUPTED", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// withSettings carries an optional settings overlay next to the payload.
type withSettings struct {
	Settings json.RawMessage `json:"settings,omitempty"`
}

// bind decodes the body into req, which must embed withSettings, and
// returns the settings snapshot with the overlay applied. An empty body is
// allowed.
func (s *Server) bind(c *gin.Context, req any, overlay *withSettings) (config.Settings, bool) {
	settings := s.deps.Settings()
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return settings, false
	}
	if overlay != nil && len(overlay.Settings) > 0 && string(overlay.Settings) != "null" {
		if err := json.Unmarshal(overlay.Settings, &settings); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_SETTINGS", err.Error())
			return settings, false
		}
	}
	if err := settings.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_SETTINGS", err.Error())
		return settings, false
	}
	return settings, true
}

func accepted(c *gin.Context, batchID, message string) {
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID, "message": message})
}

func (s *Server) startTrading(c *gin.Context) {
	var req withSettings
	settings, ok := s.bind(c, &req, &req)
	if !ok {
		return
	}
	id, err := s.deps.Trading.StartTrading(settings)
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, id, "trading task started")
}

func (s *Server) stopTrading(c *gin.Context) {
	if !s.deps.Trading.Stop() {
		c.JSON(http.StatusOK, gin.H{"stopped": false, "message": "no task running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true, "message": "stop requested"})
}

func (s *Server) syncSLTP(c *gin.Context) {
	var req withSettings
	settings, ok := s.bind(c, &req, &req)
	if !ok {
		return
	}
	id, err := s.deps.Trading.SyncAllSLTP(c.Request.Context(), settings)
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, id, "sl/tp sync started")
}

func (s *Server) getPositions(c *gin.Context) {
	leverage := s.deps.Settings().Leverage
	if v := c.Query("leverage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "leverage must be a positive integer")
			return
		}
		leverage = n
	}
	list, err := s.deps.Trading.Positions(c.Request.Context(), leverage)
	if err != nil {
		respondErr(c, err)
		return
	}
	if list == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) closePosition(c *gin.Context) {
	var req struct {
		withSettings
		FullSymbol string  `json:"full_symbol"`
		Ratio      float64 `json:"ratio"`
	}
	settings, ok := s.bind(c, &req, &req.withSettings)
	if !ok {
		return
	}
	if req.FullSymbol == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "full_symbol is required")
		return
	}
	id, err := s.deps.Trading.ClosePosition(settings, req.FullSymbol, req.Ratio)
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, id, "close task started")
}

func (s *Server) closeBySide(c *gin.Context) {
	var req struct {
		withSettings
		Side  string  `json:"side"`
		Ratio float64 `json:"ratio"`
	}
	settings, ok := s.bind(c, &req, &req.withSettings)
	if !ok {
		return
	}
	id, err := s.deps.Trading.CloseBySide(c.Request.Context(), settings, req.Side, req.Ratio)
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, id, "close task started")
}

func (s *Server) closeMultiple(c *gin.Context) {
	var req struct {
		withSettings
		FullSymbols []string `json:"full_symbols"`
		Ratio       float64  `json:"ratio"`
	}
	settings, ok := s.bind(c, &req, &req.withSettings)
	if !ok {
		return
	}
	id, err := s.deps.Trading.CloseMultiple(settings, req.FullSymbols, req.Ratio)
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, id, "close task started")
}

func (s *Server) rebalancePlan(c *gin.Context) {
	var req struct {
		withSettings
		SentimentIndex *float64 `json:"sentiment_index"`
	}
	settings, ok := s.bind(c, &req, &req.withSettings)
	if !ok {
		return
	}
	if s.deps.Planner == nil {
		respondError(c, http.StatusServiceUnavailable, "PLANNER_UNAVAILABLE", "rebalance planner not configured")
		return
	}
	criteria := rebalance.FromSettings(settings)
	if req.SentimentIndex != nil {
		if *req.SentimentIndex < 0 || *req.SentimentIndex > 100 {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "sentiment_index must be in [0,100]")
			return
		}
		criteria.SentimentIndex = *req.SentimentIndex
	}
	plan, err := s.deps.Planner.Generate(c.Request.Context(), criteria)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) rebalanceExecute(c *gin.Context) {
	var req struct {
		withSettings
		Orders []trading.PlanOrder `json:"orders"`
	}
	settings, ok := s.bind(c, &req, &req.withSettings)
	if !ok {
		return
	}
	id, err := s.deps.Trading.ExecutePlan(settings, req.Orders)
	if err != nil {
		respondErr(c, err)
		return
	}
	accepted(c, id, "rebalance task started")
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{"orchestrator": s.deps.Trading.Status()}
	if s.deps.Sessions != nil {
		resp["sessions"] = s.deps.Sessions.Stats()
	}
	if s.deps.Reconciler != nil {
		if r, ok := s.deps.Reconciler.LastReport(); ok {
			resp["reconciliation"] = r
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getBatches(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	batches, err := s.deps.History.RecentBatches(c.Request.Context(), limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	if batches == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, batches)
}

func (s *Server) getBatchItems(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	items, err := s.deps.History.BatchItems(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if items == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, items)
}
