// Package api exposes the hedge core over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hedge-core/internal/events"
	"hedge-core/internal/orchestrator"
	"hedge-core/internal/positions"
	"hedge-core/internal/rebalance"
	"hedge-core/internal/reconciliation"
	"hedge-core/internal/session"
	"hedge-core/internal/trading"
	"hedge-core/pkg/config"
	"hedge-core/pkg/db"
	"hedge-core/pkg/logger"
)

var log = logger.WithComponent("api")

// Trading is the batch surface the handlers drive.
type Trading interface {
	StartTrading(settings config.Settings) (string, error)
	SyncAllSLTP(ctx context.Context, settings config.Settings) (string, error)
	ClosePosition(settings config.Settings, fullSymbol string, ratio float64) (string, error)
	CloseMultiple(settings config.Settings, fullSymbols []string, ratio float64) (string, error)
	CloseBySide(ctx context.Context, settings config.Settings, side string, ratio float64) (string, error)
	ExecutePlan(settings config.Settings, orders []trading.PlanOrder) (string, error)
	Positions(ctx context.Context, leverage int) ([]positions.Position, error)
	Status() orchestrator.Status
	Stop() bool
}

// Planner builds rebalance plans.
type Planner interface {
	Generate(ctx context.Context, c rebalance.Criteria) (rebalance.PlanResponse, error)
}

// History reads batch history.
type History interface {
	RecentBatches(ctx context.Context, limit int) ([]db.Batch, error)
	BatchItems(ctx context.Context, batchID string) ([]db.BatchItem, error)
}

// Deps are the services behind the routes. History, Sessions and Reconciler
// may be nil.
type Deps struct {
	Trading    Trading
	Planner    Planner
	Hub        *events.Hub
	History    History
	Sessions   interface{ Stats() session.PoolStats }
	Reconciler interface {
		LastReport() (reconciliation.Report, bool)
	}
	// Settings returns the current settings snapshot. Request bodies may
	// override individual fields for one call.
	Settings func() config.Settings
}

// AuthConfig controls access to the API.
type AuthConfig struct {
	AccessKey string
	JWTSecret string
	TokenTTL  time.Duration
}

// Server wires HTTP endpoints around the trading services.
type Server struct {
	Router *gin.Engine
	deps   Deps
	auth   AuthConfig
}

// NewServer builds the router.
func NewServer(deps Deps, auth AuthConfig) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	if auth.TokenTTL <= 0 {
		auth.TokenTTL = 24 * time.Hour
	}
	if deps.Settings == nil {
		deps.Settings = config.DefaultSettings
	}
	if auth.AccessKey == "" {
		log.Warn("⚠️ APP_ACCESS_KEY is empty, API authentication is disabled")
	}

	s := &Server{Router: r, deps: deps, auth: auth}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.requireAuth(true), s.websocket)

	api := s.Router.Group("/api")
	api.POST("/auth/token", s.issueToken)

	protected := api.Group("")
	protected.Use(s.requireAuth(false))
	{
		protected.GET("/status", s.getStatus)
		protected.GET("/batches", s.getBatches)
		protected.GET("/batches/:id/items", s.getBatchItems)

		protected.POST("/trading/start", s.startTrading)
		protected.POST("/trading/stop", s.stopTrading)
		protected.POST("/trading/sync-sltp", s.syncSLTP)

		protected.GET("/positions", s.getPositions)
		protected.POST("/positions/close", s.closePosition)
		protected.POST("/positions/close-by-side", s.closeBySide)
		protected.POST("/positions/close-multiple", s.closeMultiple)

		protected.POST("/rebalance/plan", s.rebalancePlan)
		protected.POST("/rebalance/execute", s.rebalanceExecute)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until the listener fails.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
