// Package api exposes the HTTP surface: sync trigger, ticket workflow
// operations, message browsing, and admin counter maintenance.
package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowdesk-io/flowdesk/internal/mailbox"
	"github.com/flowdesk-io/flowdesk/internal/middleware"
	"github.com/flowdesk-io/flowdesk/internal/models"
	syncengine "github.com/flowdesk-io/flowdesk/internal/sync"
	"github.com/flowdesk-io/flowdesk/internal/tickets"
)

// Syncer triggers one sync pass.
type Syncer interface {
	Sync(ctx context.Context, workspaceID string) (*syncengine.Report, error)
}

// MessageReader is what the handlers need from the message repository.
type MessageReader interface {
	ListUnlinked(ctx context.Context, workspaceID string) ([]*models.Message, error)
	GetByMessageID(ctx context.Context, workspaceID, messageID string) (*models.Message, error)
}

// CounterAdmin exposes the allocator's diagnostics and seeding.
type CounterAdmin interface {
	Current(ctx context.Context, prefix string) (int64, error)
	Seed(ctx context.Context, prefix string, value int64) error
}

// Server wires dependencies into the gin router.
type Server struct {
	engine           Syncer
	tickets          *tickets.Service
	messages         MessageReader
	counters         CounterAdmin
	poller           mailbox.Poller
	account          mailbox.Account
	jwt              *middleware.JWTManager
	db               *sqlx.DB
	defaultWorkspace string
	logger           *log.Logger
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithDB attaches the database handle used by the health check.
func WithDB(db *sqlx.DB) ServerOption {
	return func(s *Server) { s.db = db }
}

// WithServerLogger overrides the default logger.
func WithServerLogger(logger *log.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer builds the API server.
func NewServer(engine Syncer, ticketSvc *tickets.Service, messages MessageReader,
	counters CounterAdmin, poller mailbox.Poller, account mailbox.Account,
	jwt *middleware.JWTManager, defaultWorkspace string, opts ...ServerOption) *Server {
	s := &Server{
		engine:           engine,
		tickets:          ticketSvc,
		messages:         messages,
		counters:         counters,
		poller:           poller,
		account:          account,
		jwt:              jwt,
		defaultWorkspace: defaultWorkspace,
		logger:           log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the route tree.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1", middleware.RequireAuth(s.jwt))
	{
		v1.POST("/sync", middleware.RequireRole(middleware.RoleCoordinator), s.handleSync)

		v1.GET("/tickets", s.handleListTickets)
		v1.GET("/tickets/:jobID", s.handleGetTicket)
		v1.POST("/tickets/:jobID/assign", middleware.RequireRole(middleware.RoleCoordinator), s.handleAssign)
		v1.POST("/tickets/:jobID/status", middleware.RequireRole(middleware.RoleCoordinator, middleware.RoleMember), s.handleSetStatus)
		v1.POST("/tickets/:jobID/merge", middleware.RequireRole(middleware.RoleCoordinator), s.handleMerge)
		v1.DELETE("/tickets/:jobID", middleware.RequireRole(middleware.RoleCoordinator), s.handleUndo)

		v1.GET("/messages/unlinked", s.handleUnlinkedMessages)
		v1.GET("/messages/:messageID/full", s.handleFullMessage)

		admin := v1.Group("/admin", middleware.RequireRole())
		admin.GET("/counters/:prefix", s.handleGetCounter)
		admin.PUT("/counters/:prefix", s.handleSeedCounter)
	}
	return r
}

func (s *Server) workspace(c *gin.Context) string {
	if ws := c.GetHeader("X-Workspace-ID"); ws != "" {
		return ws
	}
	return s.defaultWorkspace
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.db != nil {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
