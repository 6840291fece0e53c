package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentinelagent/sentinel-backend/internal/agent"
	"github.com/sentinelagent/sentinel-backend/internal/auth"
	"go.uber.org/zap"
)

// AgentHandler handles HTTP requests for the agent directory.
type AgentHandler struct {
	dir    *agent.Directory
	tokens *auth.TokenIssuer // nil = no auth enforcement (development mode)
	logger *zap.Logger
}

// NewAgentHandler creates an AgentHandler.
// tokens may be nil to disable session auth on protected routes.
func NewAgentHandler(dir *agent.Directory, tokens *auth.TokenIssuer, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{dir: dir, tokens: tokens, logger: logger}
}

// requireSession returns the RequireSession middleware when auth is configured,
// or a no-op middleware for development/open mode.
func (h *AgentHandler) requireSession() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireSession(h.tokens)
}

// requireAdmin enforces the admin role when auth is configured.
func (h *AgentHandler) requireAdmin() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireAdmin()
}

// Register mounts all agent directory routes on the provided router group.
func (h *AgentHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.GET("", h.requireSession(), h.ListAgents)
		agents.GET("/:id", h.requireSession(), h.GetAgent)
		agents.POST("", h.requireSession(), h.requireAdmin(), h.RegisterAgent)
		agents.POST("/:id/revoke", h.requireSession(), h.requireAdmin(), h.RevokeAgent)

		// Authenticated by the agent's own API key, not an operator session.
		agents.POST("/heartbeat", h.Heartbeat)
	}
}

type registerAgentRequest struct {
	AgentID      string `json:"agent_id"      binding:"required"`
	Hostname     string `json:"hostname"      binding:"required"`
	OS           string `json:"os"`
	AgentVersion string `json:"agent_version"`
	IPAddress    string `json:"ip_address"`
}

// RegisterAgent handles POST /agents — enrolls a new agent and returns its
// plaintext API key. The key is shown exactly once; only its hash is stored.
func (h *AgentHandler) RegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, plainKey, err := h.dir.Register(c.Request.Context(), req.AgentID, req.Hostname, req.OS, req.AgentVersion, req.IPAddress)
	if err != nil {
		if errors.Is(err, agent.ErrDuplicateAgent) {
			c.JSON(http.StatusConflict, gin.H{"error": "agent ID already registered"})
			return
		}
		h.logger.Error("register agent", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"agent":   a,
		"api_key": plainKey,
		"note":    "Store this API key securely. It cannot be retrieved again.",
	})
}

// ListAgents handles GET /agents with limit/offset pagination.
func (h *AgentHandler) ListAgents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	agents, err := h.dir.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list agents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}

// GetAgent handles GET /agents/:id.
func (h *AgentHandler) GetAgent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent ID"})
		return
	}

	a, err := h.dir.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error("get agent", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agent": a})
}

type heartbeatRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	APIKey  string `json:"api_key"  binding:"required"`
}

// Heartbeat handles POST /agents/heartbeat — out-of-band liveness signal for
// agents that are enrolled but not currently streaming telemetry.
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.dir.Heartbeat(c.Request.Context(), req.AgentID, req.APIKey)
	if err != nil {
		// Invalid key, unknown agent, and revoked agent all collapse to 401.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "heartbeat rejected"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(a.Status)})
}

// RevokeAgent handles POST /agents/:id/revoke — permanently disables an agent's
// credentials. Future telemetry from this agent is rejected at validation.
func (h *AgentHandler) RevokeAgent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent ID"})
		return
	}

	if err := h.dir.Revoke(c.Request.Context(), id); err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error("revoke agent", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
