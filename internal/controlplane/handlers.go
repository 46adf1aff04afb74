// Package controlplane wires up the Gin HTTP router that lets an external
// client drive the engine's Write/Read calls — the client-facing surface
// spec.md places outside the core but still needs a concrete binding for
// (SPEC_FULL.md §3).
package controlplane

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"distributed-swmr-register/internal/engine"
	"distributed-swmr-register/internal/logging"
)

// Handler holds the engine dependency injected from main.
type Handler struct {
	engine *engine.Engine[string]
	log    logging.Logger
	selfID int
}

// NewHandler creates a Handler bound to e.
func NewHandler(e *engine.Engine[string], log logging.Logger, selfID int) *Handler {
	if log == nil {
		log = logging.Default(selfID)
	}
	return &Handler{engine: e, log: log, selfID: selfID}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/register", h.Read)
	r.PUT("/register", h.Write)
	r.GET("/health", h.Health)
}

// Write handles PUT /register.
// Body: {"value": "<string>"}
func (h *Handler) Write(c *gin.Context) {
	var body struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Write blocks until a majority acks, by design (spec.md §7); there is
	// no timeout to surface here, matching the core's liveness contract.
	h.engine.Write(body.Value)

	c.JSON(http.StatusOK, gin.H{"value": body.Value})
}

// Read handles GET /register.
func (h *Handler) Read(c *gin.Context) {
	val := h.engine.Read()
	c.JSON(http.StatusOK, gin.H{"value": val})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	stats := h.engine.Stats()
	c.JSON(http.StatusOK, gin.H{
		"node":     h.selfID,
		"status":   "ok",
		"majority": h.engine.Majority(),
		"stats":    stats,
	})
}

// RequestID is Gin middleware tagging every inbound request with a UUID
// for log correlation, the same role UUIDs play as opaque correlators in
// cockroachdb-basaltclient's object identifiers (SPEC_FULL.md §3).
func RequestID(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		log.Infof("request %s %s %s [%s]", c.Request.Method, c.Request.URL.Path, c.ClientIP(), id)
		c.Next()
	}
}

// Recovery logs panics and converts them into a 500 instead of crashing
// the receiver goroutine's HTTP server.
func Recovery(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("panic recovered: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
