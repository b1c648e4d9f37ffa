package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"device-notifier/internal/logging"
	"device-notifier/internal/models"
	"device-notifier/internal/services"
)

// RunController starts runs and reports the current one.
type RunController interface {
	Start(ctx context.Context) (uuid.UUID, <-chan models.RunResult, error)
	State() (uuid.UUID, models.RunState)
	Running() bool
}

// RunReader reads run history.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]models.RunResult, error)
	GetOutcomesByRunID(ctx context.Context, runID uuid.UUID) ([]models.DispatchOutcome, error)
}

type Handler struct {
	runner   RunController
	store    RunReader
	ws       *services.WebSocketManager
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the API handlers. store may be nil when no database is
// configured; history endpoints then answer 503.
func NewHandler(runner RunController, store RunReader, ws *services.WebSocketManager, logger *logging.Logger) *Handler {
	return &Handler{
		runner: runner,
		store:  store,
		ws:     ws,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) StartRun(c *gin.Context) {
	id, _, err := h.runner.Start(c.Request.Context())
	if errors.Is(err, services.ErrRunInProgress) {
		runID, state := h.runner.State()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "run_id": runID, "state": state})
		return
	}
	if err != nil {
		h.logger.Errorf("Failed to start run: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start run"})
		return
	}

	h.logger.Infof("Started run %s", id)
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

func (h *Handler) CurrentRun(c *gin.Context) {
	id, state := h.runner.State()
	resp := gin.H{"state": state, "running": h.runner.Running()}
	if id != uuid.Nil {
		resp["run_id"] = id
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Run history is not configured"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Errorf("Failed to list runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}
	if runs == nil {
		runs = []models.RunResult{}
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) GetRunOutcomes(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Run history is not configured"})
		return
	}
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Errorf("Invalid run id %s: %v", idStr, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return
	}

	outcomes, err := h.store.GetOutcomesByRunID(c.Request.Context(), id)
	if err != nil {
		h.logger.Errorf("Failed to get outcomes for run %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get outcomes"})
		return
	}
	if outcomes == nil {
		outcomes = []models.DispatchOutcome{}
	}
	c.JSON(http.StatusOK, outcomes)
}

// HandleWebSocket streams run events until the client disconnects.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	if !h.ws.AddConnection(conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		_ = conn.Close()
		return
	}
	defer func() {
		h.ws.RemoveConnection(conn)
		_ = conn.Close()
	}()

	// Clients only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
