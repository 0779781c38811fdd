// Package api exposes the conversation state machine to a browser renderer over HTTP
// and pushes state changes over a WebSocket.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatppt/chatppt/internal/chat"
	"github.com/chatppt/chatppt/internal/export"
	"github.com/chatppt/chatppt/internal/health"
	"github.com/chatppt/chatppt/internal/sessions"
	"github.com/chatppt/chatppt/internal/slides"
	"github.com/chatppt/chatppt/internal/transport"
)

// Controller is the part of the state machine driven over HTTP
type Controller interface {
	State() chat.State
	Subscribe(fn func(chat.State)) func()

	SendMessage(text string) error
	StopGeneration()
	ConfirmOutline() error
	UpdateSlide(index int, field, value string, subIndex *int) error
	Reset()

	StartExport(ctx context.Context) (*export.Task, error)
	RetryExport(ctx context.Context) (*export.Task, error)
	CancelExport() error
	DownloadExport(ctx context.Context) (string, error)

	CreateNewSession() chat.State
	LoadSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	RenameSession(ctx context.Context, sessionID, title string) error
	ListSessions(ctx context.Context) ([]sessions.IndexEntry, error)

	UploadAttachment(ctx context.Context, name string, r io.Reader) (*transport.RagFile, error)
	ListAttachments(ctx context.Context) ([]transport.RagFile, error)
	DeleteAttachment(ctx context.Context, fileID string) error
	SelectAttachments(fileIDs []string)
}

var _ Controller = (*chat.Machine)(nil)

// Handlers provides HTTP handlers for the conversation
type Handlers struct {
	machine Controller
	health  *health.Manager
	logger  *zap.Logger
}

// NewHandlers creates new handlers. healthManager may be nil.
func NewHandlers(machine Controller, healthManager *health.Manager, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		machine: machine,
		health:  healthManager,
		logger:  logger,
	}
}

// SendMessageRequest is the body of POST /messages. Blank text is accepted and ignored.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// UpdateSlideRequest is the body of PATCH /slides/:index
type UpdateSlideRequest struct {
	Field    string `json:"field" binding:"required"`
	Value    string `json:"value"`
	SubIndex *int   `json:"sub_index,omitempty"`
}

// RenameSessionRequest is the body of PATCH /sessions/:sessionId
type RenameSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

// SelectAttachmentsRequest is the body of PUT /attachments/selection
type SelectAttachmentsRequest struct {
	FileIDs []string `json:"file_ids"`
}

// RegisterRoutes registers the conversation routes
func (h *Handlers) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/state", h.GetState)
	router.GET("/events", NewEventsHandler(h.machine, h.logger).Handle)

	router.POST("/messages", h.SendMessage)
	router.POST("/generation/stop", h.StopGeneration)
	router.POST("/outline/confirm", h.ConfirmOutline)
	router.PATCH("/slides/:index", h.UpdateSlide)
	router.POST("/reset", h.Reset)

	exports := router.Group("/export")
	{
		exports.POST("", h.StartExport)
		exports.POST("/retry", h.RetryExport)
		exports.DELETE("", h.CancelExport)
		exports.GET("/file", h.DownloadExport)
	}

	sessionRoutes := router.Group("/sessions")
	{
		sessionRoutes.GET("", h.ListSessions)
		sessionRoutes.POST("", h.CreateSession)
		sessionRoutes.POST("/:sessionId/load", h.LoadSession)
		sessionRoutes.PATCH("/:sessionId", h.RenameSession)
		sessionRoutes.DELETE("/:sessionId", h.DeleteSession)
	}

	attachments := router.Group("/attachments")
	{
		attachments.GET("", h.ListAttachments)
		attachments.POST("", h.UploadAttachment)
		attachments.DELETE("/:fileId", h.DeleteAttachment)
		attachments.PUT("/selection", h.SelectAttachments)
	}
}

// writeError maps machine errors to HTTP responses
func writeError(c *gin.Context, err error) {
	var (
		editErr       *slides.EditError
		phaseErr      *chat.PhaseError
		extractionErr *chat.ExtractionError
		transportErr  *transport.Error
		failure       *export.Failure
	)

	switch {
	case errors.As(err, &editErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": editErr.Type})
	case errors.As(err, &phaseErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "phase": phaseErr.Phase})
	case errors.As(err, &extractionErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": extractionErr.Message, "type": extractionErr.Type})
	case errors.Is(err, sessions.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, export.ErrEmptyDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrGenerationInProgress),
		errors.Is(err, export.ErrNotReady),
		errors.Is(err, export.ErrNothingToRetry):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrRagUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &transportErr), errors.As(err, &failure):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Generation backend request failed", "details": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "details": err.Error()})
	}
}

// HealthCheck reports the status of every registered checker
func (h *Handlers) HealthCheck(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
		return
	}

	results := h.health.RuntimeHealthCheck(c.Request.Context())
	checks := make(map[string]string, len(results))
	status := http.StatusOK
	for name, err := range results {
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks, "timestamp": time.Now().UTC()})
}

func (h *Handlers) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.machine.State())
}

func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.machine.SendMessage(req.Text); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.machine.State())
}

func (h *Handlers) StopGeneration(c *gin.Context) {
	h.machine.StopGeneration()
	c.JSON(http.StatusOK, h.machine.State())
}

func (h *Handlers) ConfirmOutline(c *gin.Context) {
	if err := h.machine.ConfirmOutline(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.machine.State())
}

func (h *Handlers) UpdateSlide(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slide index must be an integer"})
		return
	}

	var req UpdateSlideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.machine.UpdateSlide(index, req.Field, req.Value, req.SubIndex); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.machine.State())
}

func (h *Handlers) Reset(c *gin.Context) {
	h.machine.Reset()
	c.JSON(http.StatusOK, h.machine.State())
}

func (h *Handlers) StartExport(c *gin.Context) {
	task, err := h.machine.StartExport(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (h *Handlers) RetryExport(c *gin.Context) {
	task, err := h.machine.RetryExport(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (h *Handlers) CancelExport(c *gin.Context) {
	if err := h.machine.CancelExport(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.machine.State())
}

func (h *Handlers) DownloadExport(c *gin.Context) {
	path, err := h.machine.DownloadExport(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("Serving exported file", zap.String("path", path))
	c.FileAttachment(path, filepath.Base(path))
}

func (h *Handlers) ListSessions(c *gin.Context) {
	entries, err := h.machine.ListSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": entries})
}

func (h *Handlers) CreateSession(c *gin.Context) {
	c.JSON(http.StatusCreated, h.machine.CreateNewSession())
}

func (h *Handlers) LoadSession(c *gin.Context) {
	if err := h.machine.LoadSession(c.Request.Context(), c.Param("sessionId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.machine.State())
}

func (h *Handlers) RenameSession(c *gin.Context) {
	var req RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.machine.RenameSession(c.Request.Context(), c.Param("sessionId"), req.Title); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.machine.DeleteSession(c.Request.Context(), c.Param("sessionId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ListAttachments(c *gin.Context) {
	files, err := h.machine.ListAttachments(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handlers) UploadAttachment(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required", "details": err.Error()})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload", "details": err.Error()})
		return
	}
	defer f.Close()

	file, err := h.machine.UploadAttachment(c.Request.Context(), header.Filename, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

func (h *Handlers) DeleteAttachment(c *gin.Context) {
	if err := h.machine.DeleteAttachment(c.Request.Context(), c.Param("fileId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) SelectAttachments(c *gin.Context) {
	var req SelectAttachmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	h.machine.SelectAttachments(req.FileIDs)
	c.JSON(http.StatusOK, h.machine.State())
}
