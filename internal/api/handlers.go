package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"helixar/internal/export"
	"helixar/internal/models"
	"helixar/internal/preferences"
	"helixar/internal/service/ai"
	"helixar/internal/session"
	"helixar/internal/worker"
)

// Scheduler runs completions off the request goroutine. A job it never runs must be
// handed back through its Dropped callback.
type Scheduler interface {
	Enqueue(job worker.Job) error
}

// ModelTiers maps the fast and pro tiers to provider model ids.
type ModelTiers struct {
	Fast models.ModelType
	Pro  models.ModelType
}

// Handler exposes the session store over HTTP.
type Handler struct {
	store     *session.Store
	prefs     *preferences.Service
	scheduler Scheduler
	tiers     ModelTiers
	now       func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(store *session.Store, prefs *preferences.Service, scheduler Scheduler, tiers ModelTiers) *Handler {
	return &Handler{
		store:     store,
		prefs:     prefs,
		scheduler: scheduler,
		tiers:     tiers,
		now:       time.Now,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/state", h.getState)
	api.POST("/sessions/draft", h.createDraft)
	api.PUT("/sessions/current", h.selectSession)
	api.GET("/sessions/grouped", h.getGrouped)
	api.PATCH("/sessions/:id", h.renameSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.GET("/sessions/:id/export", h.exportSession)
	api.GET("/sessions/:id/share", h.shareSession)
	api.GET("/search", h.search)
	api.POST("/messages", h.sendMessage)
	api.POST("/messages/:id/regenerate", h.regenerate)
	api.POST("/group", h.convertToGroup)
	api.PUT("/model", h.setModel)
	api.GET("/preferences", h.getPreferences)
	api.PUT("/preferences", h.updatePreferences)
}

func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Snapshot())
}

func (h *Handler) createDraft(c *gin.Context) {
	h.store.CreateDraft()
	c.JSON(http.StatusOK, h.store.Snapshot())
}

type selectRequest struct {
	ID string `json:"id"`
}

func (h *Handler) selectSession(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.store.SelectSession(req.ID)
	c.JSON(http.StatusOK, h.store.Snapshot())
}

type renameRequest struct {
	Title *string `json:"title"`
}

func (h *Handler) renameSession(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if err := h.store.RenameSession(c.Request.Context(), c.Param("id"), *req.Title); err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.store.Snapshot())
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.store.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.store.Snapshot())
}

func (h *Handler) exportSession(c *gin.Context) {
	exporter, err := export.NewExporter(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	se, ok := h.store.Session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Header("Content-Type", exporter.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, se.ID, exporter.Extension()))
	c.Status(http.StatusOK)
	if err := exporter.Export(se, c.Writer); err != nil {
		log.WithError(err).WithField("session", se.ID).Error("export session")
	}
}

func (h *Handler) shareSession(c *gin.Context) {
	link, ok := h.store.ShareLink(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": link})
}

func (h *Handler) getGrouped(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Grouped(h.now()))
}

func (h *Handler) search(c *gin.Context) {
	results := h.store.Search(c.Query("q"))
	if results == nil {
		results = []*models.ChatSession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": results})
}

type sendRequest struct {
	Content string `json:"content"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	turn, err := h.store.PrepareSend(c.Request.Context(), req.Content)
	if err != nil {
		h.turnError(c, err)
		return
	}
	if turn == nil {
		c.JSON(http.StatusOK, h.store.Snapshot())
		return
	}
	h.schedule(c, turn)
}

func (h *Handler) regenerate(c *gin.Context) {
	turn, err := h.store.PrepareRegenerate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.turnError(c, err)
		return
	}
	if turn == nil {
		c.JSON(http.StatusOK, h.store.Snapshot())
		return
	}
	h.schedule(c, turn)
}

// schedule hands the turn to the worker pool and answers 202. A rejected or dropped
// turn is released so the session can be used again.
func (h *Handler) schedule(c *gin.Context, turn *session.Turn) {
	err := h.scheduler.Enqueue(worker.Job{
		SessionID: turn.SessionID,
		Task: func(ctx context.Context) {
			h.store.Complete(ai.WithToolSession(ctx, turn.SessionID), turn)
		},
		Dropped: func(err error) {
			h.store.Abandon(turn, err)
		},
	})
	if err != nil {
		h.store.Abandon(turn, err)
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"turn": turn, "state": h.store.Snapshot()})
}

func (h *Handler) turnError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrSessionBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	h.internalError(c, err)
}

func (h *Handler) convertToGroup(c *gin.Context) {
	link, err := h.store.ConvertToGroup(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groupLink": link, "state": h.store.Snapshot()})
}

type modelRequest struct {
	Model string `json:"model"`
}

func (h *Handler) setModel(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	model, ok := h.resolveModel(req.Model)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model must be fast, pro or a configured model id"})
		return
	}
	h.store.SetModel(model)
	c.JSON(http.StatusOK, gin.H{"model": model})
}

func (h *Handler) resolveModel(name string) (models.ModelType, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fast", "flash":
		return h.tiers.Fast, h.tiers.Fast != ""
	case "pro":
		return h.tiers.Pro, h.tiers.Pro != ""
	}
	id := models.ModelType(strings.TrimSpace(name))
	if id != "" && (id == h.tiers.Fast || id == h.tiers.Pro) {
		return id, true
	}
	return "", false
}

func (h *Handler) getPreferences(c *gin.Context) {
	prefs, err := h.prefs.Get(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (h *Handler) updatePreferences(c *gin.Context) {
	var req preferences.Update
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	prefs, err := h.prefs.Apply(c.Request.Context(), req)
	if errors.Is(err, preferences.ErrInvalidTheme) || errors.Is(err, preferences.ErrInvalidAccent) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (h *Handler) internalError(c *gin.Context, err error) {
	log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
