// Package api exposes the relay's HTTP surface: reconciliation, history,
// restore-on-load and settings.
package api

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatmend/config"
	"chatmend/domain"
	"chatmend/hub"
	"chatmend/page"
	"chatmend/reconcile"
	"chatmend/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store      store.Store
	controller *reconcile.Controller
	hub        *hub.Hub
	config     *config.Config
}

// NewHandler creates a new handler.
func NewHandler(s store.Store, controller *reconcile.Controller, h *hub.Hub, cfg *config.Config) *Handler {
	return &Handler{
		store:      s,
		controller: controller,
		hub:        h,
		config:     cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/conversations/:conversation_id/reconcile", h.Reconcile)
	e.POST("/v1/conversations/:conversation_id/restore", h.Restore)
	e.GET("/v1/conversations/:conversation_id/history", h.GetHistory)
	e.GET("/v1/conversations/:conversation_id/events", h.GetEvents)
	e.GET("/v1/conversations", h.ListConversations)

	e.GET("/v1/settings", h.GetSettings)
	e.PUT("/v1/settings", h.PutSettings)

	e.GET("/ws", h.HandleWebSocket)
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// reconcileResponse is the reply to a reconcile or restore call.
type reconcileResponse struct {
	*reconcile.Outcome
	TurnHTML string `json:"turn_html,omitempty"`
}

// Reconcile runs the reconciliation pipeline against a transcript snapshot.
// POST /v1/conversations/:conversation_id/reconcile
func (h *Handler) Reconcile(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	var req domain.ReconcileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Action != domain.ActionCheckCensorship {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown action"})
	}
	if req.HTML == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "html snapshot is required"})
	}

	view, err := page.ParseTranscript(req.HTML)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unparseable html snapshot"})
	}

	ev := domain.DetectionEvent{
		Type:           domain.DetectionType,
		ConversationID: conversationID,
		Index:          req.Index,
		Manual:         req.Manual,
	}

	outcome, err := h.controller.Handle(c.Request().Context(), ev, view)
	switch {
	case err == reconcile.ErrInFlight:
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case err == reconcile.ErrNoTurns:
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case err != nil:
		log.Printf("ERROR: reconciliation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "reconciliation failed"})
	}

	turnHTML, err := view.RenderTurn(outcome.Index)
	if err != nil {
		log.Printf("WARN: failed to render reconciled turn: %v", err)
	}

	h.pushOutcome(outcome, turnHTML)
	return c.JSON(http.StatusOK, reconcileResponse{Outcome: outcome, TurnHTML: turnHTML})
}

// Restore re-applies persisted history to a fresh page snapshot.
// POST /v1/conversations/:conversation_id/restore
func (h *Handler) Restore(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	var req struct {
		HTML string `json:"html"`
	}
	if err := c.Bind(&req); err != nil || req.HTML == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "html snapshot is required"})
	}

	history, err := h.store.History(c.Request().Context(), conversationID)
	if err != nil {
		log.Printf("ERROR: failed to load history: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load history"})
	}
	if len(history) == 0 {
		return c.JSON(http.StatusOK, map[string]interface{}{"restored": false})
	}

	view, err := page.ParseTranscript(req.HTML)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unparseable html snapshot"})
	}

	if err := page.Restore(view, history); err == page.ErrNotReady {
		// The page is still rendering; the shim keeps observing and retries.
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	} else if err != nil {
		log.Printf("ERROR: restore failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "restore failed"})
	}

	rendered, err := view.Render()
	if err != nil {
		log.Printf("ERROR: failed to render restored page: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to render restored page"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"restored": true,
		"html":     rendered,
	})
}

// GetHistory returns the persisted history for a conversation.
// GET /v1/conversations/:conversation_id/history
func (h *Handler) GetHistory(c echo.Context) error {
	history, err := h.store.History(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		log.Printf("ERROR: failed to load history: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load history"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": history})
}

// GetEvents returns the reconciliation trace for a conversation.
// GET /v1/conversations/:conversation_id/events
func (h *Handler) GetEvents(c echo.Context) error {
	events, err := h.store.Events(c.Request().Context(), c.Param("conversation_id"), 0)
	if err != nil {
		log.Printf("ERROR: failed to load events: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load events"})
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

// ListConversations returns the ids of every persisted conversation.
// GET /v1/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	ids, err := h.store.ListConversations(c.Request().Context())
	if err != nil {
		log.Printf("ERROR: failed to list conversations: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list conversations"})
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": ids})
}

// GetSettings returns the rewrite configuration. The credential itself is
// never echoed back.
// GET /v1/settings
func (h *Handler) GetSettings(c echo.Context) error {
	ctx := c.Request().Context()
	apiKey, err := h.store.Setting(ctx, store.SettingAPIKey)
	if err != nil {
		log.Printf("ERROR: failed to read settings: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read settings"})
	}
	model, err := h.store.Setting(ctx, store.SettingModel)
	if err != nil {
		log.Printf("ERROR: failed to read settings: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read settings"})
	}
	if model == "" {
		model = h.config.RewriteModel
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"model":       model,
		"api_key_set": apiKey != "" || h.config.RewriteAPIKey != "",
	})
}

// PutSettings stores the rewrite credential and model identifier.
// PUT /v1/settings
func (h *Handler) PutSettings(c echo.Context) error {
	var req struct {
		APIKey string `json:"api_key"`
		Model  string `json:"model"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	if err := h.store.SetSetting(ctx, store.SettingAPIKey, req.APIKey); err != nil {
		log.Printf("ERROR: failed to store credential: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store settings"})
	}
	if err := h.store.SetSetting(ctx, store.SettingModel, req.Model); err != nil {
		log.Printf("ERROR: failed to store model: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store settings"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
