package intercept

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatmend/domain"
)

// PagePathHeader carries the host page path so detections can be keyed to a
// conversation. Absent or unmatchable paths leave the id empty, which
// disables persistence for the view.
const PagePathHeader = "x-page-path"

// Handler exposes the interception proxy over HTTP.
type Handler struct {
	interceptor *Interceptor
}

// NewHandler creates a proxy handler around an interceptor.
func NewHandler(ix *Interceptor) *Handler {
	return &Handler{interceptor: ix}
}

// RegisterRoutes registers the OpenAI-compatible proxy routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/chat/completions", h.ChatCompletions)
	e.GET("/v1/models", h.ListModels)
}

// ChatCompletions forwards a completion request upstream unchanged. Only the
// stream flag is parsed out of the body; the raw bytes travel as-is.
// POST /v1/chat/completions
func (h *Handler) ChatCompletions(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}

	var probe struct {
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	auth := req.Header.Get("Authorization")
	conversationID := domain.ConversationIDFromPath(req.Header.Get(PagePathHeader))
	ctx := req.Context()

	if probe.Stream {
		err := h.interceptor.ForwardStream(ctx, "/v1/chat/completions", auth, conversationID,
			body, c.Response())
		if err != nil {
			log.Printf("ERROR: streaming proxy failed: %v", err)
			if !c.Response().Committed {
				return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
			}
		}
		return nil
	}

	status, contentType, respBody, err := h.interceptor.Forward(ctx, "/v1/chat/completions", auth, conversationID, body)
	if err != nil {
		log.Printf("ERROR: proxy request failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.Blob(status, contentType, respBody)
}

// ListModels forwards the models listing upstream.
// GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	status, contentType, respBody, err := h.interceptor.ForwardGet(c.Request().Context(), "/v1/models",
		c.Request().Header.Get("Authorization"))
	if err != nil {
		log.Printf("ERROR: models proxy failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.Blob(status, contentType, respBody)
}
