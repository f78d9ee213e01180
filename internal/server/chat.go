package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"

	"github.com/opine-ai/opine/internal/engine"
	"github.com/opine-ai/opine/internal/session"
	"github.com/opine-ai/opine/internal/store"
)

// ChatHandler exposes the engine over HTTP: post a message, read the
// transcript, list artifacts.
type ChatHandler struct {
	Engine   *engine.Engine
	Sessions session.Store
	Audit    *store.Store
	Logger   *log.Logger
}

type messageRequest struct {
	Message string `json:"message"`
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/sessions/:id/messages", h.postMessage)
	g.GET("/sessions/:id/history", h.history)
	g.GET("/sessions/:id/artifacts", h.artifacts)
	g.GET("/sessions/:id/exchanges", h.exchanges)
}

func (h *ChatHandler) postMessage(c echo.Context) error {
	tracer := otel.Tracer("opine/server")
	ctx, span := tracer.Start(c.Request().Context(), "http.post_message")
	defer span.End()

	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	sessionID := c.Param("id")

	resp, err := h.Engine.ProcessRequest(ctx, sessionID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionBusy):
			return echo.NewHTTPError(http.StatusConflict, "a request is already in flight for this session")
		case ctx.Err() != nil:
			return echo.NewHTTPError(http.StatusRequestTimeout, "request cancelled")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) history(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	turns, err := h.Sessions.History(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"turns": turns})
}

func (h *ChatHandler) artifacts(c echo.Context) error {
	recs, err := h.Sessions.Artifacts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"artifacts": recs})
}

// exchanges reads the audited (durable) view of a session from Postgres,
// as opposed to the live transcript in the session store.
func (h *ChatHandler) exchanges(c echo.Context) error {
	if h.Audit == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "audit store not configured")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	recs, err := h.Audit.ListExchanges(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"exchanges": recs})
}
