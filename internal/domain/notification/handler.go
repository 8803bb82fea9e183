package notification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	cc "github.com/caseflow/caseflow/internal/domain/clinicalcase"
	"github.com/caseflow/caseflow/internal/platform/auth"
	"github.com/caseflow/caseflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications")
	g.GET("", h.List)
	g.GET("/unread-count", h.UnreadCount)
	g.POST("/read-all", h.MarkAllRead)
	g.POST("/:id/read", h.MarkRead)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	unreadOnly := false
	if v := c.QueryParam("unread"); v != "" {
		if unreadOnly, err = strconv.ParseBool(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid unread flag")
		}
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor.ID, unreadOnly, pg.Limit, pg.Offset)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), actor.ID)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := cc.ParseID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.svc.MarkRead(c.Request().Context(), id, actor.ID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), actor.ID)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"marked": n})
}
