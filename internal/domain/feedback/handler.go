package feedback

import (
	"net/http"

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
	api.POST("/cases/:id/feedback", h.Submit)
	api.GET("/cases/:id/feedback", h.List)
}

type submitRequest struct {
	Note string `json:"note"`
}

type submitResponse struct {
	Feedback *cc.FeedbackEntry `json:"feedback"`
	Case     *cc.Case          `json:"case"`
}

func (h *Handler) Submit(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	caseID, err := cc.ParseID(c, "id")
	if err != nil {
		return err
	}
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, cs, err := h.svc.Submit(c.Request().Context(), caseID, cc.Actor(actor), req.Note)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, submitResponse{Feedback: entry, Case: cs})
}

func (h *Handler) List(c echo.Context) error {
	caseID, err := cc.ParseID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), caseID, pg.Limit, pg.Offset)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
