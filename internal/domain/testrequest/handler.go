package testrequest

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
	api.POST("/cases/:id/test-requests", h.Create)
	api.GET("/cases/:id/test-requests", h.List)
	api.GET("/cases/:id/test-requests/:requestID", h.Get)
	api.POST("/cases/:id/test-requests/:requestID/fulfill", h.Fulfil)
	api.POST("/cases/:id/test-requests/:requestID/review", h.Review)
}

type createRequest struct {
	TestName string `json:"test_name"`
	Reason   string `json:"reason"`
}

type fulfilRequest struct {
	Notes string   `json:"notes"`
	Files []string `json:"files"`
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	caseID, err := cc.ParseID(c, "id")
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tr, err := h.svc.Create(c.Request().Context(), caseID, cc.Actor(actor), req.TestName, req.Reason)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, tr)
}

func (h *Handler) Get(c echo.Context) error {
	caseID, err := cc.ParseID(c, "id")
	if err != nil {
		return err
	}
	requestID, err := cc.ParseID(c, "requestID")
	if err != nil {
		return err
	}
	tr, err := h.svc.Get(c.Request().Context(), caseID, requestID)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, tr)
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

func (h *Handler) Fulfil(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	caseID, err := cc.ParseID(c, "id")
	if err != nil {
		return err
	}
	requestID, err := cc.ParseID(c, "requestID")
	if err != nil {
		return err
	}
	var req fulfilRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tr, cs, err := h.svc.Fulfil(c.Request().Context(), caseID, requestID, cc.Actor(actor), req.Notes, req.Files)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"test_request": tr, "case": cs})
}

func (h *Handler) Review(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	caseID, err := cc.ParseID(c, "id")
	if err != nil {
		return err
	}
	requestID, err := cc.ParseID(c, "requestID")
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tr, err := h.svc.Review(c.Request().Context(), caseID, requestID, cc.Actor(actor), req.Notes)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, tr)
}
