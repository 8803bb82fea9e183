package consultation

import (
	"net/http"

	"github.com/google/uuid"
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
	api.POST("/cases/:id/consultations", h.Request)
	api.GET("/cases/:id/consultations", h.List)
	api.GET("/cases/:id/consultations/:consultationID", h.Get)
	api.POST("/cases/:id/consultations/:consultationID/feedback", h.SubmitFeedback)
	api.POST("/cases/:id/consultations/:consultationID/archive", h.Archive)
	api.GET("/consultations", h.Worklist)
}

type requestBody struct {
	Details string `json:"details"`
}

type feedbackBody struct {
	Feedback string `json:"feedback"`
}

type caseResponse struct {
	Consultation *cc.ConsultationRequest `json:"consultation"`
	Case         *cc.Case                `json:"case"`
}

func ids(c echo.Context) (caseID, consultationID uuid.UUID, err error) {
	if caseID, err = cc.ParseID(c, "id"); err != nil {
		return
	}
	consultationID, err = cc.ParseID(c, "consultationID")
	return
}

func (h *Handler) Request(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	caseID, err := cc.ParseID(c, "id")
	if err != nil {
		return err
	}
	var body requestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cr, cs, err := h.svc.Request(c.Request().Context(), caseID, cc.Actor(actor), body.Details)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, caseResponse{Consultation: cr, Case: cs})
}

func (h *Handler) Get(c echo.Context) error {
	caseID, consultationID, err := ids(c)
	if err != nil {
		return err
	}
	cr, err := h.svc.Get(c.Request().Context(), caseID, consultationID)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cr)
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

func (h *Handler) SubmitFeedback(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	caseID, consultationID, err := ids(c)
	if err != nil {
		return err
	}
	var body feedbackBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cr, cs, err := h.svc.SubmitFeedback(c.Request().Context(), caseID, consultationID, cc.Actor(actor), body.Feedback)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, caseResponse{Consultation: cr, Case: cs})
}

func (h *Handler) Archive(c echo.Context) error {
	caseID, consultationID, err := ids(c)
	if err != nil {
		return err
	}
	cr, err := h.svc.Archive(c.Request().Context(), caseID, consultationID)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cr)
}

func (h *Handler) Worklist(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Worklist(c.Request().Context(), cc.ConsultationStatus(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return cc.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
