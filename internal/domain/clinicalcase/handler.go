package clinicalcase

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caseflow/caseflow/internal/platform/auth"
	"github.com/caseflow/caseflow/pkg/pagination"
)

// HTTPError maps workflow errors onto API responses.
func HTTPError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "))
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrStatusConflict), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

// ParseID reads a uuid path parameter.
func ParseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/cases", h.CreateCase)
	api.GET("/cases", h.ListCases)
	api.GET("/cases/:id", h.GetCase)
	api.PUT("/cases/:id/details", h.UpdateDetails)
}

type createCaseRequest struct {
	Demographics   Demographics `json:"demographics"`
	Vitals         Vitals       `json:"vitals"`
	MedicalHistory string       `json:"medical_history"`
	Files          []string     `json:"files"`
}

func (h *Handler) CreateCase(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return err
	}
	var req createCaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs := &Case{
		Demographics:   req.Demographics,
		Vitals:         req.Vitals,
		MedicalHistory: req.MedicalHistory,
		Files:          req.Files,
		CaregiverID:    actor.ID,
		CaregiverName:  actor.Name,
	}
	if err := h.svc.CreateCase(c.Request().Context(), cs); err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		}
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := CaseFilter{
		CaregiverID: c.QueryParam("caregiver_id"),
		Status:      CaseStatus(c.QueryParam("status")),
	}
	items, total, err := h.svc.ListCases(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateDetails(c echo.Context) error {
	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	var u DetailsUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs, err := h.svc.UpdateDetails(c.Request().Context(), id, u)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}
