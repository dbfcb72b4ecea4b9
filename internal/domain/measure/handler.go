package measure

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/outcomes/outcomes/internal/platform/auth"
	"github.com/outcomes/outcomes/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleManager, auth.RolePractitioner, auth.RoleReadOnly))
	read.GET("/measures", h.ListDefinitions)
	read.GET("/measures/:id", h.GetDefinition)
	read.GET("/forms/:id", h.GetForm)
	read.GET("/clients/:id/forms", h.ListClientForms)

	clinical := api.Group("", auth.RequireRole(auth.RoleManager, auth.RolePractitioner))
	clinical.POST("/measures/:id/score", h.PreviewScore)
	clinical.POST("/measures/:id/risk", h.CheckRisk)
	clinical.POST("/forms", h.AdministerForm)
	clinical.POST("/forms/:id/submit", h.SubmitForm)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/measures", h.CreateDefinition)
	admin.DELETE("/measures/:id", h.RetireDefinition)
}

type scoreRequest struct {
	Answers AnswerSet      `json:"answers" validate:"required"`
	Mode    CompletionMode `json:"mode" validate:"omitempty,oneof=strict partial"`
}

type riskResponse struct {
	Risk  bool     `json:"risk"`
	Items []string `json:"items"`
}

type submitRequest struct {
	Answers []Answer `json:"answers" validate:"required,min=1,dive"`
}

type submitResponse struct {
	Form   *AdministeredForm `json:"form"`
	Result *ScoreResult      `json:"result"`
}

func toHTTPError(err error, fallback int) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsScoringError(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrMeasureInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidDefinition):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(fallback, err.Error())
}

func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Definition Handlers --

func (h *Handler) CreateDefinition(c echo.Context) error {
	var d Definition
	if err := bindAndValidate(c, &d); err != nil {
		return err
	}
	if err := h.svc.CreateDefinition(c.Request().Context(), &d); err != nil {
		return toHTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDefinition(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDefinition(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDefinitions(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDefinitions(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RetireDefinition(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.RetireDefinition(c.Request().Context(), id); err != nil {
		return toHTTPError(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PreviewScore(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req scoreRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	result, err := h.svc.PreviewScore(c.Request().Context(), id, req.Answers, req.Mode)
	if err != nil {
		return toHTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) CheckRisk(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req scoreRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	items, err := h.svc.CheckRisk(c.Request().Context(), id, req.Answers)
	if err != nil {
		return toHTTPError(err, http.StatusBadRequest)
	}
	if items == nil {
		items = []string{}
	}
	return c.JSON(http.StatusOK, riskResponse{Risk: len(items) > 0, Items: items})
}

// -- Form Handlers --

func (h *Handler) AdministerForm(c echo.Context) error {
	var f AdministeredForm
	if err := bindAndValidate(c, &f); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.AdministerForm(ctx, &f, auth.UserIDFromContext(ctx), h.now()); err != nil {
		return toHTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) GetForm(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetForm(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListClientForms(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClientForms(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) SubmitForm(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req submitRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	f, result, err := h.svc.SubmitForm(ctx, id, req.Answers, auth.UserIDFromContext(ctx), h.now())
	if err != nil {
		return toHTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, submitResponse{Form: f, Result: result})
}
