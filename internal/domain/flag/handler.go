package flag

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/outcomes/outcomes/internal/domain/client"
	"github.com/outcomes/outcomes/internal/platform/auth"
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
	read.GET("/flag-rules", h.ListRules)
	read.GET("/clients/:id/flags", h.ListClientFlags)

	clinical := api.Group("", auth.RequireRole(auth.RoleManager, auth.RolePractitioner))
	clinical.POST("/clients/:id/flags", h.RaiseFlag)
	clinical.POST("/flags/:id/clear", h.ClearFlag)
	clinical.POST("/clients/:id/flags/evaluate", h.EvaluateClient)

	admin := api.Group("", auth.RequireRole(auth.RoleManager))
	admin.POST("/flag-rules", h.CreateRule)
	admin.PUT("/flag-rules/:id", h.UpdateRule)
	admin.DELETE("/flag-rules/:id", h.DeleteRule)
}

type raiseRequest struct {
	Type   string `json:"type" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type clearRequest struct {
	Note *string `json:"note" validate:"omitempty,max=500"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
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

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRuleNotFound), errors.Is(err, client.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyOpen), errors.Is(err, ErrAlreadyCleared):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) ListRules(c echo.Context) error {
	items, err := h.svc.ListRules(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []Rule{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateRule(c echo.Context) error {
	var r Rule
	if err := bindAndValidate(c, &r); err != nil {
		return err
	}
	if err := h.svc.CreateRule(c.Request().Context(), &r); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var r Rule
	if err := bindAndValidate(c, &r); err != nil {
		return err
	}
	r.ID = id
	if err := h.svc.UpdateRule(c.Request().Context(), &r); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRule(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListClientFlags(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	includeCleared, _ := strconv.ParseBool(c.QueryParam("include_cleared"))
	items, err := h.svc.ListClientFlags(c.Request().Context(), id, includeCleared)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []ClientFlag{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RaiseFlag(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req raiseRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	f := ClientFlag{ClientID: id, Type: req.Type, Reason: req.Reason}
	if err := h.svc.RaiseManual(ctx, &f, auth.UserIDFromContext(ctx), h.now()); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) ClearFlag(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req clearRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	f, err := h.svc.ClearFlag(ctx, id, auth.UserIDFromContext(ctx), req.Note, h.now())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, f)
}

// EvaluateClient is a dry run unless ?apply=true.
func (h *Handler) EvaluateClient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	apply, _ := strconv.ParseBool(c.QueryParam("apply"))
	ev, err := h.svc.EvaluateClient(c.Request().Context(), id, h.now(), apply)
	if err != nil {
		return toHTTPError(err)
	}
	resp := map[string]interface{}{
		"applied":   apply,
		"decisions": ev.Decisions,
	}
	if len(ev.ConfigErrors) > 0 {
		msgs := make([]string, len(ev.ConfigErrors))
		for i, e := range ev.ConfigErrors {
			msgs[i] = e.Error()
		}
		resp["configuration_errors"] = msgs
	}
	return c.JSON(http.StatusOK, resp)
}
