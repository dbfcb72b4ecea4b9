package quality

import (
	"errors"
	"net/http"
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
	read.GET("/data-quality/requirements", h.ListRequirements)

	clinical := api.Group("", auth.RequireRole(auth.RoleManager, auth.RolePractitioner))
	clinical.GET("/clients/:id/data-quality", h.CalculateForClient)

	admin := api.Group("", auth.RequireRole(auth.RoleManager))
	admin.POST("/data-quality/requirements", h.CreateRequirement)
	admin.DELETE("/data-quality/requirements/:id", h.DeleteRequirement)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) ListRequirements(c echo.Context) error {
	items, err := h.svc.ListRequirements(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []Requirement{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateRequirement(c echo.Context) error {
	var r Requirement
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateRequirement(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) DeleteRequirement(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRequirement(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// CalculateForClient recalculates and stores the client's score.
func (h *Handler) CalculateForClient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.CalculateForClient(c.Request().Context(), id, h.now())
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
