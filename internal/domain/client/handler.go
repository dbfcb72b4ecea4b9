package client

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/outcomes/outcomes/internal/platform/auth"
	"github.com/outcomes/outcomes/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleManager, auth.RolePractitioner, auth.RoleReadOnly))
	read.GET("/clients", h.ListClients)
	read.GET("/clients/:id", h.GetClient)
	read.GET("/clients/:id/sessions", h.ListSessions)
	read.GET("/programs", h.ListPrograms)

	write := api.Group("", auth.RequireRole(auth.RoleManager, auth.RolePractitioner))
	write.POST("/clients", h.CreateClient)
	write.PUT("/clients/:id", h.UpdateClient)
	write.POST("/clients/:id/sessions", h.RecordSession)
	write.POST("/clients/:id/notes", h.AddNote)

	admin := api.Group("", auth.RequireRole(auth.RoleManager))
	admin.POST("/programs", h.CreateProgram)
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
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) CreateClient(c echo.Context) error {
	var cl Client
	if err := bindAndValidate(c, &cl); err != nil {
		return err
	}
	if err := h.svc.CreateClient(c.Request().Context(), &cl); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.GetClient(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) UpdateClient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var cl Client
	if err := bindAndValidate(c, &cl); err != nil {
		return err
	}
	cl.ID = id
	if err := h.svc.UpdateClient(c.Request().Context(), &cl); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListClients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClients(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RecordSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var s Session
	if err := bindAndValidate(c, &s); err != nil {
		return err
	}
	s.ClientID = id
	if err := h.svc.RecordSession(c.Request().Context(), &s); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) ListSessions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListSessions(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []Session{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddNote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var n CaseNote
	if err := bindAndValidate(c, &n); err != nil {
		return err
	}
	ctx := c.Request().Context()
	n.ClientID = id
	n.Author = auth.UserIDFromContext(ctx)
	if err := h.svc.AddNote(ctx, &n); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) CreateProgram(c echo.Context) error {
	var p Program
	if err := bindAndValidate(c, &p); err != nil {
		return err
	}
	if err := h.svc.CreateProgram(c.Request().Context(), &p); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPrograms(c echo.Context) error {
	items, err := h.svc.ListPrograms(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}
