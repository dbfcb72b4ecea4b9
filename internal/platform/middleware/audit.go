package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/outcomes/outcomes/internal/platform/auth"
)

// AuditEntry describes one state-changing API call.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	Tenant     string
	UserID     string
	UserRoles  []string
	Action     string // create, update, delete
	Resource   string
	ClientID   string
	Route      string
	Method     string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every non-read request under /api/v1/ with the acting user.
// Reads are covered by the request logger.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") || isRead(req.Method) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Action:     methodToAction(req.Method),
				Resource:   resourceFromPath(req.URL.Path),
				ClientID:   clientIDFromPath(req.URL.Path),
				Route:      c.Path(),
				Method:     req.Method,
				StatusCode: c.Response().Status,
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Tenant, _ = c.Get("tenant_id").(string)
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("tenant", entry.Tenant).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("client_id", entry.ClientID).
				Str("route", entry.Route).
				Int("status", entry.StatusCode).
				Msg("api_write")

			return err
		}
	}
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}

// resourceFromPath returns the first segment after /api/v1/.
func resourceFromPath(path string) string {
	seg := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(seg) > 0 && seg[0] != "" {
		return seg[0]
	}
	return "unknown"
}

// clientIDFromPath extracts <id> from /api/v1/clients/<id>/...
func clientIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/clients/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}
