package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runRequireRole(t *testing.T, granted []string, required ...string) (int, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(context.Background(), "u1", granted))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := RequireRole(required...)(okHandler)(c)
	return rec.Code, err
}

func TestRequireRole_Allowed(t *testing.T) {
	code, err := runRequireRole(t, []string{RolePractitioner}, RoleManager, RolePractitioner)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := runRequireRole(t, []string{RoleReadOnly}, RoleManager)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	_, err := runRequireRole(t, []string{RoleAdmin}, RoleManager)
	if err != nil {
		t.Errorf("admin should pass any role check, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	_, err := runRequireRole(t, nil, RoleReadOnly)
	if err == nil {
		t.Error("expected error when no roles are present")
	}
}

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		granted  []string
		required []string
		want     bool
	}{
		{[]string{RoleManager}, []string{RoleManager}, true},
		{[]string{RoleReadOnly}, []string{RoleManager, RolePractitioner}, false},
		{[]string{RoleAdmin}, []string{RolePractitioner}, true},
		{nil, []string{RoleReadOnly}, false},
	}
	for _, tt := range tests {
		if got := HasAnyRole(tt.granted, tt.required...); got != tt.want {
			t.Errorf("HasAnyRole(%v, %v) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}
