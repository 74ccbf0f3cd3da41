package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runWithRoles(roles []string, mw echo.MiddlewareFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if roles != nil {
		req = req.WithContext(WithUser(context.Background(), "u1", roles...))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })(c)
	return rec, err
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		roles   []string
		allowed bool
	}{
		{"viewer", []string{"nutrition_viewer"}, true},
		{"editor", []string{"nutrition_editor"}, true},
		{"admin bypass", []string{"admin"}, true},
		{"other role", []string{"billing"}, false},
		{"no roles", []string{}, false},
		{"no user", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := runWithRoles(tt.roles, RequireRole("nutrition_viewer", "nutrition_editor"))
			if tt.allowed {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d", rec.Code)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != http.StatusForbidden {
				t.Errorf("expected 403, got %d", httpErr.Code)
			}
		})
	}
}

func TestWithUser(t *testing.T) {
	ctx := WithUser(context.Background(), "worker-1", "nutrition_viewer")
	if uid := UserIDFromContext(ctx); uid != "worker-1" {
		t.Errorf("expected worker-1, got %s", uid)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != "nutrition_viewer" {
		t.Errorf("unexpected roles: %v", roles)
	}
	if uid := UserIDFromContext(context.Background()); uid != "" {
		t.Errorf("expected empty user id, got %s", uid)
	}
}
