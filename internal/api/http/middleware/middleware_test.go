package middleware

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	casbin "github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
	pasetotoken "github.com/Alijeyrad/carebook_backend/pkg/paseto"
	"github.com/Alijeyrad/carebook_backend/pkg/reqctx"
)

func newManager(t *testing.T) *pasetotoken.Manager {
	t.Helper()
	m, err := pasetotoken.New(pasetotoken.Config{
		Mode: pasetotoken.ModeLocal, Issuer: "carebook", Audience: "carebook", AccessTTL: time.Hour,
	}, pasetotoken.NewLocalKeys())
	require.NoError(t, err)
	return m
}

func newAuthorization(t *testing.T) authorize.IAuthorization {
	t.Helper()
	policy := filepath.Join(t.TempDir(), "policy.csv")
	require.NoError(t, os.WriteFile(policy, nil, 0o644))

	e, err := casbin.NewDistributedEnforcer(filepath.Join("..", "..", "..", "..", "casbin_model.conf"), fileadapter.NewAdapter(policy))
	require.NoError(t, err)
	e.EnableAutoSave(false)

	auth, err := authorize.NewAuthorization(e)
	require.NoError(t, err)
	require.NoError(t, authorize.SeedDefaultPolicies(t.Context(), auth))
	return auth
}

func status(t *testing.T, app *fiber.App, token string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestAuthRequired(t *testing.T) {
	mgr := newManager(t)
	token, err := mgr.IssueAccess("user-1", "patient", nil)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/", AuthRequired(mgr, nil, false), func(c fiber.Ctx) error {
		claims, ok := ClaimsFromFiber(c)
		if !ok {
			return fiber.ErrInternalServerError
		}
		uid, _ := reqctx.UserIDFromContext(c.Context())
		return c.SendString(claims.Role + ":" + uid)
	})

	assert.Equal(t, fiber.StatusOK, status(t, app, token))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, ""))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "not-a-token"))

	other, err := newManager(t).IssueAccess("user-1", "patient", nil)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, other))
}

func TestAuthRequiredRejectsSessionlessTokens(t *testing.T) {
	mgr := newManager(t)
	token, err := mgr.IssueAccess("user-1", "patient", nil)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/", AuthRequired(mgr, nil, true), func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, token))
}

func TestRequirePermission(t *testing.T) {
	mgr := newManager(t)
	auth := newAuthorization(t)

	app := fiber.New()
	app.Get("/",
		AuthRequired(mgr, nil, false),
		RequirePermission(auth, authorize.ResourceMaintenance, authorize.ActionExecute),
		func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) },
	)

	tests := []struct {
		role string
		want int
	}{
		{"admin", fiber.StatusOK},
		{"system", fiber.StatusOK},
		{"therapist", fiber.StatusForbidden},
		{"patient", fiber.StatusForbidden},
		{"guest", fiber.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			token, err := mgr.IssueAccess("user-1", tt.role, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status(t, app, token))
		})
	}
}

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString(reqctx.RequestIDFromContext(c.Context()))
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "rid-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "rid-1", resp.Header.Get(HeaderRequestID))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
}

func TestRequestIDRejectsJunk(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString(string(reqctx.OriginFromContext(c.Context())))
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "has space")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, "has space", resp.Header.Get(HeaderRequestID))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, string(reqctx.OriginHTTP), string(body))

	assert.False(t, validRequestID(strings.Repeat("a", maxRequestIDLen+1)))
	assert.True(t, validRequestID("7f1c-abc"))
}

func TestAccessLog(t *testing.T) {
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	app := fiber.New()
	app.Use(RequestID())
	app.Use(AccessLog("/livez"))
	app.Get("/livez", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/boom/:id", func(c fiber.Ctx) error { return fiber.ErrBadGateway })

	_, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/livez", nil))
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	_, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/boom/a1", nil))
	require.NoError(t, err)
	line := buf.String()
	assert.Contains(t, line, `"level":"ERROR"`)
	assert.Contains(t, line, `"route":"/boom/:id"`)
	assert.Contains(t, line, `"status":502`)
}
