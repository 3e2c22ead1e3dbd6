package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"graphmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func langApp(t *testing.T) *fiber.App {
	t.Helper()
	require.NoError(t, utils.InitI18n())
	app := fiber.New()
	app.Use(LocaleMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("lang").(string))
	})
	return app
}

func body(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	return resp.StatusCode, string(buf[:n])
}

func TestLocaleMiddleware(t *testing.T) {
	app := langApp(t)

	tests := []struct {
		name   string
		query  string
		cookie string
		accept string
		want   string
	}{
		{name: "default", want: "en"},
		{name: "query", query: "ja", want: "ja"},
		{name: "unsupported query", query: "xx", want: "en"},
		{name: "cookie", cookie: "ja", want: "ja"},
		{name: "query beats cookie", query: "en", cookie: "ja", want: "en"},
		{name: "accept-language", accept: "ja-JP,ja;q=0.9,en;q=0.8", want: "ja"},
		{name: "accept-language fallback", accept: "fr-FR", want: "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target += "?lang=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "lang", Value: tt.cookie})
			}
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			_, got := body(t, app, req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func csrfApp() *fiber.App {
	app := fiber.New()
	app.Use(CSRFProtection())
	app.All("/", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestCSRFProtection(t *testing.T) {
	app := csrfApp()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	status, _ := body(t, app, req)
	assert.Equal(t, http.StatusOK, status, "safe methods pass")

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	status, _ = body(t, app, req)
	assert.Equal(t, http.StatusForbidden, status)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "abc"})
	req.Header.Set("X-CSRF-Token", "abd")
	status, _ = body(t, app, req)
	assert.Equal(t, http.StatusForbidden, status)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "abc"})
	req.Header.Set("X-CSRF-Token", "abc")
	status, _ = body(t, app, req)
	assert.Equal(t, http.StatusOK, status)
}

func TestCSRFSkipsBearerClients(t *testing.T) {
	app := csrfApp()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	status, _ := body(t, app, req)
	assert.Equal(t, http.StatusOK, status)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	status, _ = body(t, app, req)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestGenerateCSRFToken(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(GenerateCSRFToken(c))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var cookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "csrf_token" {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
}

func TestRateLimiter(t *testing.T) {
	app := fiber.New()
	rl := NewRateLimiter(2, time.Hour)
	t.Cleanup(rl.Close)
	app.Use(rl.Handler)
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	for i := 0; i < 2; i++ {
		status, _ := body(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, status)
	}
	status, _ := body(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	defer rl.Close()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.True(t, rl.allow("10.0.0.1"))
	require.False(t, rl.allow("10.0.0.1"))
	now = now.Add(5 * time.Minute)
	require.True(t, rl.allow("10.0.0.2"))

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, rl.sweep())
	rl.mu.Lock()
	assert.NotContains(t, rl.clients, "10.0.0.1")
	assert.Contains(t, rl.clients, "10.0.0.2")
	rl.mu.Unlock()

	// a forgotten client starts with a fresh bucket
	assert.True(t, rl.allow("10.0.0.1"))

	rl.Close()
	rl.Close()
}
