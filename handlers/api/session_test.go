package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"graphmail/calendar"
	"graphmail/composer"
	"graphmail/config"
	"graphmail/models"
	"graphmail/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	raw, err := issuer.GenerateToken("u1", "u1@example.com")
	require.NoError(t, err)

	claims, err := issuer.ParseToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "u1@example.com", claims.Email)

	_, err = NewTokenIssuer("other", time.Hour).ParseToken(raw)
	assert.Error(t, err, "wrong secret")

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = issuer.ParseToken(raw)
	assert.Error(t, err, "expired")
}

func TestNotificationHub(t *testing.T) {
	hub := NewNotificationHandler()

	id, ch := hub.Subscribe("alice")
	_, other := hub.Subscribe("bob")
	assert.Equal(t, 1, hub.Subscribers("alice"))

	hub.Publish("alice", NotifyDraftChanged, map[string]interface{}{"composer_id": "c1"})

	select {
	case n := <-ch:
		assert.Equal(t, NotifyDraftChanged, n.Type)
		assert.Equal(t, "c1", n.Data["composer_id"])
		assert.NotEmpty(t, n.ID)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	select {
	case <-other:
		t.Fatal("notification leaked to another user")
	default:
	}

	hub.Unsubscribe("alice", id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("alice"))

	// publishing with no subscribers is a no-op
	hub.Publish("alice", NotifyDraftChanged, nil)
}

func newAuthApp(t *testing.T) (*fiber.App, *AuthHandler, *composer.Registry) {
	t.Helper()

	db, err := storage.InitDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	secrets, err := storage.NewSecretStore(db, []byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Transport.Kind = config.TransportIMAP
	cfg.IMAP.Server = "imap.example.com"

	store := session.New()
	tokens := NewTokenIssuer("secret", time.Hour)
	registry := composer.NewRegistry(1)
	views := calendar.NewViews(func(owner string) *calendar.View {
		return calendar.NewView(calendar.Options{Owner: owner})
	})
	h := NewAuthHandler(cfg, store, tokens, NewBackends(cfg, secrets), registry, views)
	h.verify = func(ctx context.Context, creds models.Credentials) error {
		if creds.Password != "hunter2" {
			return errors.New("authentication failed")
		}
		return nil
	}

	app := fiber.New(fiber.Config{ErrorHandler: testErrorHandler})
	app.Get("/login", h.Login)
	app.Post("/login", h.Login)
	app.Post("/logout", h.Logout)
	app.Get("/api/me", SessionMiddleware(store, tokens), func(c *fiber.Ctx) error {
		userID, email, err := CurrentUser(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"user_id": userID, "email": email})
	})
	return app, h, registry
}

func postForm(t *testing.T, app *fiber.App, path string, form url.Values) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestIMAPLogin(t *testing.T) {
	app, h, _ := newAuthApp(t)

	resp := postForm(t, app, "/login", url.Values{"email": {"Alice@Example.com"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postForm(t, app, "/login", url.Values{"email": {"Alice@Example.com"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postForm(t, app, "/login", url.Values{"email": {"Alice@Example.com"}, "password": {"hunter2"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, "alice@example.com", out["user_id"])
	assert.NotEmpty(t, out["token"])
	assert.NotEmpty(t, out["csrf_token"])

	// credentials are sealed for the backend factory
	be, err := h.backends.For(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.IsType(t, &imapBackend{}, be)

	var sessionCookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "session_id" {
			sessionCookie = ck
		}
	}
	require.NotNil(t, sessionCookie)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(sessionCookie)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+out["token"])
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIMAPLoginRequiresPost(t *testing.T) {
	app, _, _ := newAuthApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/login", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestLogoutDiscardsComposers(t *testing.T) {
	app, h, registry := newAuthApp(t)

	resp := postForm(t, app, "/login", url.Values{"email": {"bob@example.com"}, "password": {"hunter2"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessionCookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "session_id" {
			sessionCookie = ck
		}
	}
	require.NotNil(t, sessionCookie)

	registry.Open("bob@example.com", composer.Options{ID: "c1", Transport: &fakeBackend{}})
	require.Equal(t, 1, registry.Count("bob@example.com"))

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(sessionCookie)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 0, registry.Count("bob@example.com"))
	_, err = h.backends.For(context.Background(), "bob@example.com")
	assert.Error(t, err, "secret forgotten")

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(sessionCookie)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
