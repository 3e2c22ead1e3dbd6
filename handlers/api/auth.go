package api

import (
	"context"
	"strings"

	"graphmail/calendar"
	"graphmail/composer"
	"graphmail/config"
	"graphmail/graph"
	"graphmail/mailer"
	"graphmail/middleware"
	"graphmail/models"
	"graphmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const oauthStateKey = "oauth_state"

// AuthHandler signs users in with OAuth (graph) or IMAP credentials (imap)
type AuthHandler struct {
	cfg      *config.Config
	store    *session.Store
	tokens   *TokenIssuer
	backends *Backends
	registry *composer.Registry
	views    *calendar.Views

	// swapped in tests
	verify   func(ctx context.Context, creds models.Credentials) error
	exchange func(ctx context.Context, code string) (*oauth2.Token, error)
	me       func(ctx context.Context, tok *oauth2.Token) (*models.User, error)
}

// NewAuthHandler creates a new instance of AuthHandler
func NewAuthHandler(cfg *config.Config, store *session.Store, tokens *TokenIssuer, backends *Backends, registry *composer.Registry, views *calendar.Views) *AuthHandler {
	h := &AuthHandler{
		cfg:      cfg,
		store:    store,
		tokens:   tokens,
		backends: backends,
		registry: registry,
		views:    views,
	}
	h.verify = func(ctx context.Context, creds models.Credentials) error {
		return mailer.New(cfg.IMAP, cfg.SMTP, creds).Verify(ctx)
	}
	h.exchange = func(ctx context.Context, code string) (*oauth2.Token, error) {
		return backends.OAuth().Exchange(ctx, code)
	}
	h.me = func(ctx context.Context, tok *oauth2.Token) (*models.User, error) {
		client := graph.NewClient(backends.OAuth().TokenSource(ctx, tok), graph.Options{BaseURL: cfg.Graph.BaseURL})
		return client.Me(ctx)
	}
	return h
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Login starts the OAuth flow in graph mode, or checks the posted IMAP
// credentials in imap mode
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if h.cfg.Transport.Kind == config.TransportIMAP {
		return h.imapLogin(c)
	}

	sess, err := h.store.Get(c)
	if err != nil {
		return utils.InternalServerError("Session error", err)
	}
	state := uuid.New().String()
	sess.Set(oauthStateKey, state)
	if err := sess.Save(); err != nil {
		return utils.InternalServerError("Session error", err)
	}
	return c.Redirect(h.backends.OAuth().AuthCodeURL(state, oauth2.AccessTypeOffline), fiber.StatusFound)
}

func (h *AuthHandler) imapLogin(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		return fiber.ErrMethodNotAllowed
	}
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}
	email := strings.TrimSpace(req.Email)
	password := strings.TrimSpace(req.Password)
	if email == "" || password == "" {
		return utils.BadRequestError("Email and password are required", nil)
	}

	creds := models.Credentials{Email: email, Password: password}
	if err := h.verify(c.UserContext(), creds); err != nil {
		utils.Log.Warn("Login failed for %s: %v", email, err)
		return utils.UnauthorizedError("Invalid credentials or server error", err)
	}

	userID := strings.ToLower(email)
	if err := h.backends.StoreCredentials(userID, creds); err != nil {
		return utils.InternalServerError("Failed to secure credentials", err)
	}
	return h.signedIn(c, userID, email)
}

// Callback completes the OAuth flow
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return utils.InternalServerError("Session error", err)
	}
	want, _ := sess.Get(oauthStateKey).(string)
	sess.Delete(oauthStateKey)
	if err := sess.Save(); err != nil {
		return utils.InternalServerError("Session error", err)
	}
	if want == "" || c.Query("state") != want {
		return utils.BadRequestError("Invalid OAuth state", nil)
	}
	if msg := c.Query("error"); msg != "" {
		return utils.UnauthorizedError("Sign-in was not completed", nil).WithContext("reason", c.Query("error_description", msg))
	}

	tok, err := h.exchange(c.UserContext(), c.Query("code"))
	if err != nil {
		return utils.UnauthorizedError("Sign-in failed", err)
	}
	user, err := h.me(c.UserContext(), tok)
	if err != nil {
		return utils.BadGatewayError("Failed to load the signed-in user", err)
	}
	if err := h.backends.StoreToken(user.ID, tok); err != nil {
		return utils.InternalServerError("Failed to secure credentials", err)
	}
	return h.signedIn(c, user.ID, user.Address())
}

func (h *AuthHandler) signedIn(c *fiber.Ctx, userID, email string) error {
	if err := startSession(c, h.store, userID, email); err != nil {
		return utils.InternalServerError("Session error", err)
	}
	token, err := h.tokens.GenerateToken(userID, email)
	if err != nil {
		return utils.InternalServerError("Failed to create authentication token", err)
	}
	utils.Log.Info("User %s signed in", email)

	csrf := middleware.DefaultCSRFConfig()
	csrf.CookieMaxAge = int(h.cfg.Session.Expiration.Seconds())
	csrf.CookieSecure = h.cfg.Session.CookieSecure

	return c.JSON(fiber.Map{
		"user_id":    userID,
		"email":      email,
		"token":      token,
		"csrf_token": middleware.GenerateCSRFToken(c, csrf),
	})
}

// Logout discards the user's open composers and forgets their secrets
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return utils.InternalServerError("Session error", err)
	}
	if userID, _ := sess.Get(LocalUserID).(string); userID != "" {
		h.registry.CloseAll(userID)
		h.views.Forget(userID)
		h.backends.Forget(userID)
		utils.Log.Info("User %s signed out", userID)
	}
	if err := sess.Destroy(); err != nil {
		return utils.InternalServerError("Session error", err)
	}
	return c.JSON(fiber.Map{"status": "signed_out"})
}
