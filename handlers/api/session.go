package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"graphmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/golang-jwt/jwt/v5"
)

// Locals keys set by SessionMiddleware
const (
	LocalUserID = "user_id"
	LocalEmail  = "email"
)

// Claims are the bearer token claims
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies API bearer tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an HS256 issuer
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateToken issues a token for the user
func (t *TokenIssuer) GenerateToken(userID, email string) (string, error) {
	now := t.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// ParseToken verifies a token and returns its claims
func (t *TokenIssuer) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// SessionMiddleware resolves the caller from a bearer token or, failing
// that, from the session cookie
func SessionMiddleware(store *session.Store, tokens *TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
			claims, err := tokens.ParseToken(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return utils.UnauthorizedError("Invalid token", err)
			}
			c.Locals(LocalUserID, claims.Subject)
			c.Locals(LocalEmail, claims.Email)
			return c.Next()
		}

		sess, err := store.Get(c)
		if err != nil {
			return utils.UnauthorizedError("Invalid session", err)
		}
		userID, _ := sess.Get(LocalUserID).(string)
		if userID == "" {
			return utils.UnauthorizedError("Not signed in", nil)
		}
		email, _ := sess.Get(LocalEmail).(string)
		c.Locals(LocalUserID, userID)
		c.Locals(LocalEmail, email)
		return c.Next()
	}
}

// CurrentUser returns the caller resolved by SessionMiddleware
func CurrentUser(c *fiber.Ctx) (userID, email string, err error) {
	userID, _ = c.Locals(LocalUserID).(string)
	email, _ = c.Locals(LocalEmail).(string)
	if userID == "" {
		return "", "", utils.UnauthorizedError("Not signed in", nil)
	}
	return userID, email, nil
}

// startSession stores the user in a fresh session
func startSession(c *fiber.Ctx, store *session.Store, userID, email string) error {
	sess, err := store.Get(c)
	if err != nil {
		return err
	}
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("regenerate session: %w", err)
	}
	sess.Set(LocalUserID, userID)
	sess.Set(LocalEmail, email)
	return sess.Save()
}
