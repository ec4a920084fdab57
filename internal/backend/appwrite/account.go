package appwrite

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"snapgram/internal/backend"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func (c *Client) Create(ctx context.Context, id, email, password, name string) (*backend.Account, error) {
	var acc backend.Account
	err := c.sendJSON(ctx, fiber.MethodPost, "/account", map[string]string{
		"userId":   id,
		"email":    email,
		"password": password,
		"name":     name,
	}, &acc)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// CreateEmailSession signs in. The session cookie from the response is kept
// and sent with every later request.
func (c *Client) CreateEmailSession(ctx context.Context, email, password string) (*backend.Session, error) {
	var sess backend.Session
	err := c.sendJSON(ctx, fiber.MethodPost, "/account/sessions/email", map[string]string{
		"email":    email,
		"password": password,
	}, &sess)
	if err != nil {
		return nil, err
	}
	if sess.Secret != "" && c.Session() == "" {
		c.SetSession(sess.Secret)
	}
	return &sess, nil
}

func (c *Client) Get(ctx context.Context) (*backend.Account, error) {
	var acc backend.Account
	if err := c.sendJSON(ctx, fiber.MethodGet, "/account", nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.sendJSON(ctx, fiber.MethodDelete, "/account/sessions/"+url.PathEscape(sessionID), nil, nil); err != nil {
		return err
	}
	if sessionID == backend.CurrentSession {
		c.SetSession("")
	}
	return nil
}

// CreateJWT issues a short-lived token for the current session.
func (c *Client) CreateJWT(ctx context.Context) (string, error) {
	var out struct {
		JWT string `json:"jwt"`
	}
	if err := c.sendJSON(ctx, fiber.MethodPost, "/account/jwt", nil, &out); err != nil {
		return "", err
	}
	return out.JWT, nil
}

// JWTExpiry reads the exp claim without verifying the signature.
func JWTExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse jwt: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("jwt exp: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("jwt has no exp claim")
	}
	return exp.Time, nil
}

// SessionExpiry asks for a JWT and returns when it expires.
func (c *Client) SessionExpiry(ctx context.Context) (time.Time, error) {
	token, err := c.CreateJWT(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return JWTExpiry(token)
}
