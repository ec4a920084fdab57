// Package appwrite talks to an Appwrite server over its REST and realtime
// APIs and implements the backend interfaces.
package appwrite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"snapgram/internal/backend"
	"snapgram/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const responseFormat = "1.4.0"

type Config struct {
	Endpoint  string // e.g. https://cloud.appwrite.io/v1
	ProjectID string
	Timeout   time.Duration
}

// Client holds the endpoint and the current session cookie. It is safe for
// concurrent use.
type Client struct {
	endpoint string
	project  string
	timeout  time.Duration

	mu      sync.RWMutex
	session string
}

var (
	_ backend.Accounts  = (*Client)(nil)
	_ backend.Documents = (*Client)(nil)
	_ backend.Files     = (*Client)(nil)
	_ backend.Avatars   = (*Client)(nil)
)

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		project:  cfg.ProjectID,
		timeout:  cfg.Timeout,
	}
}

// Error is the JSON error body Appwrite returns with every non-2xx status.
type Error struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("appwrite %d %s: %s", e.Status, e.Type, e.Message)
}

// Unwrap maps the status onto the backend sentinels.
func (e *Error) Unwrap() error {
	switch e.Status {
	case fiber.StatusUnauthorized, fiber.StatusForbidden:
		return backend.ErrUnauthorized
	case fiber.StatusNotFound:
		return backend.ErrNotFound
	case fiber.StatusConflict:
		return backend.ErrConflict
	case fiber.StatusBadRequest:
		if strings.Contains(e.Type, "query") {
			return backend.ErrInvalidQuery
		}
	}
	return nil
}

func (c *Client) sessionCookie() string { return "a_session_" + strings.ToLower(c.project) }

// Session returns the stored session secret.
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetSession restores a session secret saved from an earlier run.
func (c *Client) SetSession(secret string) {
	c.mu.Lock()
	c.session = secret
	c.mu.Unlock()
}

func (c *Client) url(path string) string { return c.endpoint + path }

func (c *Client) agent(method, url string) *fiber.Agent {
	var a *fiber.Agent
	switch method {
	case fiber.MethodPost:
		a = fiber.Post(url)
	case fiber.MethodPatch:
		a = fiber.Patch(url)
	case fiber.MethodPut:
		a = fiber.Put(url)
	case fiber.MethodDelete:
		a = fiber.Delete(url)
	default:
		a = fiber.Get(url)
	}
	a.Set("X-Appwrite-Project", c.project)
	a.Set("X-Appwrite-Response-Format", responseFormat)
	if s := c.Session(); s != "" {
		a.Cookie(c.sessionCookie(), s)
	}
	return a
}

// send runs the request, stores a session cookie if one was set, and decodes
// the JSON body into out when out is not nil.
func (c *Client) send(ctx context.Context, a *fiber.Agent, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	a.Timeout(timeout)

	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)
	a.SetResponse(resp)

	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("appwrite request: %w", errs[0])
	}

	ck := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(ck)
	ck.SetKey(c.sessionCookie())
	if resp.Header.Cookie(ck) {
		c.SetSession(string(ck.Value()))
	}

	if status >= fiber.StatusBadRequest {
		apiErr := &Error{Status: status}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := utils.SafeJSONParse(body, out); err != nil {
		return fmt.Errorf("appwrite: %w", err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	a := c.agent(method, c.url(path))
	if body != nil {
		a.JSON(body)
	}
	return c.send(ctx, a, out)
}
