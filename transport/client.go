// Package transport implements the credentialed JSON wrapper the webapp used
// for every backend call. Responses are classified defensively: an empty body
// and a non-JSON body both become errors with presentable messages, and the
// application-level httpCode embedded in the payload is what callers route
// on, never the transport status code.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/dynamicruntime/dnclient/core"
)

const defaultTimeout = 30 * time.Second

// Client issues same-origin style credentialed requests: a cookie jar keeps
// the backend's auth cookies across calls the way a browser session does.
type Client struct {
	baseURL string
	hc      *http.Client
}

var _ core.Transport = (*Client)(nil)

// New builds a client for the given backend root. When hc is nil a client
// with a fresh cookie jar and the default timeout is created.
func New(baseURL string, hc *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, core.ErrBaseURLRequired
	}
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		hc = &http.Client{Jar: jar, Timeout: defaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), hc: hc}, nil
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do issues the request and classifies the response body. Application-level
// failure codes come back inside the Response; the error return is reserved
// for network failures and unusable bodies.
func (c *Client) Do(ctx context.Context, method, endpoint string, payload any) (*core.Response, error) {
	body, err := c.fetch(ctx, method, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, core.ErrNoResponseData
	}
	if body[0] != '{' {
		// The raw text is the only message the server gave us.
		return nil, errors.New(string(body))
	}
	resp, err := core.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBadEnvelope, err)
	}
	return resp, nil
}

// Get is shorthand for Do with method GET and no payload.
func (c *Client) Get(ctx context.Context, endpoint string) (*core.Response, error) {
	return c.Do(ctx, http.MethodGet, endpoint, nil)
}

// DoText issues the request and returns the trimmed body without envelope
// interpretation. The dynamic endpoint form displays this verbatim.
func (c *Client) DoText(ctx context.Context, method, endpoint string, payload any) (string, error) {
	body, err := c.fetch(ctx, method, endpoint, payload)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) fetch(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if method != http.MethodGet && payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize request payload: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(body), nil
}
