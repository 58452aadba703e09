// Package dnclient is a typed client for the dynamicruntime portal API. It
// reproduces the portal webapp's presentation-layer behavior: the login
// activity flows, the shared profile cache, the node health dashboard, the
// login source history, and the schema-driven endpoint form.
package dnclient

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/dynamicruntime/dnclient/core"
	"github.com/dynamicruntime/dnclient/profile"
	"github.com/dynamicruntime/dnclient/services"
	"github.com/dynamicruntime/dnclient/transport"
)

// interfaces
type (
	Transport = core.Transport
)

// structs
type (
	Config   = core.Config
	Response = core.Response
	Profile  = core.Profile

	Activity = services.Activity
	Progress = services.Progress
	Guard    = services.Guard
)

// Constructors & helpers (convenience re-exports)
var (
	NewNavBuilder   = core.NewNavBuilder
	NewProfileCache = profile.NewCache

	ExtractSources = services.ExtractSources
)

var (
	ErrNoResponseData   = core.ErrNoResponseData
	ErrSubmitInProgress = core.ErrSubmitInProgress
	ErrUnknownActivity  = core.ErrUnknownActivity
)

var (
	ErrBaseURLRequired = core.ErrBaseURLRequired
)

const defaultTimeout = 30 * time.Second

// Client bundles the transport, the shared profile cache, and the
// navigation builder for one portal backend.
type Client struct {
	Transport *transport.Client
	Profiles  *profile.Cache
	Nav       *core.NavBuilder
}

// New validates the configuration and builds a client with a cookie-holding
// transport, an empty profile cache, and a navigation builder seeded with
// the configured site id.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}

	// Set Defaults

	hc := config.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		timeout := config.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Jar: jar, Timeout: timeout}
	}

	t, err := transport.New(config.BaseURL, hc)
	if err != nil {
		return nil, err
	}

	nav := core.NewNavBuilderFromAddress(config.PageAddress)
	if config.SiteID != "" {
		nav.SetArg("siteId", config.SiteID)
	}

	return &Client{
		Transport: t,
		Profiles:  profile.NewCache(),
		Nav:       nav,
	}, nil
}

// NewLoginFlow starts a login flow bound to this client's profile cache.
func (c *Client) NewLoginFlow(onLogin func()) *services.LoginFlow {
	return services.NewLoginFlow(c.Transport, c.Profiles, onLogin)
}

// NewAccountPanel builds the registration info panel. Call Start on it to
// connect it to the profile cache, and Close when done.
func (c *Client) NewAccountPanel() *services.AccountPanel {
	return services.NewAccountPanel(c.Transport, c.Profiles)
}

// NewHealthWatcher builds the node health poller.
func (c *Client) NewHealthWatcher() *services.HealthWatcher {
	return services.NewHealthWatcher(c.Transport)
}

// NewEndpointForm builds the dynamic form for one discovered endpoint.
func (c *Client) NewEndpointForm(endpointName string) *services.EndpointForm {
	return services.NewEndpointForm(c.Transport, c.Nav, endpointName)
}

// RefreshProfile fetches /user/self/info into the profile cache.
func (c *Client) RefreshProfile(ctx context.Context) error {
	return c.Profiles.Refresh(ctx, c.Transport)
}

// Logout posts the logout request and resets the profile cache.
func (c *Client) Logout(ctx context.Context) error {
	return services.Logout(ctx, c.Transport, c.Profiles)
}
