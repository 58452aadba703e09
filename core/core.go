package core

import (
	"context"
	"net/http"
	"time"
)

// Config carries everything needed to build a portal client.
type Config struct {
	// BaseURL is the root of the portal backend, e.g. "https://dynamicruntime.org".
	BaseURL string

	// SiteID, when set, is carried as a query argument across every
	// navigation URL the client builds.
	SiteID string

	// Optional config
	HTTPClient *http.Client
	Timeout    time.Duration

	// PageAddress is the path and query of the page the client was loaded
	// from, used to seed the navigation builder ("/portal?siteId=s1").
	PageAddress string
}

// Transport is the port services use to talk to the backend. The concrete
// implementation lives in the transport package; tests substitute fakes.
type Transport interface {
	// Do issues a credentialed JSON request and decodes the response
	// envelope. Application-level failure codes are returned as data,
	// never as an error.
	Do(ctx context.Context, method, endpoint string, payload any) (*Response, error)

	// Get is shorthand for Do with method GET and no payload.
	Get(ctx context.Context, endpoint string) (*Response, error)

	// DoText issues the same request but returns the raw response text
	// without envelope interpretation.
	DoText(ctx context.Context, method, endpoint string, payload any) (string, error)
}
