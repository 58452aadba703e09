package core

import (
	"net/url"
	"strings"
)

// NavBuilder parses the address the page was loaded from and builds relative
// URLs for links, carrying the persisted siteId argument across navigations.
type NavBuilder struct {
	pathname string
	query    string
	args     map[string]string
}

// NewNavBuilder parses a path and raw query ("a=b&c=d", with or without the
// leading '?'). Pairs with an empty key or value are dropped.
func NewNavBuilder(path, query string) *NavBuilder {
	b := &NavBuilder{pathname: path, args: map[string]string{}}
	q := strings.TrimPrefix(query, "?")
	if q != "" {
		values, err := url.ParseQuery(q)
		if err == nil {
			for key, vals := range values {
				if key == "" || len(vals) == 0 || vals[0] == "" {
					continue
				}
				b.args[key] = vals[0]
			}
		}
	}
	b.query = q
	return b
}

// NewNavBuilderFromAddress splits "path?query" and parses it.
func NewNavBuilderFromAddress(address string) *NavBuilder {
	path, query, _ := strings.Cut(address, "?")
	return NewNavBuilder(path, query)
}

// SetArg overrides one of the parsed page arguments, such as seeding the
// siteId from configuration.
func (b *NavBuilder) SetArg(key, value string) {
	if key == "" || value == "" {
		return
	}
	b.args[key] = value
}

// Arg returns a parsed page argument, or "".
func (b *NavBuilder) Arg(key string) string {
	return b.args[key]
}

// Pathname returns the parsed page path.
func (b *NavBuilder) Pathname() string {
	return b.pathname
}

// NavURL builds a relative URL that carries over the siteId argument. Extra
// query arguments can be supplied; they win over the carried siteId.
func (b *NavBuilder) NavURL(relativePath string, args map[string]string) string {
	usp := url.Values{}
	if siteID := b.args["siteId"]; siteID != "" {
		// Carry over siteId.
		usp.Set("siteId", siteID)
	}
	for key, val := range args {
		usp.Set(key, val)
	}
	query := usp.Encode()
	if query == "" {
		return relativePath
	}
	sepChar := "?"
	if strings.Contains(relativePath, "?") {
		sepChar = "&"
	}
	return relativePath + sepChar + query
}
