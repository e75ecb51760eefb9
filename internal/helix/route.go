package helix

import (
	"fmt"
	"strings"
)

// Route is an HTTP method paired with an absolute URL. It is a value type
// and is never modified after construction.
type Route struct {
	Method string
	URL    string
}

// NewRoute joins base and path into a Route. A single slash separates them
// regardless of how either side is written.
func NewRoute(method, base, path string) Route {
	return Route{
		Method: method,
		URL:    strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/"),
	}
}

// AbsoluteRoute builds a Route for a URL outside the Helix API, such as the
// identity provider.
func AbsoluteRoute(method, url string) Route {
	return Route{Method: method, URL: url}
}

func (r Route) String() string {
	return fmt.Sprintf("%s %s", r.Method, r.URL)
}
