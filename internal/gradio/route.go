package gradio

import (
	"strconv"
	"strings"
)

// Route identifies a callable function of a Gradio app, either by its API
// name ("/predict") or by its positional fn_index.
type Route struct {
	name  string
	index int
}

// Named returns a route addressed by API name. A leading slash is optional.
func Named(name string) Route {
	return Route{name: strings.TrimPrefix(strings.TrimSpace(name), "/"), index: -1}
}

// Index returns a route addressed by position.
func Index(i int) Route {
	return Route{index: i}
}

// IsNamed reports whether the route is addressed by name.
func (r Route) IsNamed() bool { return r.name != "" }

// Name returns the API name without the leading slash.
func (r Route) Name() string { return r.name }

// Position returns the fn_index of a positional route.
func (r Route) Position() int { return r.index }

func (r Route) String() string {
	if r.IsNamed() {
		return "/" + r.name
	}
	return strconv.Itoa(r.index)
}
