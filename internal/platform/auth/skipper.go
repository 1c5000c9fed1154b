package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that bypass the launch session: infrastructure
// endpoints and the session hand-off itself.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
	"/session": true,
}

// AuthSkipper returns true for requests whose route should skip the session
// check.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path bypasses the session check.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
