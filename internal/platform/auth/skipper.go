package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
