package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// CORS returns an Echo middleware permitting cross-origin reads from allowOrigins.
// With a "*" entry every response carries Access-Control-Allow-Origin: *,
// including requests that send no Origin header.
func CORS(allowOrigins []string) echo.MiddlewareFunc {
	cors := echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	})
	wildcard := slices.Contains(allowOrigins, "*")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withCORS := cors(next)
		return func(c echo.Context) error {
			// echo's CORS middleware skips requests without an Origin header.
			if wildcard && c.Request().Header.Get(echo.HeaderOrigin) == "" {
				c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
			}
			return withCORS(c)
		}
	}
}
