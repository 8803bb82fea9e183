// Package auth resolves the acting user from a bearer token. Role and
// access decisions are made upstream; handlers only need who is acting.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserNameKey  contextKey = "user_name"
	UserRolesKey contextKey = "user_roles"
)

// Dev-mode identity headers.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
)

type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey is used for development/testing only
	SigningKey []byte
	Skipper    func(c echo.Context) bool
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwksURL := cfg.JWKSURL
	if jwksURL == "" && cfg.Issuer != "" && len(cfg.SigningKey) == 0 {
		if discovered, err := DiscoverJWKSURL(cfg.Issuer); err == nil {
			jwksURL = discovered
		}
	}
	var cache *JWKSCache
	if len(cfg.SigningKey) == 0 {
		cache = NewJWKSCache(jwksURL, defaultJWKSCacheTTL)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			var (
				token *jwt.Token
				err   error
			)
			if cache == nil {
				token, err = jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
					return cfg.SigningKey, nil
				}, opts...)
			} else {
				token, err = jwt.ParseWithClaims(parts[1], claims, cache.keyFunc, opts...)
			}
			if err != nil || !token.Valid || claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			name := claims.Name
			if name == "" {
				name = claims.Subject
			}
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), claims.Subject, name, claims.Roles)))
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts the X-User-ID and X-User-Name headers and falls
// back to a fixed development user.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(HeaderUserID)
			name := c.Request().Header.Get(HeaderUserName)
			if id == "" {
				id, name = "dev-user", "Dev User"
			}
			if name == "" {
				name = id
			}
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), id, name, []string{"admin"})))
			return next(c)
		}
	}
}

// WithUser stores the acting user on ctx.
func WithUser(ctx context.Context, id, name string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id)
	ctx = context.WithValue(ctx, UserNameKey, name)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func UserNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(UserNameKey).(string)
	return name
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// Actor is the user a handler acts on behalf of.
type Actor struct {
	ID   string
	Name string
}

// ActorFrom returns the authenticated user or a 401.
func ActorFrom(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	a := Actor{ID: UserIDFromContext(ctx), Name: UserNameFromContext(ctx)}
	if a.ID == "" {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	return a, nil
}
