package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/acita-gmbh/eaf-sub013/tenant"
)

type principalKey struct{}

// WithPrincipal binds the validated principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the principal attached by the ingress filter.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// UserIDFromContext returns the authenticated user id, or "" when no
// principal is bound. Used by the correlation provider when stamping event
// metadata.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID
	}
	return ""
}

// Middleware is the ingress filter: it extracts the bearer token, runs the
// full validation pipeline, pushes the principal's tenant onto the context
// stack and attaches the principal for downstream handlers. The pop is
// unconditional; panics are left to the recover middleware, which unwinds
// through this function first.
//
// Every validation failure answers with the same generic denial; the
// specific variant goes to logs and metrics only.
func Middleware(v *TokenValidator, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return denied(c)
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			principal, err := v.Validate(c.Request().Context(), tokenString)
			if err != nil {
				// Already logged and metered per layer by the validator.
				return denied(c)
			}

			ctx, err := tenant.Push(c.Request().Context(), principal.TenantID)
			if err != nil {
				logger.Error("tenant push failed after validation", zap.Error(err))
				return denied(c)
			}
			ctx = WithPrincipal(ctx, principal)
			c.SetRequest(c.Request().WithContext(ctx))

			handlerErr := next(c)

			// An unbalanced push inside the handler is only visible on the
			// context the handler left on the request; popping our own frame
			// off it leaves exactly the residue.
			popped := tenant.Pop(c.Request().Context())
			if depth := tenant.CheckLeak(popped); depth != 0 {
				logger.Error("tenant context leak after request",
					zap.Int("depth", depth),
					zap.String("path", c.Path()),
				)
			}
			return handlerErr
		}
	}
}

func denied(c echo.Context) error {
	return c.JSON(http.StatusForbidden, map[string]string{"error": PublicDenialMessage})
}
