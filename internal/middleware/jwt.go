package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/duobank/duobank/internal/auth"
	"github.com/duobank/duobank/internal/config"
	"github.com/duobank/duobank/internal/identity"
)

// JWTAuth validates bearer access tokens and resolves the subject to an
// existing user before letting the request through.
func JWTAuth(cfg config.Config, repo identity.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := auth.ParseAndVerifyHS256(tokenStr, []byte(cfg.JWTSecret))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if exp, ok := claims["exp"].(float64); !ok || time.Now().Unix() >= int64(exp) {
			return fiber.NewError(http.StatusUnauthorized, "token expired")
		}
		sub, _ := claims["sub"].(string)

		user, err := repo.FindByID(c.UserContext(), sub)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "unknown subject")
		}

		c.Locals("user_id", user.ID)
		c.Locals("user_email", user.Email)
		return c.Next()
	}
}
