package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const defaultUserID = "default"

// authMiddleware validates the bearer token and scopes the request to the
// user named in its subject claim. Without a configured secret the server
// runs open and every request maps to the default user.
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Self-hosted mode without a secret runs open.
		if s.config.Security.JWTSecret == "" {
			c.Locals("user_id", defaultUserID)
			return c.Next()
		}

		tokenString := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			// WebSocket clients cannot set headers on the upgrade request.
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization token"})
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.config.Security.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		user := defaultUserID
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				user = sub
			}
		}
		c.Locals("user_id", user)

		return c.Next()
	}
}

// requestUser returns the user the request is authenticated as.
func requestUser(c *fiber.Ctx) string {
	if v, ok := c.Locals("user_id").(string); ok && v != "" {
		return v
	}
	return defaultUserID
}
