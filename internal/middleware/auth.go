package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"wainbox/server/internal/auth"
)

const sessionKey = "session"

// Auth validates the operator's access token. The token is read from the
// "token" cookie, a bearer Authorization header, or the access_token query
// parameter (browsers cannot set headers on websocket upgrades).
func Auth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := tokenFrom(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - No token provided",
			})
		}

		session, err := auth.ValidateToken(secret, tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Invalid token",
			})
		}

		c.Locals(sessionKey, session)
		return c.Next()
	}
}

func tokenFrom(c *fiber.Ctx) string {
	if tok := c.Cookies("token"); tok != "" {
		return tok
	}
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("access_token")
}

// GetSession gets the operator session from context
func GetSession(c *fiber.Ctx) *auth.Session {
	s, ok := c.Locals(sessionKey).(*auth.Session)
	if !ok {
		return nil
	}
	return s
}

// GetUserID gets the operator's user ID from context
func GetUserID(c *fiber.Ctx) string {
	if s := GetSession(c); s != nil {
		return s.UserID
	}
	return ""
}
