package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimiter creates a rate limiting middleware
func RateLimiter(max int, expiration time.Duration) fiber.Handler {
	return limiter.New(config(max, expiration))
}

func config(max int, expiration time.Duration) limiter.Config {
	return limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Use operator ID if authenticated, otherwise use IP
			if userID := GetUserID(c); userID != "" {
				return userID
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests, please try again later",
			})
		},
	}
}

// SendRateLimiter for outbound messages
func SendRateLimiter() fiber.Handler {
	return RateLimiter(60, 1*time.Minute) // 60 sends per minute
}

// RelaxedRateLimiter for read-only endpoints
func RelaxedRateLimiter() fiber.Handler {
	return RateLimiter(100, 1*time.Minute) // 100 requests per minute
}

// MediaRateLimiter for sends carrying a file. Requests without a fileType
// form value pass through.
func MediaRateLimiter() fiber.Handler {
	cfg := config(10, 1*time.Minute) // 10 files per minute
	cfg.Next = func(c *fiber.Ctx) bool {
		return c.FormValue("fileType") == ""
	}
	return limiter.New(cfg)
}
