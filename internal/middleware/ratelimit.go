package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "privchan:rl:"

// incrWindow starts the expiry together with the first hit so a counter
// never outlives its window.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// rateLimitKey buckets requests by the authenticated client when there is
// one, so callers behind a shared proxy do not starve each other. Requests
// without a client id fall back to the remote IP.
func rateLimitKey(c *fiber.Ctx) string {
	subject := "ip:" + c.IP()
	if id := GetClientID(c); id != "" {
		subject = "client:" + id
	}
	return rateLimitPrefix + subject + ":" + c.Method() + ":" + c.Path()
}

// RateLimitMiddleware is a fixed-window counter. It must run after
// AuthMiddleware to see the client id. Redis errors let the request through.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rateLimitKey(c)
		ctx := c.UserContext()

		count, err := incrWindow.Run(ctx, rdb, []string{key}, window.Milliseconds()).Int64()
		if err != nil {
			return c.Next()
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > int64(limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
