package server

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const defaultRequestBurst = 20

// newRequestLimiter 构建全局令牌桶；rps <= 0 时返回 nil 表示不限流。
func newRequestLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = defaultRequestBurst
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// rateLimitMiddleware 对媒体请求做全局限流，诊断接口不受影响。
func rateLimitMiddleware(limiter *rate.Limiter, logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		reservation := limiter.Reserve()
		if !reservation.OK() {
			return rejectRateLimited(c, logger, 1)
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			return rejectRateLimited(c, logger, int(math.Ceil(delay.Seconds())))
		}
		return c.Next()
	}
}

func rejectRateLimited(c fiber.Ctx, logger *logrus.Logger, retryAfter int) error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	logger.WithFields(logrus.Fields{
		"action":      "rate_limit",
		"request_id":  RequestID(c),
		"path":        string(c.Request().URI().Path()),
		"retry_after": retryAfter,
	}).Warn("request_rate_limited")

	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": "rate_limited",
	})
}
