package api

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

const requestIDHeader = "X-Request-ID"

// requestContext tags the request with an id and logs its outcome.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), id))
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()

		level := s.logger.Debug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = s.logger.Warn
		}
		level("api request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)),
			logging.String("client_ip", c.ClientIP()),
			logging.String(logging.FieldCorrelationID, id),
		)
	}
}

// authenticate requires the configured bearer token. An empty token disables
// the check.
func (s *Server) authenticate() gin.HandlerFunc {
	want := []byte(s.opts.Token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := []byte(bearerToken(c.GetHeader("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "missing or invalid bearer token",
				Code:  "unauthorized",
			})
			return
		}
		c.Next()
	}
}

// rateLimit admits requests per client IP through the shared limiter.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Limiter == nil {
			c.Next()
			return
		}
		decision, err := s.opts.Limiter.Allow(c.Request.Context(), "api:"+c.ClientIP())
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:             "rate limit exceeded",
				Code:              "rate_limited",
				Kind:              "rate_limited",
				RetryAfterSeconds: seconds,
			})
			return
		}
		c.Next()
	}
}
