package main

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"contractflow/logger"
	"contractflow/operator"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	operatorKey     = "operator"
)

// withRequestID reuses an inbound X-Request-ID or mints one.
func withRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set(requestIDKey, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"status", status,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(c),
		}
		if op := c.GetString(operatorKey); op != "" {
			fields = append(fields, "operator", op)
		}
		switch {
		case status >= 500:
			log.Error("request completed", fields...)
		case status >= 400:
			log.Warn("request completed", fields...)
		default:
			log.Info("request completed", fields...)
		}
	}
}

func recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic recovered",
					"error", rec,
					"request_id", requestID(c),
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
					Error: errorBody{Code: "internal", Message: "internal server error"},
				})
			}
		}()
		c.Next()
	}
}

// tokenVerifier is satisfied by *operator.Tokens.
type tokenVerifier interface {
	Verify(token string) (string, error)
}

// requireOperator resolves the bearer token into the acting operator name.
func (s *Server) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := operator.FromHeader(c.GetHeader("Authorization"))
		if err != nil {
			s.fail(c, err)
			return
		}
		name, err := s.tokens.Verify(token)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(operatorKey, name)
		c.Next()
	}
}

func actor(c *gin.Context) string {
	return c.GetString(operatorKey)
}
