package web

import (
	"time"

	"github.com/gin-gonic/gin"

	stderrors "geneva-listings/internal/common/errors"
)

// requestLogger logs one structured line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"clientIp": c.ClientIP(),
		}
		if c.Writer.Status() >= 500 {
			s.logger.Error("request failed", fields)
		} else {
			s.logger.Info("request", fields)
		}
	}
}

// abortWithError maps the error taxonomy onto HTTP statuses and a
// uniform JSON error body.
func (s *Server) abortWithError(c *gin.Context, err error) {
	code := stderrors.CodeOf(err)
	status := stderrors.HTTPStatus(code)

	body := gin.H{"error": gin.H{"code": string(code), "message": err.Error()}}
	c.AbortWithStatusJSON(status, body)
}
