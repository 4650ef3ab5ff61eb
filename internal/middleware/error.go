package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ErrorHandler logs errors attached to the request. Handlers have already
// written the response.
func ErrorHandler(log *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, e := range c.Errors {
			log.Error().
				Err(e.Err).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("Request error")
		}
	}
}
