package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
}

// CORS builds the gin-contrib handler. A "*" origin allows any origin
// without credentials.
func CORS(config CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:     config.AllowMethods,
		AllowHeaders:     config.AllowHeaders,
		ExposeHeaders:    []string{"Content-Length", HeaderXRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range config.AllowOrigins {
		if o == "*" {
			c.AllowAllOrigins = true
			c.AllowCredentials = false
			break
		}
	}
	if !c.AllowAllOrigins {
		c.AllowOrigins = config.AllowOrigins
	}
	return cors.New(c)
}
