package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// PollPaths are the status routes dashboards hit on a timer. Successful GETs
// on them log at debug so a watched device does not flood the console.
var PollPaths = []string{"/health", "/ready", "/metrics", "/session", "/indicators"}

// RequestLogger logs one line per request tagged with the node id.
func RequestLogger(logger zerolog.Logger, node string, pollPaths ...string) gin.HandlerFunc {
	if len(pollPaths) == 0 {
		pollPaths = PollPaths
	}
	quiet := make(map[string]struct{}, len(pollPaths))
	for _, p := range pollPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := routePath(c)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Info()
			if _, ok := quiet[path]; ok && c.Request.Method == http.MethodGet {
				event = logger.Debug()
			}
		}

		event.
			Str("node", node).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(node, c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

// routePath prefers the matched route so unmatched paths do not explode
// metric cardinality.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
