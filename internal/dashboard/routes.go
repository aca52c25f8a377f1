package dashboard

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all status routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())
	router.GET("/api/status", handleStatus(opts.Status))
	router.GET("/api/events", handleSSE(opts.Status, defaultSSEInterval))

	if opts.History != nil {
		router.GET("/api/sessions/:id/history", handleHistory(opts.History))
	}
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleStatus(status StatusFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, status().withUptime())
	}
}

func handleHistory(h HistoryReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultHistoryLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}

		view, err := SessionHistory(c.Request.Context(), h, c.Param("id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}
