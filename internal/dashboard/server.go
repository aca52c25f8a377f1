// Package dashboard serves the bot's operational status over HTTP: a
// health probe, a JSON status snapshot, a server-sent event feed of the
// same snapshot, read-only session history and Prometheus metrics.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Status  StatusFunc
	History HistoryReader // optional; history routes return 404 without it
	Metrics http.Handler  // optional; /metrics returns 404 without it
	Port    int
	Out     io.Writer
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Status == nil {
		return fmt.Errorf("dashboard: status source is required")
	}
	if opts.Port <= 0 {
		opts.Port = 9090
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(opts)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status server running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func newRouter(opts StartOpts) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
