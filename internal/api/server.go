// Package api exposes the routing core over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/materialize"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/series"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/stops"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB          *gorm.DB
	Stops       *stops.Service
	Series      *series.Service
	Materialize *materialize.Service
	Log         *logger.Logger
	Port        int
	Out         io.Writer
}

// NewRouter returns the gin engine serving every endpoint.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("api: db is required")
	}
	if opts.Stops == nil || opts.Series == nil || opts.Materialize == nil {
		return nil, fmt.Errorf("api: services are required")
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &opts)
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// writeError answers with the status matching err's kind. Errors outside the
// domain taxonomy are logged and hidden behind a generic message.
func writeError(c *gin.Context, log *logger.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperr.KindOf(err)})
}
