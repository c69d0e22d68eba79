// Package server exposes endpoint discovery, remote processor lifecycle and
// responder status over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/pructl/internal/auth"
	"github.com/danmuck/pructl/internal/observability"
	"github.com/danmuck/pructl/internal/remoteproc"
	"github.com/danmuck/pructl/internal/responder"
	"github.com/danmuck/pructl/internal/rpmsg"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// StatusSource reports a running responder loop.
type StatusSource interface {
	Status() responder.Status
}

type Options struct {
	Name        string
	Version     string
	Addr        string
	CorsOrigins []string
	Locator     rpmsg.Locator
	Procs       remoteproc.Controller
	Responder   StatusSource
	// Auth guards lifecycle writes. Without it the write routes are not
	// registered.
	Auth auth.Validator
}

type Server struct {
	Name     string
	Version  string
	Addr     string
	Appeared time.Time

	locator   rpmsg.Locator
	procs     remoteproc.Controller
	responder StatusSource
	auth      auth.Validator
	router    *gin.Engine
}

func New(opts Options) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/health", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(opts.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:      opts.Name,
		Version:   opts.Version,
		Addr:      opts.Addr,
		Appeared:  time.Now(),
		locator:   opts.Locator,
		procs:     opts.Procs,
		responder: opts.Responder,
		auth:      opts.Auth,
		router:    r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on Addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Str("name", s.Name).Msg("server.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
