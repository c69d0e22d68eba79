package main

import (
	"github.com/danmuck/pructl/internal/auth"
	"github.com/danmuck/pructl/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP status and lifecycle API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.newServer(a.cfg.Addr, nil).Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.cfg.Addr, "addr", a.cfg.Addr, "listen address")
	return cmd
}

func (a *app) newServer(addr string, status server.StatusSource) *server.Server {
	opts := server.Options{
		Name:        a.cfg.Name,
		Version:     version,
		Addr:        addr,
		CorsOrigins: a.cfg.CorsOrigins,
		Locator:     a.locator(),
		Procs:       a.procs(),
		Responder:   status,
	}
	if a.cfg.ControlToken != "" {
		opts.Auth = auth.StaticToken{Token: a.cfg.ControlToken}
	}
	return server.New(opts)
}
