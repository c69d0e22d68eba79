package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/danmuck/pructl/internal/remoteproc"
	"github.com/danmuck/pructl/internal/responder"
	"github.com/danmuck/pructl/internal/rpmsg"
	"github.com/danmuck/pructl/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List notification and raw rpmsg endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l := a.locator()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CORE\tSHAPE\tPRESENT\tPATH")
			for i, known := range rpmsg.KnownNotificationPaths() {
				present, path := "no", known
				if ep, err := l.ResolveIndex(i); err == nil {
					present, path = "yes", ep.Path
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, rpmsg.LineNotification, present, path)
			}
			names, err := l.ListRawEndpoints()
			if err != nil {
				return err
			}
			for _, name := range names {
				ep := l.RawEndpoint(name)
				fmt.Fprintf(w, "-\t%s\tyes\t%s\n", ep.Shape, ep.Path)
			}
			return w.Flush()
		},
	}
}

// endpointFlags binds the endpoint selection flags shared by listen and send.
func endpointFlags(cmd *cobra.Command, a *app) {
	f := cmd.Flags()
	f.StringVarP(&a.cfg.Endpoint, "endpoint", "e", a.cfg.Endpoint, "explicit endpoint path")
	f.IntVar(&a.cfg.Core, "core", a.cfg.Core, "well-known core index (-1 resolves the first endpoint)")
	f.BoolVar(&a.cfg.WaitForEndpoint, "wait", a.cfg.WaitForEndpoint, "wait for a raw endpoint to appear")
	f.BoolVar(&a.cfg.Async, "async", a.cfg.Async, "use the event-driven channel")
}

func (a *app) resolve(ctx context.Context) (rpmsg.Endpoint, error) {
	l := a.locator()
	switch {
	case a.cfg.Endpoint != "":
		return classify(l, a.cfg.Endpoint)
	case a.cfg.Core >= 0:
		return l.ResolveIndex(a.cfg.Core)
	case a.cfg.WaitForEndpoint:
		log.Info().Str("dir", l.DeviceDir()).Msg("pructl waiting for rpmsg endpoint")
		return l.AwaitRawEndpoint(ctx)
	default:
		return l.ResolveFirst()
	}
}

func (a *app) openSource(ep rpmsg.Endpoint) (responder.Source, error) {
	if a.cfg.Async {
		ch, err := rpmsg.OpenAsync(ep)
		if err != nil {
			return nil, err
		}
		return responder.Async(ch), nil
	}
	ch, err := rpmsg.OpenEndpoint(ep)
	if err != nil {
		return nil, err
	}
	return responder.Blocking(ch), nil
}

// prepareRemoteproc loads firmware and boots the configured processor.
func (a *app) prepareRemoteproc(ctx context.Context) error {
	if a.cfg.Remoteproc == "" {
		return nil
	}
	p, err := a.procs().Open(a.cfg.Remoteproc)
	if err != nil {
		return err
	}
	if a.cfg.Firmware != "" {
		if err := p.SetFirmware(a.cfg.Firmware); err != nil {
			return err
		}
	}
	if !a.cfg.StartRemoteproc {
		return nil
	}
	state, err := p.State()
	if err != nil {
		return err
	}
	if state.Up() {
		return nil
	}
	if err := p.Start(); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.StateWaitTimeout)
	defer cancel()
	_, err = p.WaitState(waitCtx, remoteproc.StateRunning, 0)
	return err
}

func newListenCmd(a *app) *cobra.Command {
	var serveAddr string
	cmd := &cobra.Command{
		Use:     "listen",
		Aliases: []string{"echo"},
		Short:   "Print incoming messages and acknowledge them",
		Long: `listen reads messages from one endpoint, prints them as text (or hex
when they are not UTF-8) and answers each one with the ack payload on
endpoints that accept writes.

Examples:
  pructl listen
  pructl listen --endpoint /dev/rpmsg_pru30 --ack ACK --timeout 2s
  pructl listen --core 0 --async --serve :9200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.prepareRemoteproc(ctx); err != nil {
				return err
			}
			opts := responder.Options{
				Timeout:     a.cfg.ReadTimeout,
				Ack:         []byte(a.cfg.Ack),
				Display:     a.cfg.Display,
				MaxMessages: a.cfg.MaxMessages,
				Out:         cmd.OutOrStdout(),
			}
			open := func(ctx context.Context) (responder.Source, error) {
				ep, err := a.resolve(ctx)
				if err != nil {
					return nil, err
				}
				return a.openSource(ep)
			}

			var (
				run    func(context.Context) error
				status server.StatusSource
			)
			if a.cfg.Reconnect {
				sup := &responder.Supervisor{Open: open, Options: opts, Backoff: responder.DefaultBackoff()}
				run, status = sup.Run, sup
			} else {
				src, err := open(ctx)
				if err != nil {
					return err
				}
				defer src.Close()
				resp := responder.New(src, opts)
				run, status = resp.Run, resp
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return run(gctx) })
			if serveAddr != "" {
				srv := a.newServer(serveAddr, status)
				g.Go(func() error { return srv.Serve(gctx) })
			}
			return g.Wait()
		},
	}
	endpointFlags(cmd, a)
	f := cmd.Flags()
	f.DurationVarP(&a.cfg.ReadTimeout, "timeout", "t", a.cfg.ReadTimeout, "per-message wait (negative waits forever)")
	f.StringVar(&a.cfg.Ack, "ack", a.cfg.Ack, "payload sent after each message (empty disables)")
	f.StringVar(&a.cfg.Display, "display", a.cfg.Display, "auto, text or hex")
	f.IntVarP(&a.cfg.MaxMessages, "count", "n", a.cfg.MaxMessages, "stop after n messages (0 runs until interrupted)")
	f.BoolVar(&a.cfg.Reconnect, "reconnect", a.cfg.Reconnect, "reopen the endpoint with backoff when it fails")
	f.StringVar(&serveAddr, "serve", "", "also serve the HTTP status API on this address until interrupted")
	return cmd
}

func newSendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <payload>",
		Short: "Write one message to a raw endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := a.resolve(cmd.Context())
			if err != nil {
				return err
			}
			ch, err := rpmsg.OpenEndpoint(ep)
			if err != nil {
				return err
			}
			defer ch.Close()
			n, err := ch.Send([]byte(args[0]))
			if err != nil {
				if errors.Is(err, rpmsg.ErrUnsupported) {
					return fmt.Errorf("%s is a %s endpoint: %w", ep.Path, ep.Shape, err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", n, ep.Path)
			return nil
		},
	}
	endpointFlags(cmd, a)
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Wait until a raw rpmsg endpoint exists and print its path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			ep, err := a.locator().AwaitRawEndpoint(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ep.Path)
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "give up after this long (0 waits forever)")
	return cmd
}
