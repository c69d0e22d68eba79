package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/danmuck/pructl/internal/observability"
	"github.com/danmuck/pructl/internal/remoteproc"
	"github.com/spf13/cobra"
)

func newRprocCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rproc",
		Aliases: []string{"remoteproc"},
		Short:   "Inspect and drive remote processors",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List remote processors with their state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				names, err := a.procs().List()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSTATE\tFIRMWARE")
				for _, name := range names {
					state, fw := "?", "?"
					if p, err := a.procs().Open(name); err == nil {
						if s, err := p.State(); err == nil {
							state = string(s)
						}
						if f, err := p.Firmware(); err == nil {
							fw = f
						}
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", name, state, fw)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "state <name>",
			Short: "Print the processor state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.procs().Open(args[0])
				if err != nil {
					return err
				}
				s, err := p.State()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			},
		},
		&cobra.Command{
			Use:   "firmware <name> [file]",
			Short: "Print or select the firmware file",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.procs().Open(args[0])
				if err != nil {
					return err
				}
				if len(args) == 2 {
					err := p.SetFirmware(args[1])
					observability.RecordRemoteprocAction(p.Name(), "firmware", err == nil)
					return err
				}
				fw, err := p.Firmware()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), fw)
				return nil
			},
		},
		newLifecycleCmd(a, "start", "Boot the processor", (*remoteproc.Proc).Start, remoteproc.StateRunning),
		newLifecycleCmd(a, "stop", "Halt the processor", (*remoteproc.Proc).Stop, remoteproc.StateOffline),
		newLifecycleCmd(a, "detach", "Release an attached processor", (*remoteproc.Proc).Detach, remoteproc.StateDetached),
	)
	return cmd
}

func newLifecycleCmd(a *app, action, short string, do func(*remoteproc.Proc) error, want remoteproc.State) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   action + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.procs().Open(args[0])
			if err != nil {
				return err
			}
			err = do(p)
			observability.RecordRemoteprocAction(p.Name(), action, err == nil)
			if err != nil {
				return err
			}
			if !wait {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.StateWaitTimeout)
			defer cancel()
			s, err := p.WaitState(ctx, want, 50*time.Millisecond)
			if err != nil {
				return fmt.Errorf("%s %s: last state %q: %w", action, p.Name(), s, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the resulting state")
	return cmd
}
