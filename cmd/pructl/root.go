package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/pructl/internal/config"
	"github.com/danmuck/pructl/internal/logging"
	"github.com/danmuck/pructl/internal/observability"
	"github.com/danmuck/pructl/internal/remoteproc"
	"github.com/danmuck/pructl/internal/rpmsg"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "0.1.0"

// app carries the resolved configuration into subcommands.
type app struct {
	configPath string
	root       string
	logLevel   string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.DefaultConfig()}
	cmd := &cobra.Command{
		Use:   "pructl",
		Short: "Talk to PRU coprocessors over rpmsg",
		Long: `pructl discovers rpmsg endpoints, exchanges messages with PRU
firmware, drives the remoteproc lifecycle and inspects PRU memory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&a.root, "root", "", "filesystem root prefixed to /dev and /sys lookups")
	flags.StringVar(&a.logLevel, "log-level", "", "trace, debug, info, warn, error or off")

	cmd.AddCommand(
		newListCmd(a),
		newListenCmd(a),
		newSendCmd(a),
		newWatchCmd(a),
		newRprocCmd(a),
		newMemCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return cmd
}

// load applies the config file, then any flags given on the command line.
// Subcommand flags are bound to a.cfg, so they are replayed after the file
// replaces it.
func (a *app) load(cmd *cobra.Command) error {
	if a.configPath != "" {
		changed := map[string]string{}
		cmd.Flags().Visit(func(f *pflag.Flag) {
			changed[f.Name] = f.Value.String()
		})
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
		for name, value := range changed {
			if err := cmd.Flags().Set(name, value); err != nil {
				return fmt.Errorf("flag --%s: %w", name, err)
			}
		}
	}
	if cmd.Flags().Changed("root") {
		a.cfg.Root = a.root
	}
	if cmd.Flags().Changed("log-level") {
		a.cfg.LogLevel = a.logLevel
	}
	if a.cfg.LogLevel != "" && !logging.SetLevel(a.cfg.LogLevel) {
		return fmt.Errorf("unknown log level %q", a.cfg.LogLevel)
	}
	if err := config.Validate(a.cfg); err != nil {
		return err
	}
	observability.InitLogger("pructl")
	return nil
}

func (a *app) locator() rpmsg.Locator {
	return rpmsg.Locator{Root: a.cfg.Root}
}

func (a *app) procs() remoteproc.Controller {
	return remoteproc.Controller{Root: a.cfg.Root}
}

// classify treats rpmsg* device names as raw endpoints and anything else as
// a uevent stream.
func classify(l rpmsg.Locator, path string) (rpmsg.Endpoint, error) {
	if !strings.HasPrefix(filepath.Base(path), rpmsg.RawDevicePrefix) {
		return l.ResolvePath(path)
	}
	if _, err := os.Stat(path); err != nil {
		return rpmsg.Endpoint{}, fmt.Errorf("%w: %s", rpmsg.ErrNotFound, path)
	}
	return rpmsg.Endpoint{Path: path, Shape: rpmsg.RawByteStream}, nil
}
