package main

import (
	"fmt"
	"strconv"

	"github.com/danmuck/pructl/internal/mmio"
	"github.com/spf13/cobra"
)

type memRegion struct {
	base uint64
	size uint64
}

var memRegions = map[string]memRegion{
	"pruss": {mmio.PRUSSBase, mmio.PRUSSSize},
	"pru0":  {mmio.PRU0DRAMBase, mmio.PRU0DRAMSize},
	"pru1":  {mmio.PRU1DRAMBase, mmio.PRU1DRAMSize},
}

type memFlags struct {
	device string
	region string
	base   uint64
	size   uint64
}

func (f *memFlags) open() (*mmio.Window, error) {
	r, ok := memRegions[f.region]
	if !ok {
		return nil, fmt.Errorf("unknown region %q (want pruss, pru0 or pru1)", f.region)
	}
	if f.base != 0 {
		r.base = f.base
	}
	if f.size != 0 {
		r.size = f.size
	}
	return mmio.MapFile(f.device, r.base, r.size)
}

func parseUint(raw string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(raw, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	return v, nil
}

func newMemCmd(a *app) *cobra.Command {
	f := &memFlags{}
	cmd := &cobra.Command{
		Use:   "mem",
		Short: "Read and write 32-bit words in PRU memory",
		Long: `mem maps a PRU-ICSS window from /dev/mem. Offsets are relative to the
region base and must be 4-byte aligned.

Examples:
  pructl mem read 0x0 --region pru0
  pructl mem write 0x10 0xdeadbeef --region pru1`,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.device, "device", mmio.DevMem, "memory device or file to map")
	pf.StringVar(&f.region, "region", "pru0", "pruss, pru0 or pru1")
	pf.Uint64Var(&f.base, "base", 0, "override the region base address")
	pf.Uint64Var(&f.size, "size", 0, "override the region size")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "read <offset>",
			Short: "Read one word",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				off, err := parseUint(args[0], 64)
				if err != nil {
					return err
				}
				w, err := f.open()
				if err != nil {
					return err
				}
				defer w.Close()
				v, err := w.ReadU32(off)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "0x%08x: 0x%08x\n", w.Base()+off, v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "write <offset> <value>",
			Short: "Write one word",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				off, err := parseUint(args[0], 64)
				if err != nil {
					return err
				}
				v, err := parseUint(args[1], 32)
				if err != nil {
					return err
				}
				w, err := f.open()
				if err != nil {
					return err
				}
				if err := w.WriteU32(off, uint32(v)); err != nil {
					_ = w.Close()
					return err
				}
				return w.Close()
			},
		},
	)
	return cmd
}
