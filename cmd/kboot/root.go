// SPDX-License-Identifier: Unlicense OR MIT

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"eliasnaur.com/kmem/kernel"
	"eliasnaur.com/kmem/pc"
)

var (
	// Global flags
	verbose bool
	jsonOut bool

	log *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "kboot",
	Short: "Boot the kernel on a simulated PC",
	Long: `kboot runs the kernel bring-up sequence (video, GDT, kernel memory,
IDT, PIC remap, interrupt enable) on a simulated PC and reports the
console output and kernel heap state.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(verbose)
		if err != nil {
			return err
		}
		log = l.Sugar()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// bootMachine creates a PC with enough memory for the kernel and
// runs bring-up on it. The kernel console output is logged.
func bootMachine() (*pc.Machine, *kernel.Kernel, error) {
	m, err := pc.New(kernel.MemorySize)
	if err != nil {
		return nil, nil, err
	}
	k := kernel.NewKernel(m, m.Memory())
	up := k.Run()
	logSerial(m.Serial())
	if !up {
		m.Close()
		return nil, nil, errors.New("kernel halted during bring-up")
	}
	log.Debugw("bring-up complete", "events", len(m.Trace()), "interrupts", m.InterruptsEnabled())
	return m, k, nil
}

func logSerial(out string) {
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line != "" {
			log.Infow("console", "line", line)
		}
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
