// SPDX-License-Identifier: Unlicense OR MIT

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newBootCmd())
}

func newBootCmd() *cobra.Command {
	var (
		ticks  int
		screen bool
	)
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Run kernel bring-up and deliver timer interrupts",
		Long: `The boot command runs the kernel bring-up sequence, then raises the
timer interrupt line the given number of times.

Example:
  kboot boot
  kboot boot --ticks 10 --screen`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(ticks, screen)
		},
	}
	cmd.Flags().IntVar(&ticks, "ticks", 0, "Number of timer interrupts to raise")
	cmd.Flags().BoolVar(&screen, "screen", false, "Print the VGA text screen")
	return cmd
}

func runBoot(ticks int, screen bool) error {
	m, k, err := bootMachine()
	if err != nil {
		return err
	}
	defer m.Close()

	handled := 0
	if err := k.HandleIRQ(0, func() { handled++ }); err != nil {
		return err
	}
	for i := 0; i < ticks; i++ {
		v, ok := m.Raise(0)
		if !ok {
			return fmt.Errorf("timer interrupt %d not delivered", i)
		}
		k.Interrupt(v)
	}
	if m.Halted() {
		logSerial(m.Serial())
		return fmt.Errorf("kernel halted after %d timer interrupts", handled)
	}
	log.Infow("timer", "raised", ticks, "handled", handled)

	if jsonOut {
		return printJSON(struct {
			Ticks  int      `json:"ticks"`
			Screen []string `json:"screen,omitempty"`
		}{handled, k.Console().Screen()})
	}
	if screen {
		for _, row := range k.Console().Screen() {
			fmt.Println(row)
		}
	}
	return nil
}
