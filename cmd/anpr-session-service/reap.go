package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one abandoned-session sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, closeDB, err := openDatabase()
		if err != nil {
			return err
		}
		defer closeDB()

		publisher := newPublisher()
		defer publisher.Close()

		result, err := newReaper(gdb, publisher).RunReapSweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "abandoned %d session(s)\n", result.Abandoned)
		return nil
	},
}
