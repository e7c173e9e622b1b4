package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, closeDB, err := openDatabase()
		if err != nil {
			return err
		}
		defer closeDB()

		return migrate(cmd.Context(), gdb)
	},
}
