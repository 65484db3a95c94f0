package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verity-group/appraisal-api/internal/store"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Delivery journal maintenance",
}

var journalMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply journal schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		journal, err := store.NewSQLite(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer journal.Close()

		if err := journal.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("journal schema up to date")
		return nil
	},
}

func init() {
	journalCmd.AddCommand(journalMigrateCmd)
	rootCmd.AddCommand(journalCmd)
}
