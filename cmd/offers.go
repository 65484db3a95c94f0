package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var offersCmd = &cobra.Command{
	Use:   "offers",
	Short: "Send all due personal offers once",
	Long:  "Runs a single sweep of the delivery journal, sending every personal-offer email whose delay has elapsed. Useful for catch-up after downtime.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sent, err := env.Sweeper.SweepOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("sent %d due offers\n", sent)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(offersCmd)
}
