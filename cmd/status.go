package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show per-stage progress for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, err := env.Status.Status(ctx, args[0])
		if err != nil {
			return err
		}

		if statusOutput == "yaml" {
			out, err := yaml.Marshal(status)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		}

		fmt.Printf("session %s: %s\n", status.SessionID, status.Overall)
		for name, st := range status.Stages {
			fmt.Printf("  %-18s %-12s %3d%%\n", name, st.State, st.Percent)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format: text or yaml")
	rootCmd.AddCommand(statusCmd)
}
