package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var appraiseCmd = &cobra.Command{
	Use:   "appraise <session-id>",
	Short: "Run the analysis pipeline for one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sessionID := args[0]

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Coord.Run(ctx, sessionID)
		if err != nil {
			return err
		}

		for _, stageErr := range result.Errors {
			zap.L().Warn("stage failed", zap.String("stage", stageErr.Stage), zap.Error(stageErr.Err))
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(appraiseCmd)
}
