package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var runInput string

var runCmd = &cobra.Command{
	Use:   "run [workflow-id]",
	Short: "Execute a workflow and print the run result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input map[string]any
		if runInput != "" {
			if err := json.Unmarshal([]byte(runInput), &input); err != nil {
				return fmt.Errorf("--input must be a JSON object: %w", err)
			}
		}

		data, err := apiCall("POST", "/api/workflows/"+args[0]+"/execute", input)
		if err != nil {
			return err
		}
		printJSON(data)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "JSON input payload for the run")
	rootCmd.AddCommand(runCmd)
}
