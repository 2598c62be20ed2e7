package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [execution-id]",
	Short: "Show an execution's status, progress and recent logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := apiCall("GET", "/api/executions/"+args[0], nil)
		if err != nil {
			return err
		}
		printJSON(data)
		return nil
	},
}

var executionsCmd = &cobra.Command{
	Use:   "executions [workflow-id]",
	Short: "List a workflow's executions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := apiCall("GET", "/api/executions?workflow_id="+args[0], nil)
		if err != nil {
			return err
		}
		printJSON(data)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(executionsCmd)
}
