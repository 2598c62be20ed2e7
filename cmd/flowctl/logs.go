package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logsLimit int

var logsCmd = &cobra.Command{
	Use:   "logs [execution-id]",
	Short: "Print an execution's log rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/api/executions/%s/logs?limit=%d", args[0], logsLimit)
		data, err := apiCall("GET", path, nil)
		if err != nil {
			return err
		}
		printJSON(data)
		return nil
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 100, "maximum number of log rows")
	rootCmd.AddCommand(logsCmd)
}
