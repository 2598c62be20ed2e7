package main

import (
	"github.com/spf13/cobra"
)

var typesCmd = &cobra.Command{
	Use:   "types [type]",
	Short: "List available node types, or show one type's default config",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/nodes/types"
		if len(args) == 1 {
			path += "/" + args[0] + "/defaults"
		}
		data, err := apiCall("GET", path, nil)
		if err != nil {
			return err
		}
		printJSON(data)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(typesCmd)
}
