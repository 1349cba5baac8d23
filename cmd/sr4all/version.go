package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sr4all version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sr4all %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
