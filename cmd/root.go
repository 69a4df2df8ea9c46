// Package cmd provides CLI commands for the switchback application.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "switchback",
	Short: "Switchback - hybrid discrete/continuous inference",
	Long:  `Switchback runs incremental inference over mode-switching chains that mix Gaussian states with discrete switching variables.`,
}

func Execute() error {
	return rootCmd.Execute()
}
