// Package cli implements the remedian command line interface.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/remedian/remedian/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  ____                          _ _\n" +
		" |  _ \\ ___ _ __ ___   ___  __| (_) __ _ _ __\n" +
		" | |_) / _ \\ '_ ` _ \\ / _ \\/ _` | |/ _` | '_ \\\n" +
		" |  _ <  __/ | | | | |  __/ (_| | | (_| | | | |\n" +
		" |_| \\_\\___|_| |_| |_|\\___|\\__,_|_|\\__,_|_| |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "remedian",
	Short: "Remedian - autonomous operations agent",
	Long:  color.CyanString(logo) + "\nAn operations agent that diagnoses and remediates incidents under a cascading tool-access policy.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("remedian %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(instructCmd)
	rootCmd.AddCommand(playbookCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func printHeader(title string) {
	color.Cyan("%s\n", title)
}
