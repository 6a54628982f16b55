package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "notehub",
	Short: "A collaborative notes server with optimistic-concurrency sync",
	Long: `Notehub lets multiple clients view and edit the same named note
concurrently. Live edits are relayed over WebSockets; saves go through a
conditional-write controller keyed by content-hash ETags, so nobody silently
overwrites changes they have not seen.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to config file")
}
