package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Terminal client for the chat sync engine",
	Long: `chatsync connects to the chat broker as the user named by the token and
keeps one conversation in sync.

Configuration comes from CHATSYNC_* variables, optionally loaded from a
dotenv file.

Examples:
  chatsync tail 42
  chatsync tail @bob --older 2
  chatsync send 42 "hello there"`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().String("env", ".env", "dotenv file to load before reading CHATSYNC_* variables")
	rootCmd.PersistentFlags().String("token", "", "bearer token, overrides CHATSYNC_API_TOKEN")

	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
