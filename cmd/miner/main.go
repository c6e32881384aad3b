package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "miner",
	Short: "Suggest solutions for open support tickets from resolved ones",
	Long: "miner loads a Jira export, builds a knowledge base from resolved tickets\n" +
		"and suggests, for each open ticket, the most similar resolved ticket\n" +
		"of the same category together with its recorded solution.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/miner.json"
	}
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", defaultConfig, "Path to the JSON config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(categorizeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
