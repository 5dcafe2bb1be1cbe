package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gemrelay/gemrelay/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "gemrelay",
	Short: "Discord bot that relays conversations to Gemini with streamed replies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if err := config.WriteExample(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s, fill in bot_token and gemini_api_key\n", path)
			return nil
		},
	}
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return config.DefaultConfigPath
}

func init() {
	rootCmd.AddCommand(newServeCmd(), newInitCmd(), newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
