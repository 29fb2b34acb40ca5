package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "wabot",
	Short: "WhatsApp sales assistant backed by a product catalog and an LLM",
	Long: `wabot answers WhatsApp customers with a catalog-driven menu, product
search and free-form AI replies.

Examples:
  wabot serve                 # HTTP server with the Twilio webhook
  wabot console               # chat with the bot from the terminal
  wabot hash-password s3cret  # value for ADMIN_PASSWORD_HASH`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
