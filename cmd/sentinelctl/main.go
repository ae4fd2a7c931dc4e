package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// sentinelctl — операторская обертка над Console API.
// Токен берется из SENTINEL_TOKEN (получить: sentinelctl login).
var (
	consoleAddr string
	token       string
)

func main() {
	root := &cobra.Command{
		Use:   "sentinelctl",
		Short: "Operator CLI for the package governance console",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if token == "" {
				token = os.Getenv("SENTINEL_TOKEN")
			}
		},
	}

	root.PersistentFlags().StringVar(&consoleAddr, "addr", envOr("SENTINEL_CONSOLE_ADDR", "http://localhost:8080"), "console API address")
	root.PersistentFlags().StringVar(&token, "token", "", "operator token (default: SENTINEL_TOKEN env)")

	root.AddCommand(
		newLoginCmd(),
		newPackagesCmd(),
		newAgentsCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
