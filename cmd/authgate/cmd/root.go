// Package cmd provides the CLI commands for Authgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/authgate/authgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "Authgate - token authentication and abuse prevention service",
	Long: `Authgate issues and verifies signed access/refresh token pairs and
guards the login path with sliding-window rate limiting, failed-attempt
lockout, and refresh token rotation with reuse detection.

Quick start:
  1. Generate a signing key:  authgate gen-key
  2. Hash a login secret:     authgate hash-secret "s3cret"
  3. Create authgate.yaml with the key, a csrf secret and a principal
  4. Run:                     authgate start

Configuration:
  Config is loaded from authgate.yaml in the current directory,
  $HOME/.authgate/, or /etc/authgate/.

  Environment variables can override config values with the AUTHGATE_ prefix.
  Example: AUTHGATE_SERVER_HTTP_ADDR=:9102

Commands:
  start        Start the service
  gen-key      Generate a signing key for the config file
  hash-secret  Hash a principal secret for the config file
  version      Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./authgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
