// calenoted is the calendar sync daemon and its operational CLI: a serve
// command running the long-lived engine with the HTTP trigger surface, plus
// one-shot commands operating directly on the configured store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/42zz/CaleNote-sub001/internal/daemon"
	"github.com/42zz/CaleNote-sub001/internal/remote"
)

var rootCmd = &cobra.Command{
	Use:   "calenoted",
	Short: "Calendar sync and caching engine",
	Long:  "Keeps a local cache of scheduling records consistent with a remote calendar service.",
}

// tokenFromEnv is the opaque bearer-token provider. Credential acquisition
// and refresh live outside this process.
func tokenFromEnv(context.Context) (string, error) {
	tok := os.Getenv("CALENOTE_API_TOKEN")
	if tok == "" {
		return "", errors.New("CALENOTE_API_TOKEN is not set")
	}
	return tok, nil
}

func main() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon with periodic sync and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.Run(remote.TokenProvider(tokenFromEnv))
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
