// Package cli is the selenite binary's command surface: serve (run the
// service), registry (Model Registry admin), and the kardianos/service
// install/start/stop/uninstall wrapper around serve.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "selenite",
	Short: "Selenite transcription service",
	Long:  "Selenite runs a single-host audio/video transcription service: job queue, model registry, and HTTP API.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
