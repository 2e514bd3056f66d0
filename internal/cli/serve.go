package cli

import (
	"log"

	"github.com/spf13/cobra"

	"selenite/internal/app"
	"selenite/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Selenite HTTP server and job executor",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if err := app.Run(cfg); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
