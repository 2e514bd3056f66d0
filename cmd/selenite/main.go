// Command selenite is the entry point for the transcription service:
// cobra subcommands for serve, Model Registry administration, and
// OS-service install/start/stop/uninstall.
package main

import (
	"selenite/internal/cli"
)

func main() {
	cli.Execute()
}
