package cli

import (
	"log"
	"os"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"selenite/internal/app"
	"selenite/internal/config"
)

var (
	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install Selenite as a background OS service",
		Run:   runInstall,
	}
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the installed Selenite service",
		Run:   runStart,
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the installed Selenite service",
		Run:   runStop,
	}
	uninstallCmd = &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the Selenite service",
		Run:   runUninstall,
	}
)

func init() {
	rootCmd.AddCommand(installCmd, startCmd, stopCmd, uninstallCmd, serviceRunCmd)
}

// program adapts app.Run to the kardianos/service.Interface contract;
// Start returns immediately so the service manager's control calls never
// block on the server loop.
type program struct{}

func (p *program) Start(s service.Service) error {
	go p.run()
	return nil
}

func (p *program) run() {
	cfg := config.Load()
	if err := app.Run(cfg); err != nil {
		log.Printf("selenite exited with error: %v", err)
	}
}

func (p *program) Stop(s service.Service) error {
	// app.Run already handles SIGTERM internally via its own signal.Notify;
	// the service manager sends that same signal to the process group.
	return nil
}

func serviceConfig() *service.Config {
	ex, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	return &service.Config{
		Name:        "selenite",
		DisplayName: "Selenite Transcription Service",
		Description: "Single-host audio/video transcription service.",
		Executable:  ex,
		Arguments:   []string{"service-run"},
	}
}

// serviceRunCmd is the hidden entry point the OS service manager invokes.
var serviceRunCmd = &cobra.Command{
	Use:    "service-run",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		prg := &program{}
		s, err := service.New(prg, serviceConfig())
		if err != nil {
			log.Fatalf("failed to create service: %v", err)
		}
		if err := s.Run(); err != nil {
			log.Fatalf("service failed to run: %v", err)
		}
	},
}

func runInstall(cmd *cobra.Command, args []string) {
	s, err := service.New(&program{}, serviceConfig())
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Install(); err != nil {
		log.Fatalf("failed to install service: %v", err)
	}
	log.Println("service installed")
}

func runStart(cmd *cobra.Command, args []string) {
	s, err := service.New(&program{}, serviceConfig())
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Start(); err != nil {
		log.Fatalf("failed to start service: %v", err)
	}
	log.Println("service started")
}

func runStop(cmd *cobra.Command, args []string) {
	s, err := service.New(&program{}, serviceConfig())
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		log.Fatalf("failed to stop service: %v", err)
	}
	log.Println("service stopped")
}

func runUninstall(cmd *cobra.Command, args []string) {
	s, err := service.New(&program{}, serviceConfig())
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Uninstall(); err != nil {
		log.Fatalf("failed to uninstall service: %v", err)
	}
	log.Println("service uninstalled")
}
