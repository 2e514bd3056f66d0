package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"selenite/internal/config"
	"selenite/internal/database"
	"selenite/internal/models"
	"selenite/internal/registry"
	"selenite/internal/repository"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage the Model Registry",
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryListCmd, registryAddSetCmd, registryAddWeightCmd, registryEnableCmd, registryDisableCmd, registryImportCmd)
}

// openRegistry opens the database and constructs a Registry without
// starting the HTTP server or scheduler, the same minimal-bootstrap shape
// cli commands that only touch persistence need.
func openRegistry() *registry.Registry {
	cfg := config.Load()
	seed, _ := config.LoadSettingsSeed(cfg.SettingsSeedPath)
	if err := database.Initialize(cfg.DatabasePath, seed); err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	sets := repository.NewModelSetRepository(database.DB)
	weights := repository.NewModelWeightRepository(database.DB)
	return registry.New(cfg.ModelsRoot, sets, weights)
}

var registryListCmd = &cobra.Command{
	Use:   "list <asr|diarizer>",
	Short: "List registered providers and their weights",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reg := openRegistry()
		kind := models.ModelKind(args[0])
		sets, err := reg.List(context.Background(), kind)
		if err != nil {
			log.Fatalf("failed to list: %v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tENABLED\tWEIGHT\tWEIGHT_ENABLED\tPATH")
		for _, s := range sets {
			if len(s.Weights) == 0 {
				fmt.Fprintf(w, "%s\t%v\t-\t-\t%s\n", s.Name, s.Enabled, s.AbsPath)
				continue
			}
			for _, wt := range s.Weights {
				fmt.Fprintf(w, "%s\t%v\t%s\t%v\t%s\n", s.Name, s.Enabled, wt.Name, wt.Enabled, wt.AbsPath)
			}
		}
		w.Flush()
	},
}

var registryAddSetCmd = &cobra.Command{
	Use:   "add-set <asr|diarizer> <name> <abs_path>",
	Short: "Register a new provider",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		reg := openRegistry()
		kind := models.ModelKind(args[0])
		set, err := reg.CreateSet(context.Background(), kind, args[1], args[2], nil)
		if err != nil {
			log.Fatalf("failed to create set: %v", err)
		}
		fmt.Printf("created set %s (%s)\n", set.Name, set.ID)
	},
}

var registryAddWeightCmd = &cobra.Command{
	Use:   "add-weight <set_id> <name> <abs_path>",
	Short: "Register a new weight under a provider",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		reg := openRegistry()
		weight, err := reg.CreateWeight(context.Background(), args[0], args[1], args[2])
		if err != nil {
			log.Fatalf("failed to create weight: %v", err)
		}
		fmt.Printf("created weight %s (%s)\n", weight.Name, weight.ID)
	},
}

var registryEnableCmd = &cobra.Command{
	Use:   "enable <set|weight> <id>",
	Short: "Enable a provider or weight",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		setEnabled(args[0], args[1], true, "")
	},
}

var registryDisableCmd = &cobra.Command{
	Use:   "disable <set|weight> <id> <reason>",
	Short: "Disable a provider or weight with a required reason",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		setEnabled(args[0], args[1], false, args[2])
	},
}

func setEnabled(kind, id string, enabled bool, reason string) {
	reg := openRegistry()
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	var err error
	switch kind {
	case "set":
		err = reg.UpdateSet(context.Background(), id, registry.UpdateSetOpts{Enabled: &enabled, DisableReason: reasonPtr})
	case "weight":
		err = reg.UpdateWeight(context.Background(), id, registry.UpdateWeightOpts{Enabled: &enabled, DisableReason: reasonPtr})
	default:
		log.Fatalf("first argument must be 'set' or 'weight', got %q", kind)
	}
	if err != nil {
		log.Fatalf("failed to update: %v", err)
	}
	fmt.Println("updated")
}
