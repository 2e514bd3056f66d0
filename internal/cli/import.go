package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"selenite/internal/models"
)

// seedEntry is one Model Registry provider entry in an import file, the
// same {kind, name, abs_path, weights} shape the admin HTTP API's
// create_set/create_weight pair accepts, so a bulk import exercises
// exactly one validation code path.
type seedEntry struct {
	Kind        string       `yaml:"kind"`
	Name        string       `yaml:"name"`
	AbsPath     string       `yaml:"abs_path"`
	Description string       `yaml:"description"`
	Weights     []seedWeight `yaml:"weights"`
}

type seedWeight struct {
	Name    string `yaml:"name"`
	AbsPath string `yaml:"abs_path"`
}

var registryImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Bulk-load provider/weight entries through the same validation path as the admin API",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("failed to read seed file: %v", err)
		}
		var entries []seedEntry
		if err := yaml.Unmarshal(data, &entries); err != nil {
			log.Fatalf("failed to parse seed file: %v", err)
		}

		reg := openRegistry()
		ctx := context.Background()
		for _, e := range entries {
			kind := models.ModelKind(e.Kind)
			var desc *string
			if e.Description != "" {
				desc = &e.Description
			}
			set, err := reg.CreateSet(ctx, kind, e.Name, e.AbsPath, desc)
			if err != nil {
				fmt.Printf("skipping set %s: %v\n", e.Name, err)
				continue
			}
			fmt.Printf("created set %s (%s)\n", set.Name, set.ID)
			for _, w := range e.Weights {
				weight, err := reg.CreateWeight(ctx, set.ID, w.Name, w.AbsPath)
				if err != nil {
					fmt.Printf("  skipping weight %s: %v\n", w.Name, err)
					continue
				}
				fmt.Printf("  created weight %s (%s)\n", weight.Name, weight.ID)
			}
		}
	},
}
