package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/bridge"
	"github.com/samcharles93/tether/internal/logger"
	"github.com/samcharles93/tether/internal/model"
	"github.com/samcharles93/tether/internal/weights"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List model directories and the variant each would load as",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory containing model directories",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, LoadConfig())

			dir := strings.TrimSpace(modelsPath)
			if dir == "" {
				dir = strings.TrimSpace(os.Getenv(envTetherModelsDir))
			}
			if dir == "" {
				return cli.Exit("error: --models-path is required unless TETHER_MODELS_DIR is set", 1)
			}

			models, err := discoverModelDirs(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}

			fmt.Printf("Models in %s:\n\n", dir)
			for _, m := range models {
				fmt.Println(describeModelDir(dir, m))
			}
			fmt.Printf("\n%d model(s) found\n", len(models))
			return nil
		},
	}
}

// describeModelDir formats one listing line; unreadable configs are shown
// with their error instead of failing the listing.
func describeModelDir(root, dir string) string {
	name := modelDisplayName(root, dir)
	size := "?"
	if paths, err := weights.Discover(dir); err == nil {
		var total int64
		for _, p := range paths {
			if st, err := os.Stat(p); err == nil {
				total += st.Size()
			}
		}
		size = formatModelSize(total)
	}

	raw, err := os.ReadFile(filepath.Join(dir, bridge.ConfigFile))
	if err != nil {
		return fmt.Sprintf("  %-40s %8s  (%v)", name, size, err)
	}
	cfg, err := arch.Parse(raw)
	if err != nil {
		return fmt.Sprintf("  %-40s %8s  (%s)", name, size, bridge.Classify(err))
	}
	return fmt.Sprintf("  %-40s %8s  %s", name, size, model.VariantName(cfg))
}

func formatModelSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
