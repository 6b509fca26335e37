package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/backend"
	"github.com/samcharles93/tether/internal/model"
	"github.com/samcharles93/tether/internal/safetensors"
	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/weights"
)

type shardSummary struct {
	Path     string            `json:"path"`
	Tensors  int               `json:"tensors"`
	Mapped   bool              `json:"mapped"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type tensorSummary struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

type inspectReport struct {
	Dir            string          `json:"dir"`
	Family         arch.Family     `json:"family"`
	Architectures  []string        `json:"architectures"`
	Variant        string          `json:"variant"`
	Heads          []string        `json:"supported_heads"`
	Labels         int             `json:"labels,omitempty"`
	FlashAttention bool            `json:"flash_attention"`
	Shards         []shardSummary  `json:"shards"`
	Tensors        []tensorSummary `json:"tensors,omitempty"`
}

func inspectCmd() *cli.Command {
	var (
		dir          string
		showTensors  bool
		showConfig   bool
		tensorLimit  int
		tensorFilter string
		asJSON       bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a model directory without building it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model directory",
				Destination: &dir,
				Required:    true,
			},
			&cli.BoolFlag{Name: "tensors", Usage: "list tensor index", Destination: &showTensors},
			&cli.BoolFlag{Name: "hf-config", Usage: "print raw config.json", Destination: &showConfig},
			&cli.IntFlag{Name: "tensors-limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &tensorLimit},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read config: %v", err), 1)
			}
			if showConfig {
				fmt.Println(string(raw))
				return nil
			}
			cfg, err := arch.Parse(raw)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			report, err := inspectDir(dir, cfg, backend.Detect())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if showTensors {
				report.Tensors = filterTensors(report.Tensors, tensorFilter, tensorLimit)
			} else {
				report.Tensors = nil
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(report)
			return nil
		},
	}
}

// inspectDir reads shard headers only; no tensor data is decoded.
func inspectDir(dir string, cfg *arch.Config, f backend.Features) (inspectReport, error) {
	report := inspectReport{
		Dir:            dir,
		Family:         cfg.Family,
		Architectures:  cfg.Architectures(),
		Heads:          model.Variants(cfg.Family),
		Labels:         cfg.NumLabels(),
		FlashAttention: f.FlashAttention(tensor.F16),
	}
	report.Variant = model.VariantName(cfg)

	paths, err := weights.Discover(dir)
	if err != nil {
		return report, err
	}
	for _, p := range paths {
		sf, err := safetensors.Open(p)
		if err != nil {
			return report, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		report.Shards = append(report.Shards, shardSummary{
			Path:     filepath.Base(p),
			Tensors:  len(sf.Tensors),
			Mapped:   sf.Mapped(),
			Metadata: sf.Metadata,
		})
		for name, info := range sf.Tensors {
			report.Tensors = append(report.Tensors, tensorSummary{Name: name, DType: info.DType, Shape: info.Shape})
		}
		_ = sf.Close()
	}
	slices.SortFunc(report.Tensors, func(a, b tensorSummary) int { return strings.Compare(a.Name, b.Name) })
	return report, nil
}

func filterTensors(ts []tensorSummary, filter string, limit int) []tensorSummary {
	var out []tensorSummary
	for _, t := range ts {
		if filter != "" && !strings.Contains(t.Name, filter) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func printReport(r inspectReport) {
	fmt.Printf("Model: %s\n", r.Dir)
	fmt.Printf("  family:          %s\n", r.Family)
	if len(r.Architectures) > 0 {
		fmt.Printf("  architectures:   %s\n", strings.Join(r.Architectures, ", "))
	}
	fmt.Printf("  variant:         %s\n", r.Variant)
	if len(r.Heads) > 0 {
		fmt.Printf("  supported heads: %s\n", strings.Join(r.Heads, ", "))
	}
	if r.Labels > 0 {
		fmt.Printf("  labels:          %d\n", r.Labels)
	}
	fmt.Printf("  flash attention: %v (f16)\n", r.FlashAttention)

	fmt.Printf("\nShards (%d):\n", len(r.Shards))
	for _, s := range r.Shards {
		fmt.Printf("  %-40s %6d tensors  mapped=%v\n", s.Path, s.Tensors, s.Mapped)
	}
	if len(r.Tensors) > 0 {
		fmt.Printf("\nTensors:\n")
		for _, t := range r.Tensors {
			fmt.Printf("  %-60s %-5s %v\n", t.Name, t.DType, t.Shape)
		}
	}
}
