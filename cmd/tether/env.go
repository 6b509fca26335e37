package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tether/internal/backend"
	"github.com/samcharles93/tether/internal/backend/cpu"
	"github.com/samcharles93/tether/internal/envconfig"
	"github.com/samcharles93/tether/internal/tensor"
)

func envCmd() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Show environment settings and compiled features",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			vars := envconfig.AsMap()
			for _, name := range slices.Sorted(maps.Keys(vars)) {
				v := vars[name]
				fmt.Printf("%-22s %-8v %s\n", v.Name, v.Value, v.Description)
			}

			f := backend.Detect()
			fmt.Println()
			fmt.Printf("config file:           %s\n", configPath())
			fmt.Printf("devices:               %s\n", f.Available())
			fmt.Printf("flash attention (f16): %v\n", f.FlashAttention(tensor.F16))

			info := cpu.Detect()
			fmt.Printf("cpu:                   %s/%s, %d cores\n", info.GoOS, info.GoArch, info.CPUs)
			fmt.Printf("cpu features:          %s\n", strings.Join(info.Enabled(), " "))
			return nil
		},
	}
}
