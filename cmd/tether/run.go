package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/logger"
	"github.com/samcharles93/tether/internal/tensor"
)

type runOutput struct {
	Model   string      `json:"model"`
	Variant string      `json:"variant"`
	Inputs  []string    `json:"inputs"`
	Shape   []int       `json:"shape"`
	Labels  []int       `json:"labels,omitempty"`
	Values  [][]float32 `json:"values"`
	Elapsed string      `json:"elapsed"`
}

func runCmd() *cli.Command {
	var (
		idsFlag   string
		typesFlag string
		padID     int64
		show      int64
		asJSON    bool
	)

	flags := append(modelFlags(),
		&cli.StringFlag{
			Name:        "ids",
			Usage:       `token ids, comma separated, sequences split by ";" (e.g. "101,7592,102;101,102")`,
			Destination: &idsFlag,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "types",
			Usage:       "token type ids in the same layout as --ids",
			Destination: &typesFlag,
		},
		&cli.Int64Flag{
			Name:        "pad-id",
			Usage:       "id used to right-pad shorter sequences",
			Destination: &padID,
		},
		&cli.Int64Flag{
			Name:        "show",
			Usage:       "values printed per sequence (0 = all)",
			Value:       8,
			Destination: &show,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the output as JSON",
			Destination: &asJSON,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Load a model and run one forward pass over token ids",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, LoadConfig())

			dir, err := resolveModelDir(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
			}

			seqs, err := parseSequences(idsFlag)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --ids: %v", err), 1)
			}
			var types [][]int64
			if typesFlag != "" {
				if types, err = parseSequences(typesFlag); err != nil {
					return cli.Exit(fmt.Sprintf("error: --types: %v", err), 1)
				}
			}
			batch, err := buildBatch(seqs, types, padID)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			rt := newRuntime(ctx)
			dtype, dev, err := placement(rt.Features())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			m, err := rt.LoadModel(dir, int32(dtype), dev.Kind, dev.ID)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = rt.DeleteModel(m) }()

			names, err := rt.GetInputNames(m)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if types != nil && !slices.Contains(names, "token_type_ids") {
				log.Warn("model takes no token type ids; ignoring --types")
				batch.types = nil
			}

			inputs, err := addInputs(rt, batch)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() {
				for _, h := range inputs {
					_ = rt.DeleteTensor(h)
				}
			}()

			start := time.Now()
			out, err := rt.RunInference(m, inputs)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: inference: %v", err), 1)
			}
			elapsed := time.Since(start)
			defer func() { _ = rt.DeleteTensor(out) }()

			t, err := rt.Tensor(out)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			loaded, err := rt.Model(m)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			res := summarize(t, int(show))
			res.Model = dir
			res.Variant = loaded.Variant()
			res.Inputs = names
			res.Elapsed = elapsed.Round(time.Microsecond).String()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printRun(res)
			return nil
		},
	}
}

type tensorAdder interface {
	AddTensor(t *tensor.Tensor) (handle.Handle, error)
}

func addInputs(rt tensorAdder, b batchInputs) ([]handle.Handle, error) {
	ids, mask, types, err := b.tensors()
	if err != nil {
		return nil, err
	}
	var hs []handle.Handle
	for _, t := range []*tensor.Tensor{ids, mask, types} {
		if t == nil {
			continue
		}
		h, err := rt.AddTensor(t)
		if err != nil {
			return hs, err
		}
		hs = append(hs, h)
	}
	return hs, nil
}

// summarize splits the output per sequence. Classifier logits [n, labels]
// are reported whole with their argmax; hidden states [n, seq, hidden]
// report the first token's vector.
func summarize(t *tensor.Tensor, show int) runOutput {
	shape := t.Shape()
	data := t.Float32s()
	res := runOutput{Shape: shape}
	n := shape[0]
	width := 0
	stride := 0
	switch len(shape) {
	case 2:
		width, stride = shape[1], shape[1]
	case 3:
		width, stride = shape[2], shape[1]*shape[2]
	}
	for i := range n {
		row := data[i*stride : i*stride+width]
		if len(shape) == 2 {
			res.Labels = append(res.Labels, argmax(row))
		}
		if show > 0 && len(row) > show {
			row = row[:show]
		}
		res.Values = append(res.Values, slices.Clone(row))
	}
	return res
}

func printRun(res runOutput) {
	fmt.Printf("model:   %s\n", res.Model)
	fmt.Printf("variant: %s\n", res.Variant)
	fmt.Printf("inputs:  %v\n", res.Inputs)
	fmt.Printf("output:  %v in %s\n", res.Shape, res.Elapsed)
	for i, row := range res.Values {
		if res.Labels != nil {
			fmt.Printf("  [%d] label=%d logits=%v\n", i, res.Labels[i], row)
			continue
		}
		fmt.Printf("  [%d] %v\n", i, row)
	}
}
