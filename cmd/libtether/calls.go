package main

import (
	"fmt"
	"os"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/tether/internal/bridge"
	"github.com/samcharles93/tether/internal/envconfig"
	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/logger"
)

// runtimeOnce builds the process-wide runtime on first use. Library hosts
// get logfmt on stderr at the TETHER_LOG_LEVEL level.
var runtimeOnce = sync.OnceValue(func() *bridge.Runtime {
	return bridge.New(bridge.Config{
		Logger: logger.Text(os.Stderr, envconfig.LogLevel()),
	})
})

// errorText is the message handed to C callers: the error kind, then the
// error.
func errorText(err error) string {
	return fmt.Sprintf("%s: %v", bridge.Classify(err), err)
}

func loadModel(rt *bridge.Runtime, path string, dtype int32, deviceType string, deviceID int) (int64, error) {
	h, err := rt.LoadModel(path, dtype, deviceType, deviceID)
	return int64(h), err
}

func inputNamesJSON(rt *bridge.Runtime, h int64) ([]byte, error) {
	names, err := rt.GetInputNames(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	return json.Marshal(names)
}

func runInference(rt *bridge.Runtime, model int64, inputs []int64) (int64, error) {
	hs := make([]handle.Handle, len(inputs))
	for i, v := range inputs {
		hs[i] = handle.Handle(v)
	}
	out, err := rt.RunInference(handle.Handle(model), hs)
	return int64(out), err
}

func tensorFromBytes(rt *bridge.Runtime, raw []byte, shape []int64, dtype int32, deviceType string, deviceID int) (int64, error) {
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	h, err := rt.CreateTensor(raw, dims, dtype, deviceType, deviceID)
	return int64(h), err
}

func tensorInfoJSON(rt *bridge.Runtime, h int64) ([]byte, error) {
	info, err := rt.TensorInfo(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	return json.Marshal(info)
}

// tensorCopy copies the tensor bytes into dst and returns the full size.
// A nil or short dst copies nothing, so callers can size their buffer first.
func tensorCopy(rt *bridge.Runtime, h int64, dst []byte) (int, error) {
	raw, err := rt.TensorBytes(handle.Handle(h))
	if err != nil {
		return 0, err
	}
	if len(dst) >= len(raw) {
		copy(dst, raw)
	}
	return len(raw), nil
}

func handleOf[T ~int64](v T) handle.Handle { return handle.Handle(v) }
