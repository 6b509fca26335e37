package bridge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/model"
	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/weights"
)

// ConfigFile is the config document read from a model directory.
const ConfigFile = "config.json"

// LoadModel loads the model directory at path. The device is checked first,
// then config.json is parsed, then the weights are mapped and the variant is
// built. A failed load allocates no handle and releases any opened weights.
func (r *Runtime) LoadModel(path string, dtypeCode int32, deviceType string, deviceID int) (handle.Handle, error) {
	start := time.Now()
	id := uuid.New()
	log := r.log.With("load_id", id.String(), "path", path)

	dtype, err := tensor.DTypeFromCode(dtypeCode)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !dtype.IsFloat() {
		return 0, fmt.Errorf("%w: model dtype %s is not a floating point type", ErrInvalidArgument, dtype)
	}
	dev, err := tensor.ParseDevice(deviceType, deviceID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrUnsupportedDevice, err)
	}
	if !r.features.Supports(dev) {
		return 0, fmt.Errorf("%w: %s (this build supports %s)", model.ErrUnsupportedDevice, dev, r.features.Available())
	}

	cfg, err := readConfig(path)
	if err != nil {
		log.Warn("load failed", "stage", "config", "error", err)
		return 0, err
	}
	ws, err := weights.Open(path, dtype, dev)
	if err != nil {
		log.Warn("load failed", "stage", "weights", "error", err)
		return 0, err
	}
	m, err := model.Build(cfg, ws, model.Options{
		DType:    dtype,
		Device:   dev,
		Features: r.features,
		Threads:  r.threads,
	})
	if err != nil {
		_ = ws.Close()
		log.Warn("load failed", "stage", "build", "error", err)
		return 0, err
	}

	loaded := &Loaded{
		Model:  m,
		ID:     id,
		Path:   path,
		Family: cfg.Family,
		DType:  dtype,
		Device: dev,
		Flash:  cfg.FlashAttention(),
	}
	h := handle.Create(r.reg, loaded)
	log.Info("model loaded",
		"handle", int64(h),
		"family", cfg.Family,
		"variant", m.Variant(),
		"dtype", dtype.String(),
		"device", dev.String(),
		"flash_attention", loaded.Flash,
		"shards", len(ws.Files()),
		"elapsed", time.Since(start),
	)
	return h, nil
}

func readConfig(dir string) (*arch.Config, error) {
	doc, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", weights.ErrNotFound, filepath.Join(dir, ConfigFile))
		}
		return nil, fmt.Errorf("%w: %v", weights.ErrUnreadable, err)
	}
	return arch.Parse(doc)
}

// DeleteModel destroys a model handle and releases its weights.
func (r *Runtime) DeleteModel(h handle.Handle) error {
	err := handle.Destroy[*Loaded](r.reg, h)
	if errors.Is(err, handle.ErrHandle) {
		r.misuse("delete_model", h, err)
		return err
	}
	if err != nil {
		r.log.Warn("closing model failed", "handle", int64(h), "error", err)
		return err
	}
	r.log.Debug("model deleted", "handle", int64(h))
	return nil
}

// GetInputNames returns the inputs the model expects, in order.
func (r *Runtime) GetInputNames(h handle.Handle) ([]string, error) {
	m, err := r.model(h, "get_input_names")
	if err != nil {
		return nil, err
	}
	return m.InputNames(), nil
}

// Model returns the loaded model behind h.
func (r *Runtime) Model(h handle.Handle) (*Loaded, error) {
	return r.model(h, "model")
}

func (r *Runtime) model(h handle.Handle, op string) (*Loaded, error) {
	m, err := handle.Borrow[*Loaded](r.reg, h)
	if err != nil {
		r.misuse(op, h, err)
		return nil, err
	}
	return m, nil
}
