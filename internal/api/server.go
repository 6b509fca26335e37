// Package api exposes the runtime boundary over HTTP.
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tether/internal/backend/cpu"
	"github.com/samcharles93/tether/internal/bridge"
	"github.com/samcharles93/tether/internal/envconfig"
	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/version"
)

type Server struct {
	rt *bridge.Runtime
	// DefaultDType applies to loads that name no dtype.
	DefaultDType tensor.DType
	// DefaultDevice applies to loads and tensors that name no device.
	DefaultDevice tensor.Device
}

func NewServer(rt *bridge.Runtime) *Server {
	return &Server{
		rt:            rt,
		DefaultDType:  tensor.F32,
		DefaultDevice: tensor.HostDevice,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/runtime", s.handleRuntime)

	e.POST("/v1/models", s.handleLoadModel)
	e.GET("/v1/models/:handle", s.handleGetModel)
	e.DELETE("/v1/models/:handle", s.handleDeleteModel)
	e.GET("/v1/models/:handle/inputs", s.handleInputNames)
	e.POST("/v1/models/:handle/infer", s.handleInfer)

	e.POST("/v1/tensors", s.handleCreateTensor)
	e.GET("/v1/tensors/:handle", s.handleGetTensor)
	e.DELETE("/v1/tensors/:handle", s.handleDeleteTensor)
}

func (s *Server) handleRuntime(c *echo.Context) error {
	env := make(map[string]string)
	for name, v := range envconfig.AsMap() {
		env[name] = fmt.Sprint(v.Value)
	}
	return c.JSON(http.StatusOK, RuntimeResponse{
		Object:   "runtime",
		Version:  version.Resolve(),
		Devices:  s.rt.Features().Available(),
		Features: s.rt.Features(),
		CPU:      cpu.Detect(),
		Handles:  s.rt.Registry().Len(),
		Env:      env,
	})
}

func (s *Server) handleLoadModel(c *echo.Context) error {
	req, err := decodeJSON[LoadModelRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Path == "" {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "path is required", "path", "")
	}
	code, err := dtypeOf(req.DType, req.DTypeCode, s.DefaultDType)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "dtype", "")
	}
	device, deviceID := req.Device, req.DeviceID
	if device == "" {
		device, deviceID = s.DefaultDevice.Kind, s.DefaultDevice.ID
	}

	h, err := s.rt.LoadModel(req.Path, code, device, deviceID)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	resp, err := s.modelResponse(h)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) modelResponse(h handle.Handle) (ModelResponse, error) {
	m, err := s.rt.Model(h)
	if err != nil {
		return ModelResponse{}, err
	}
	return ModelResponse{
		Handle:         int64(h),
		Object:         "model",
		LoadID:         m.ID.String(),
		Path:           m.Path,
		Family:         string(m.Family),
		Variant:        m.Variant(),
		Inputs:         m.InputNames(),
		DType:          m.DType.String(),
		Device:         m.Device,
		FlashAttention: m.Flash,
	}, nil
}

func (s *Server) handleGetModel(c *echo.Context) error {
	h, err := handleParam(c)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	resp, err := s.modelResponse(h)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteModel(c *echo.Context) error {
	h, err := handleParam(c)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	if err := s.rt.DeleteModel(h); err != nil {
		return writeRuntimeError(c, err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{Handle: int64(h), Object: "model", Deleted: true})
}

func (s *Server) handleInputNames(c *echo.Context) error {
	h, err := handleParam(c)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	names, err := s.rt.GetInputNames(h)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	return c.JSON(http.StatusOK, InputsResponse{Handle: int64(h), Object: "list", Inputs: names})
}

func (s *Server) handleInfer(c *echo.Context) error {
	h, err := handleParam(c)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	req, err := decodeJSON[InferRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	inputs := make([]handle.Handle, len(req.Inputs))
	for i, v := range req.Inputs {
		inputs[i] = handle.Handle(v)
	}
	out, err := s.rt.RunInference(h, inputs)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	resp, err := s.tensorResponse(c, out)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleCreateTensor(c *echo.Context) error {
	req, err := decodeJSON[CreateTensorRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if (req.Data == nil) == (req.Values == nil) {
		return writeBadRequest(c, "exactly one of data or values is required")
	}
	code, err := dtypeOf(req.DType, nil, tensor.F32)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "dtype", "")
	}
	device, deviceID := req.Device, req.DeviceID
	if device == "" {
		device, deviceID = s.DefaultDevice.Kind, s.DefaultDevice.ID
	}

	var h handle.Handle
	if req.Data != nil {
		h, err = s.rt.CreateTensor(req.Data, req.Shape, code, device, deviceID)
	} else {
		h, err = s.createFromValues(req.Values, req.Shape, tensor.DType(code), device, deviceID)
	}
	if err != nil {
		return writeRuntimeError(c, err)
	}
	resp, err := s.tensorResponse(c, h)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) createFromValues(values []float64, shape []int, dtype tensor.DType, kind string, id int) (handle.Handle, error) {
	dev, err := tensor.ParseDevice(kind, id)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", bridge.ErrInvalidArgument, err)
	}
	var t *tensor.Tensor
	if dtype.IsFloat() {
		f := make([]float32, len(values))
		for i, v := range values {
			f[i] = float32(v)
		}
		t, err = tensor.FromFloat32(f, shape, dtype, dev)
	} else {
		n := make([]int64, len(values))
		for i, v := range values {
			n[i] = int64(v)
		}
		t, err = tensor.FromInt64(n, shape, dtype, dev)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", bridge.ErrInvalidArgument, err)
	}
	return s.rt.AddTensor(t)
}

// tensorResponse describes h. ?data=true adds the raw bytes and ?values=true
// the decoded elements.
func (s *Server) tensorResponse(c *echo.Context, h handle.Handle) (TensorResponse, error) {
	t, err := s.rt.Tensor(h)
	if err != nil {
		return TensorResponse{}, err
	}
	resp := TensorResponse{
		Handle:    int64(h),
		Object:    "tensor",
		Shape:     t.Shape(),
		DType:     t.DType().String(),
		DTypeCode: int32(t.DType()),
		Device:    t.Device(),
	}
	if queryBool(c, "data") {
		resp.Data = t.Bytes()
	}
	if queryBool(c, "values") {
		if t.DType().IsFloat() {
			resp.Values = float64s(t.Float32s())
		} else {
			n, err := t.Int64s()
			if err != nil {
				return TensorResponse{}, err
			}
			resp.Values = make([]float64, len(n))
			for i, v := range n {
				resp.Values[i] = float64(v)
			}
		}
	}
	return resp, nil
}

func (s *Server) handleGetTensor(c *echo.Context) error {
	h, err := handleParam(c)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	resp, err := s.tensorResponse(c, h)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteTensor(c *echo.Context) error {
	h, err := handleParam(c)
	if err != nil {
		return writeRuntimeError(c, err)
	}
	if err := s.rt.DeleteTensor(h); err != nil {
		return writeRuntimeError(c, err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{Handle: int64(h), Object: "tensor", Deleted: true})
}
