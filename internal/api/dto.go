package api

import (
	"github.com/samcharles93/tether/internal/backend"
	"github.com/samcharles93/tether/internal/backend/cpu"
	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/version"
)

// LoadModelRequest is the body of POST /v1/models. DType is a name ("f16")
// and takes precedence over DTypeCode.
type LoadModelRequest struct {
	Path      string `json:"path"`
	DType     string `json:"dtype,omitempty"`
	DTypeCode *int32 `json:"dtype_code,omitempty"`
	Device    string `json:"device,omitempty"`
	DeviceID  int    `json:"device_id,omitempty"`
}

type ModelResponse struct {
	Handle         int64         `json:"handle"`
	Object         string        `json:"object"`
	LoadID         string        `json:"load_id"`
	Path           string        `json:"path"`
	Family         string        `json:"family"`
	Variant        string        `json:"variant"`
	Inputs         []string      `json:"inputs"`
	DType          string        `json:"dtype"`
	Device         tensor.Device `json:"device"`
	FlashAttention bool          `json:"flash_attention"`
}

type InputsResponse struct {
	Handle int64    `json:"handle"`
	Object string   `json:"object"`
	Inputs []string `json:"inputs"`
}

// InferRequest lists tensor handles in input order: input_ids,
// attention_mask and optionally token_type_ids.
type InferRequest struct {
	Inputs []int64 `json:"inputs"`
}

// CreateTensorRequest is the body of POST /v1/tensors. Exactly one of Data
// (base64 little-endian bytes) or Values must be set.
type CreateTensorRequest struct {
	Shape    []int     `json:"shape"`
	DType    string    `json:"dtype"`
	Device   string    `json:"device,omitempty"`
	DeviceID int       `json:"device_id,omitempty"`
	Data     []byte    `json:"data,omitempty"`
	Values   []float64 `json:"values,omitempty"`
}

type TensorResponse struct {
	Handle    int64         `json:"handle"`
	Object    string        `json:"object"`
	Shape     []int         `json:"shape"`
	DType     string        `json:"dtype"`
	DTypeCode int32         `json:"dtype_code"`
	Device    tensor.Device `json:"device"`
	Data      []byte        `json:"data,omitempty"`
	Values    []float64     `json:"values,omitempty"`
}

type DeleteResponse struct {
	Handle  int64  `json:"handle"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type RuntimeResponse struct {
	Object   string            `json:"object"`
	Version  version.Info      `json:"version"`
	Devices  string            `json:"devices"`
	Features backend.Features  `json:"features"`
	CPU      cpu.Info          `json:"cpu"`
	Handles  int               `json:"handles"`
	Env      map[string]string `json:"env"`
}

type ErrorBody struct {
	Error ResponseError `json:"error"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
