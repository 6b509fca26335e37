package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/tensor"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, ErrorBody{
		Error: ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeRuntimeError reports err with the status its kind maps to.
func writeRuntimeError(c *echo.Context, err error) error {
	status, errType := statusFor(err)
	return writeError(c, status, errType, err.Error(), "", errorCode(err))
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, newInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return out, nil
}

func handleParam(c *echo.Context) (handle.Handle, error) {
	raw := c.Param("handle")
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, newInvalidRequest(fmt.Sprintf("handle must be a positive integer, got %q", raw))
	}
	return handle.Handle(v), nil
}

// dtypeOf resolves a dtype name, falling back to code and then to def.
func dtypeOf(name string, code *int32, def tensor.DType) (int32, error) {
	if name != "" {
		d, err := tensor.ParseDType(name)
		if err != nil {
			return 0, newInvalidRequest(err.Error())
		}
		return int32(d), nil
	}
	if code != nil {
		return *code, nil
	}
	return int32(def), nil
}

func queryBool(c *echo.Context, name string) bool {
	v, err := strconv.ParseBool(c.QueryParam(name))
	return err == nil && v
}

func float64s(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
