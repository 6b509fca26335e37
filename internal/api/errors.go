package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/tether/internal/bridge"
	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/model"
	"github.com/samcharles93/tether/internal/weights"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// statusFor maps a runtime error to an HTTP status and error type.
func statusFor(err error) (int, string) {
	if errors.Is(err, ErrInvalidRequest) {
		return http.StatusBadRequest, "invalid_request_error"
	}
	kind := bridge.Classify(err)
	switch kind {
	case bridge.KindConfig:
		return http.StatusUnprocessableEntity, string(kind)
	case bridge.KindIO:
		if errors.Is(err, weights.ErrNotFound) {
			return http.StatusNotFound, string(kind)
		}
		return http.StatusUnprocessableEntity, string(kind)
	case bridge.KindBuild:
		return http.StatusUnprocessableEntity, string(kind)
	case bridge.KindHandle:
		switch {
		case errors.Is(err, handle.ErrUnknownHandle):
			return http.StatusNotFound, string(kind)
		case errors.Is(err, handle.ErrUseAfterFree):
			return http.StatusGone, string(kind)
		}
		return http.StatusConflict, string(kind)
	case bridge.KindInfer:
		if errors.Is(err, bridge.ErrComputation) && !errors.Is(err, model.ErrInvalidInput) {
			return http.StatusInternalServerError, string(kind)
		}
		return http.StatusBadRequest, string(kind)
	case bridge.KindArgument:
		return http.StatusBadRequest, string(kind)
	}
	return http.StatusInternalServerError, "server_error"
}

// errorCode names the sentinel behind err for clients that branch on it.
func errorCode(err error) string {
	for _, c := range []struct {
		target error
		code   string
	}{
		{bridge.ErrMissingRequiredInput, "missing_required_input"},
		{bridge.ErrTooManyInputs, "too_many_inputs"},
		{bridge.ErrInvalidHandle, "invalid_handle"},
		{bridge.ErrComputation, "computation_failed"},
		{handle.ErrUnknownHandle, "unknown_handle"},
		{handle.ErrUseAfterFree, "use_after_free"},
		{handle.ErrTypeMismatch, "type_mismatch"},
		{model.ErrUnsupportedDevice, "unsupported_device"},
		{model.ErrConstruction, "construction_failed"},
	} {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return ""
}
