package api

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/backend"
	"github.com/samcharles93/tether/internal/bridge"
	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/logger"
	"github.com/samcharles93/tether/internal/modeltest"
)

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	rt := bridge.New(bridge.Config{
		Registry: handle.New(),
		Logger:   logger.Discard(),
		Features: &backend.Features{},
	})
	e := echo.New()
	NewServer(rt).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %T: %v body=%s", out, err, rec.Body.String())
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status: got %d want %d body=%s", rec.Code, want, rec.Body.String())
	}
}

func createTensor(t *testing.T, e *echo.Echo, shape string, values string) int64 {
	t.Helper()
	rec := doJSON(t, e, http.MethodPost, "/v1/tensors", fmt.Sprintf(`{"shape":%s,"dtype":"i64","values":%s}`, shape, values))
	expectStatus(t, rec, http.StatusCreated)
	return decode[TensorResponse](t, rec).Handle
}

func loadModel(t *testing.T, e *echo.Echo, dir string) ModelResponse {
	t.Helper()
	body, _ := json.Marshal(LoadModelRequest{Path: dir})
	rec := doJSON(t, e, http.MethodPost, "/v1/models", string(body))
	expectStatus(t, rec, http.StatusCreated)
	return decode[ModelResponse](t, rec)
}

func TestModelLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)

	m := loadModel(t, e, modeltest.Minimal(t))
	if m.Handle <= 0 || m.Object != "model" {
		t.Fatalf("unexpected model response: %+v", m)
	}
	if m.Family != string(arch.Bert) || m.Variant != "BertModel" || m.DType != "f32" {
		t.Fatalf("unexpected model description: %+v", m)
	}
	if m.LoadID == "" {
		t.Fatalf("expected load id")
	}

	path := fmt.Sprintf("/v1/models/%d", m.Handle)
	rec := doJSON(t, e, http.MethodGet, path+"/inputs", "")
	expectStatus(t, rec, http.StatusOK)
	inputs := decode[InputsResponse](t, rec)
	if strings.Join(inputs.Inputs, ",") != "input_ids,attention_mask" {
		t.Fatalf("unexpected inputs: %v", inputs.Inputs)
	}

	ids := createTensor(t, e, "[1,3]", "[1,2,3]")
	mask := createTensor(t, e, "[1,3]", "[1,1,1]")
	rec = doJSON(t, e, http.MethodPost, path+"/infer?values=true", fmt.Sprintf(`{"inputs":[%d,%d]}`, ids, mask))
	expectStatus(t, rec, http.StatusCreated)
	out := decode[TensorResponse](t, rec)
	if fmt.Sprint(out.Shape) != fmt.Sprint([]int{1, 3, modeltest.Hidden}) {
		t.Fatalf("unexpected output shape: %v", out.Shape)
	}
	if len(out.Values) != 3*modeltest.Hidden {
		t.Fatalf("expected %d values, got %d", 3*modeltest.Hidden, len(out.Values))
	}

	rec = doJSON(t, e, http.MethodDelete, path, "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete response missing deleted=true: %s", rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodGet, path+"/inputs", "")
	expectStatus(t, rec, http.StatusGone)
	if body := decode[ErrorBody](t, rec); body.Error.Code != "use_after_free" || body.Error.Type != "handle" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)

	unsupported := t.TempDir()
	modeltest.WriteConfig(t, unsupported, map[string]any{"model_type": "mamba"})

	tests := []struct {
		name   string
		body   string
		status int
		errTyp string
	}{
		{"bad json", `{"path":`, http.StatusBadRequest, "invalid_request_error"},
		{"unknown field", `{"path":"x","precision":"f16"}`, http.StatusBadRequest, "invalid_request_error"},
		{"no path", `{}`, http.StatusBadRequest, "invalid_request_error"},
		{"bad dtype", `{"path":"x","dtype":"f128"}`, http.StatusBadRequest, "invalid_request_error"},
		{"device first", `{"path":"/does/not/exist","device":"cuda"}`, http.StatusUnprocessableEntity, "build"},
		{"missing dir", `{"path":"/does/not/exist"}`, http.StatusNotFound, "io"},
		{"integer dtype", `{"path":"/does/not/exist","dtype_code":6}`, http.StatusBadRequest, "argument"},
		{"unsupported family", fmt.Sprintf(`{"path":%q}`, unsupported), http.StatusUnprocessableEntity, "config"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, e, http.MethodPost, "/v1/models", tc.body)
			expectStatus(t, rec, tc.status)
			if body := decode[ErrorBody](t, rec); body.Error.Type != tc.errTyp {
				t.Fatalf("error type: got %q want %q", body.Error.Type, tc.errTyp)
			}
		})
	}
}

func TestInferErrors(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)
	m := loadModel(t, e, modeltest.Minimal(t))
	path := fmt.Sprintf("/v1/models/%d/infer", m.Handle)
	ids := createTensor(t, e, "[1,2]", fmt.Sprintf("[1,%d]", modeltest.Vocab+3))
	mask := createTensor(t, e, "[1,2]", "[1,1]")

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"one input", path, fmt.Sprintf(`{"inputs":[%d]}`, ids), http.StatusBadRequest, "missing_required_input"},
		{"four inputs", path, fmt.Sprintf(`{"inputs":[%d,%d,%d,%d]}`, ids, mask, mask, mask), http.StatusBadRequest, "too_many_inputs"},
		{"unknown tensor", path, fmt.Sprintf(`{"inputs":[%d,999]}`, ids), http.StatusBadRequest, "invalid_handle"},
		{"model as tensor", path, fmt.Sprintf(`{"inputs":[%d,%d]}`, m.Handle, mask), http.StatusBadRequest, "invalid_handle"},
		{"token out of range", path, fmt.Sprintf(`{"inputs":[%d,%d]}`, ids, mask), http.StatusBadRequest, "computation_failed"},
		{"bad handle", "/v1/models/abc/infer", `{"inputs":[]}`, http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, e, http.MethodPost, tc.path, tc.body)
			expectStatus(t, rec, tc.status)
			if body := decode[ErrorBody](t, rec); body.Error.Code != tc.code {
				t.Fatalf("error code: got %q want %q", body.Error.Code, tc.code)
			}
		})
	}
}

func TestTensorLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw, math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-2))
	body := fmt.Sprintf(`{"shape":[2],"dtype":"f32","data":%q}`, base64.StdEncoding.EncodeToString(raw))
	rec := doJSON(t, e, http.MethodPost, "/v1/tensors", body)
	expectStatus(t, rec, http.StatusCreated)
	created := decode[TensorResponse](t, rec)

	path := fmt.Sprintf("/v1/tensors/%d", created.Handle)
	rec = doJSON(t, e, http.MethodGet, path+"?data=true&values=true", "")
	expectStatus(t, rec, http.StatusOK)
	got := decode[TensorResponse](t, rec)
	if got.DType != "f32" || got.DTypeCode != 0 || got.Device.Kind != "cpu" {
		t.Fatalf("unexpected tensor info: %+v", got)
	}
	if string(got.Data) != string(raw) {
		t.Fatalf("data mismatch: %v", got.Data)
	}
	if fmt.Sprint(got.Values) != "[1.5 -2]" {
		t.Fatalf("values mismatch: %v", got.Values)
	}

	rec = doJSON(t, e, http.MethodDelete, path, "")
	expectStatus(t, rec, http.StatusOK)
	rec = doJSON(t, e, http.MethodDelete, path, "")
	expectStatus(t, rec, http.StatusGone)

	rec = doJSON(t, e, http.MethodGet, "/v1/tensors/12345", "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestCreateTensorValidation(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)

	tests := []struct {
		name string
		body string
	}{
		{"neither", `{"shape":[1],"dtype":"f32"}`},
		{"both", `{"shape":[1],"dtype":"f32","values":[1],"data":"AAAAAA=="}`},
		{"shape mismatch", `{"shape":[3],"dtype":"f32","values":[1]}`},
		{"short data", `{"shape":[2],"dtype":"f32","data":"AAAAAA=="}`},
		{"unknown device", `{"shape":[1],"dtype":"f32","values":[1],"device":"tpu"}`},
		{"unavailable device", `{"shape":[1],"dtype":"f32","data":"AAAAAA==","device":"cuda"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, e, http.MethodPost, "/v1/tensors", tc.body)
			expectStatus(t, rec, http.StatusBadRequest)
		})
	}
}

func TestWrongKindIsConflict(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)
	ids := createTensor(t, e, "[1]", "[1]")

	rec := doJSON(t, e, http.MethodGet, fmt.Sprintf("/v1/models/%d/inputs", ids), "")
	expectStatus(t, rec, http.StatusConflict)
	if body := decode[ErrorBody](t, rec); body.Error.Code != "type_mismatch" {
		t.Fatalf("unexpected error body: %+v", body)
	}

	rec = doJSON(t, e, http.MethodGet, fmt.Sprintf("/v1/tensors/%d", ids), "")
	expectStatus(t, rec, http.StatusOK)
}

func TestRuntimeInfo(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)
	createTensor(t, e, "[1]", "[1]")

	rec := doJSON(t, e, http.MethodGet, "/v1/runtime", "")
	expectStatus(t, rec, http.StatusOK)
	info := decode[RuntimeResponse](t, rec)
	if info.Devices != "cpu" || info.Handles != 1 {
		t.Fatalf("unexpected runtime info: %+v", info)
	}
	if _, ok := info.Env["USE_FLASH_ATTENTION"]; !ok {
		t.Fatalf("expected env listing, got %v", info.Env)
	}
}
