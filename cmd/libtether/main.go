// Command libtether builds the C shared library:
//
//	go build -buildmode=c-shared -o libtether.so ./cmd/libtether
//
// Every function reports failure through its err out-parameter, which
// receives a malloc'd message the caller releases with tether_free.
package main

/*
#include <stddef.h>
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"slices"
	"unsafe"
)

func main() {}

func setError(out **C.char, err error) {
	if out != nil {
		*out = C.CString(errorText(err))
	}
}

func cBytes(b []byte) *C.char {
	p := C.malloc(C.size_t(len(b) + 1))
	buf := unsafe.Slice((*byte)(p), len(b)+1)
	copy(buf, b)
	buf[len(b)] = 0
	return (*C.char)(p)
}

//export tether_load_model
func tether_load_model(path *C.char, dtype C.int32_t, deviceType *C.char, deviceID C.int32_t, errOut **C.char) C.int64_t {
	h, err := loadModel(runtimeOnce(), C.GoString(path), int32(dtype), C.GoString(deviceType), int(deviceID))
	if err != nil {
		setError(errOut, err)
		return 0
	}
	return C.int64_t(h)
}

//export tether_delete_model
func tether_delete_model(h C.int64_t, errOut **C.char) C.int {
	if err := runtimeOnce().DeleteModel(handleOf(h)); err != nil {
		setError(errOut, err)
		return -1
	}
	return 0
}

//export tether_get_input_names
func tether_get_input_names(h C.int64_t, errOut **C.char) *C.char {
	b, err := inputNamesJSON(runtimeOnce(), int64(h))
	if err != nil {
		setError(errOut, err)
		return nil
	}
	return cBytes(b)
}

//export tether_run_inference
func tether_run_inference(model C.int64_t, inputs *C.int64_t, n C.int32_t, errOut **C.char) C.int64_t {
	var hs []int64
	if inputs != nil && n > 0 {
		hs = slices.Clone(unsafe.Slice((*int64)(unsafe.Pointer(inputs)), int(n)))
	}
	out, err := runInference(runtimeOnce(), int64(model), hs)
	if err != nil {
		setError(errOut, err)
		return 0
	}
	return C.int64_t(out)
}

//export tether_tensor_from_bytes
func tether_tensor_from_bytes(data unsafe.Pointer, size C.size_t, shape *C.int64_t, rank C.int32_t,
	dtype C.int32_t, deviceType *C.char, deviceID C.int32_t, errOut **C.char,
) C.int64_t {
	var dims []int64
	if shape != nil && rank > 0 {
		dims = append(dims, unsafe.Slice((*int64)(unsafe.Pointer(shape)), int(rank))...)
	}
	var raw []byte
	if data != nil && size > 0 {
		raw = C.GoBytes(data, C.int(size))
	}
	h, err := tensorFromBytes(runtimeOnce(), raw, dims, int32(dtype), C.GoString(deviceType), int(deviceID))
	if err != nil {
		setError(errOut, err)
		return 0
	}
	return C.int64_t(h)
}

//export tether_tensor_info
func tether_tensor_info(h C.int64_t, errOut **C.char) *C.char {
	b, err := tensorInfoJSON(runtimeOnce(), int64(h))
	if err != nil {
		setError(errOut, err)
		return nil
	}
	return cBytes(b)
}

// tether_tensor_copy returns the tensor's size in bytes, copying into dst
// only when capacity is large enough. It returns -1 on error.
//
//export tether_tensor_copy
func tether_tensor_copy(h C.int64_t, dst unsafe.Pointer, capacity C.size_t, errOut **C.char) C.int64_t {
	var buf []byte
	if dst != nil && capacity > 0 {
		buf = unsafe.Slice((*byte)(dst), int(capacity))
	}
	n, err := tensorCopy(runtimeOnce(), int64(h), buf)
	if err != nil {
		setError(errOut, err)
		return -1
	}
	return C.int64_t(n)
}

//export tether_delete_tensor
func tether_delete_tensor(h C.int64_t, errOut **C.char) C.int {
	if err := runtimeOnce().DeleteTensor(handleOf(h)); err != nil {
		setError(errOut, err)
		return -1
	}
	return 0
}

//export tether_free
func tether_free(p unsafe.Pointer) {
	C.free(p)
}
