package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// LayerNorm normalizes src to zero mean and unit variance, then applies
// weight and bias. A nil bias is treated as zeros.
func LayerNorm(dst, src, weight, bias []float32, eps float32) {
	n := float64(len(src))
	var mean float64
	for _, v := range src {
		mean += float64(v)
	}
	mean /= n
	var variance float64
	for _, v := range src {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= n
	inv := 1 / math.Sqrt(variance+float64(eps))
	for i, v := range src {
		y := float32((float64(v) - mean) * inv)
		y *= weight[i]
		if bias != nil {
			y += bias[i]
		}
		dst[i] = y
	}
}

// RMSNorm performs Root Mean Square Normalization.
func RMSNorm(dst, src, weight []float32, eps float32) {
	var sum float32
	for _, v := range src {
		sum += v * v
	}
	mean := sum / float32(len(src))
	scale := float32(1.0) / float32(math.Sqrt(float64(mean+eps)))
	for i := range src {
		dst[i] = src[i] * scale * weight[i]
	}
}

// Softmax applies the softmax function to x.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// Gelu is the exact erf formulation used by BERT checkpoints.
func Gelu(x float32) float32 {
	return float32(0.5 * float64(x) * (1 + math.Erf(float64(x)/math.Sqrt2)))
}

// GeluTanh is the tanh approximation ("gelu_new", "gelu_pytorch_tanh").
func GeluTanh(x float32) float32 {
	v := float64(x)
	return float32(0.5 * v * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(v+0.044715*v*v*v))))
}

func Relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Activation resolves a Hugging Face hidden_act name.
func Activation(name string) (func(float32) float32, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gelu":
		return Gelu, nil
	case "gelu_new", "gelu_pytorch_tanh", "gelu_fast":
		return GeluTanh, nil
	case "relu":
		return Relu, nil
	case "silu", "swish":
		return Silu, nil
	case "tanh":
		return Tanh, nil
	}
	return nil, fmt.Errorf("unsupported activation %q", name)
}

// Apply runs f over x in place.
func Apply(x []float32, f func(float32) float32) {
	for i, v := range x {
		x[i] = f(v)
	}
}
