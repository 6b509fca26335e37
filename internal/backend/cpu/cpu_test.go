package cpu

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	info := Detect()
	assert.Equal(t, runtime.GOARCH, info.GoArch)
	assert.Positive(t, info.CPUs)
	if runtime.GOARCH == "amd64" {
		assert.Contains(t, info.Features, "AVX2")
	}
}

func TestEnabledSorted(t *testing.T) {
	info := Info{Features: map[string]bool{"FMA": true, "AVX2": true, "AVX512F": false}}
	assert.Equal(t, []string{"AVX2", "FMA"}, info.Enabled())
	assert.Empty(t, Info{}.Enabled())
}
