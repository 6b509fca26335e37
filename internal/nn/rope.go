package nn

import (
	"math"
	"strings"

	"github.com/samcharles93/tether/internal/arch"
)

// RopeScaling is the resolved form of a rope_scaling block.
type RopeScaling struct {
	Type            string
	Factor          float64
	OrigMaxCtx      int
	LowFactor       float64
	HighFactor      float64
	AttentionFactor float64
	BetaFast        float64
	BetaSlow        float64
	MScale          float64
	MScaleAllDim    float64
	Truncate        bool
}

// ResolveRopeScaling fills defaults for a config block. It returns nil for
// absent, "default" or unrecognized scaling types.
func ResolveRopeScaling(rs *arch.RopeScaling, maxPosition int) *RopeScaling {
	if rs == nil {
		return nil
	}
	kind := strings.TrimSpace(rs.RopeType)
	if kind == "" {
		kind = strings.TrimSpace(rs.Type)
	}
	kind = strings.ToLower(kind)
	if kind == "" || kind == "default" {
		if rs.Factor <= 0 {
			return nil
		}
		kind = "linear"
	}
	switch kind {
	case "linear", "llama3", "yarn":
	default:
		return nil
	}

	out := &RopeScaling{
		Type:            kind,
		Factor:          rs.Factor,
		OrigMaxCtx:      rs.OriginalMaxPositionEmbeddings,
		LowFactor:       rs.LowFreqFactor,
		HighFactor:      rs.HighFreqFactor,
		AttentionFactor: rs.AttentionFactor,
		BetaFast:        rs.BetaFast,
		BetaSlow:        rs.BetaSlow,
		MScale:          rs.MScale,
		MScaleAllDim:    rs.MScaleAllDim,
		Truncate:        true,
	}
	if rs.Truncate != nil {
		out.Truncate = *rs.Truncate
	}
	if out.OrigMaxCtx <= 0 {
		out.OrigMaxCtx = maxPosition
	}
	if out.LowFactor <= 0 {
		out.LowFactor = 1
	}
	if out.HighFactor <= 0 {
		out.HighFactor = out.LowFactor
	}
	if out.BetaFast <= 0 {
		out.BetaFast = 32
	}
	if out.BetaSlow <= 0 {
		out.BetaSlow = 1
	}
	if out.Factor <= 0 && out.OrigMaxCtx > 0 && maxPosition > 0 && maxPosition != out.OrigMaxCtx {
		out.Factor = float64(maxPosition) / float64(out.OrigMaxCtx)
	}
	if out.Factor <= 0 {
		out.Factor = 1
	}
	if out.AttentionFactor <= 0 {
		out.AttentionFactor = 1
		if out.Type == "yarn" {
			out.AttentionFactor = yarnAttentionFactor(out.Factor, out.MScale, out.MScaleAllDim)
		}
	}
	return out
}

// RoPE rotates query and key heads by position using the rotate-half layout
// of Hugging Face checkpoints.
type RoPE struct {
	invFreq    []float64
	attnFactor float32
	headDim    int
}

// NewRoPE precomputes inverse frequencies for headDim (which must be even).
func NewRoPE(headDim int, base float64, rs *RopeScaling) *RoPE {
	if base <= 0 {
		base = 10_000
	}
	invFreq := make([]float64, headDim/2)
	for i := range invFreq {
		invFreq[i] = 1.0 / math.Pow(base, float64(2*i)/float64(headDim))
	}
	factor := 1.0
	if rs != nil {
		factor = applyRopeScaling(invFreq, base, rs)
	}
	return &RoPE{invFreq: invFreq, attnFactor: float32(factor), headDim: headDim}
}

// Apply rotates nHead consecutive heads of x in place for position pos.
func (r *RoPE) Apply(x []float32, nHead, pos int) {
	half := r.headDim / 2
	for h := range nHead {
		base := h * r.headDim
		for i := range half {
			angle := float64(pos) * r.invFreq[i]
			c := float32(math.Cos(angle)) * r.attnFactor
			s := float32(math.Sin(angle)) * r.attnFactor
			i0 := base + i
			i1 := base + i + half
			x0, x1 := x[i0], x[i1]
			x[i0] = x0*c - x1*s
			x[i1] = x0*s + x1*c
		}
	}
}

func applyRopeScaling(invFreq []float64, base float64, rs *RopeScaling) float64 {
	switch rs.Type {
	case "llama3":
		applyLlama3Scaling(invFreq, rs.Factor, float64(rs.OrigMaxCtx), rs.LowFactor, rs.HighFactor)
	case "yarn":
		applyYarnScaling(invFreq, base, rs.Factor, float64(rs.OrigMaxCtx), rs.BetaFast, rs.BetaSlow, rs.Truncate)
	default:
		if rs.Factor != 1 {
			for i, f := range invFreq {
				invFreq[i] = f / rs.Factor
			}
		}
	}
	return rs.AttentionFactor
}

func applyLlama3Scaling(invFreq []float64, factor, origCtx, lowFactor, highFactor float64) {
	if factor == 0 || factor == 1 || origCtx <= 0 {
		return
	}
	if highFactor <= lowFactor {
		for i, f := range invFreq {
			invFreq[i] = f / factor
		}
		return
	}
	lowFreqWavelen := origCtx / lowFactor
	highFreqWavelen := origCtx / highFactor
	for i, f := range invFreq {
		if f == 0 {
			continue
		}
		waveLen := (2 * math.Pi) / f
		switch {
		case waveLen > lowFreqWavelen:
			invFreq[i] = f / factor
		case waveLen < highFreqWavelen:
		default:
			smooth := (origCtx/waveLen - lowFactor) / (highFactor - lowFactor)
			invFreq[i] = (1-smooth)*(f/factor) + smooth*f
		}
	}
}

func yarnAttentionFactor(factor, mscale, mscaleAllDim float64) float64 {
	get := func(scale, mul float64) float64 {
		if scale <= 1 {
			return 1
		}
		if mul <= 0 {
			mul = 1
		}
		return 0.1*mul*math.Log(scale) + 1
	}
	if mscale > 0 && mscaleAllDim > 0 {
		return get(factor, mscale) / get(factor, mscaleAllDim)
	}
	return get(factor, mscale)
}

func applyYarnScaling(invFreq []float64, base, factor, origCtx, betaFast, betaSlow float64, truncate bool) {
	if factor == 0 || factor == 1 {
		return
	}
	if base <= 1 || origCtx <= 0 {
		for i, f := range invFreq {
			invFreq[i] = f / factor
		}
		return
	}
	dim := float64(len(invFreq) * 2)
	correctionDim := func(rotations float64) float64 {
		numer := origCtx / (rotations * 2 * math.Pi)
		if numer <= 0 {
			return 0
		}
		return (dim * math.Log(numer)) / (2 * math.Log(base))
	}
	low, high := correctionDim(betaFast), correctionDim(betaSlow)
	if truncate {
		low, high = math.Floor(low), math.Ceil(high)
	}
	low = max(low, 0)
	high = min(high, dim-1)
	if low == high {
		high += 0.001
	}
	for i, f := range invFreq {
		ramp := min(max((float64(i)-low)/(high-low), 0), 1)
		invFreq[i] = (f/factor)*ramp + f*(1-ramp)
	}
}
