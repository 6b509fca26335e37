package nn

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/tether/internal/tensor"
)

// Kernel selects the attention implementation.
type Kernel int

const (
	// Standard materializes the full score row before the softmax.
	Standard Kernel = iota
	// Flash streams keys in blocks with an online softmax and never holds a
	// full score row.
	Flash
)

func (k Kernel) String() string {
	if k == Flash {
		return "flash"
	}
	return "standard"
}

// flashBlock is the number of keys scored per online-softmax step.
const flashBlock = 32

// Dims is the packed layout of an attention call: queries are
// [Batch, Seq, Heads*HeadDim], keys and values [Batch, Seq, KVHeads*HeadDim].
type Dims struct {
	Batch   int
	Seq     int
	Heads   int
	KVHeads int
	HeadDim int
}

// Mask selects which keys each query attends to.
type Mask struct {
	// Keep is [Batch*Seq]; false hides that key position. Nil keeps all.
	Keep []bool
	// Causal hides keys after the query position.
	Causal bool
	// Window, when positive, limits causal attention to the last Window keys.
	Window int
}

func (m *Mask) allows(b, i, j, seq int) bool {
	if m.Keep != nil && !m.Keep[b*seq+j] {
		return false
	}
	if m.Causal {
		if j > i {
			return false
		}
		if m.Window > 0 && i-j >= m.Window {
			return false
		}
	}
	return true
}

// Workers returns the goroutine budget for n independent heads when every
// core is allowed.
func Workers(n int) int {
	workers := runtime.GOMAXPROCS(0)
	if n > 0 && workers > n {
		workers = n
	}
	return max(workers, 1)
}

// Attention computes scaled dot-product attention. With Threads <= 1 every
// head runs on the calling goroutine; otherwise heads are spread across up
// to Threads goroutines.
type Attention struct {
	Kernel  Kernel
	Threads int
}

// Attend writes the attention output for q, k and v into out. A query with
// no visible keys produces zeros.
func (a Attention) Attend(out, q, k, v []float32, d Dims, m Mask) error {
	if d.KVHeads <= 0 || d.Heads%d.KVHeads != 0 {
		return fmt.Errorf("attention: %d kv heads do not divide %d heads", d.KVHeads, d.Heads)
	}
	qStride := d.Heads * d.HeadDim
	kvStride := d.KVHeads * d.HeadDim
	tokens := d.Batch * d.Seq
	if len(q) < tokens*qStride || len(out) < tokens*qStride || len(k) < tokens*kvStride || len(v) < tokens*kvStride {
		return fmt.Errorf("attention: buffers too small for %+v", d)
	}
	if m.Keep != nil && len(m.Keep) < tokens {
		return fmt.Errorf("attention: mask has %d entries, need %d", len(m.Keep), tokens)
	}

	h := head{
		out: out, q: q, k: k, v: v,
		d: d, m: &m,
		qStride:  qStride,
		kvStride: kvStride,
		group:    d.Heads / d.KVHeads,
		scale:    float32(1 / math.Sqrt(float64(d.HeadDim))),
	}
	run := h.standard
	if a.Kernel == Flash {
		run = h.flash
	}

	threads := min(a.Threads, d.Batch*d.Heads)
	if threads <= 1 {
		for b := range d.Batch {
			for hd := range d.Heads {
				run(b, hd)
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(threads)
	for b := range d.Batch {
		for hd := range d.Heads {
			g.Go(func() error {
				run(b, hd)
				return nil
			})
		}
	}
	return g.Wait()
}

type head struct {
	out, q, k, v      []float32
	d                 Dims
	m                 *Mask
	qStride, kvStride int
	group             int
	scale             float32
}

func (h *head) query(b, i, hd int) []float32 {
	off := (b*h.d.Seq+i)*h.qStride + hd*h.d.HeadDim
	return h.q[off : off+h.d.HeadDim]
}

func (h *head) output(b, i, hd int) []float32 {
	off := (b*h.d.Seq+i)*h.qStride + hd*h.d.HeadDim
	return h.out[off : off+h.d.HeadDim]
}

func (h *head) key(b, j, hk int) []float32 {
	off := (b*h.d.Seq+j)*h.kvStride + hk*h.d.HeadDim
	return h.k[off : off+h.d.HeadDim]
}

func (h *head) value(b, j, hk int) []float32 {
	off := (b*h.d.Seq+j)*h.kvStride + hk*h.d.HeadDim
	return h.v[off : off+h.d.HeadDim]
}

func (h *head) standard(b, hd int) {
	seq := h.d.Seq
	hk := hd / h.group
	scores := make([]float32, seq)
	negInf := float32(math.Inf(-1))
	for i := range seq {
		qi := h.query(b, i, hd)
		o := h.output(b, i, hd)
		clear(o)
		visible := false
		for j := range seq {
			if !h.m.allows(b, i, j, seq) {
				scores[j] = negInf
				continue
			}
			scores[j] = tensor.Dot(qi, h.key(b, j, hk)) * h.scale
			visible = true
		}
		if !visible {
			continue
		}
		tensor.Softmax(scores)
		for j, p := range scores {
			if p == 0 {
				continue
			}
			for x, val := range h.value(b, j, hk) {
				o[x] += p * val
			}
		}
	}
}

func (h *head) flash(b, hd int) {
	seq := h.d.Seq
	hk := hd / h.group
	acc := make([]float64, h.d.HeadDim)
	block := make([]float32, flashBlock)
	for i := range seq {
		qi := h.query(b, i, hd)
		clear(acc)
		runMax := math.Inf(-1)
		var denom float64

		for start := 0; start < seq; start += flashBlock {
			end := min(start+flashBlock, seq)
			blockMax := math.Inf(-1)
			for j := start; j < end; j++ {
				if !h.m.allows(b, i, j, seq) {
					block[j-start] = float32(math.Inf(-1))
					continue
				}
				s := tensor.Dot(qi, h.key(b, j, hk)) * h.scale
				block[j-start] = s
				blockMax = math.Max(blockMax, float64(s))
			}
			if math.IsInf(blockMax, -1) {
				continue
			}
			newMax := math.Max(runMax, blockMax)
			if !math.IsInf(runMax, -1) && newMax != runMax {
				c := math.Exp(runMax - newMax)
				denom *= c
				for x := range acc {
					acc[x] *= c
				}
			}
			runMax = newMax
			for j := start; j < end; j++ {
				s := float64(block[j-start])
				if math.IsInf(s, -1) {
					continue
				}
				p := math.Exp(s - runMax)
				denom += p
				for x, val := range h.value(b, j, hk) {
					acc[x] += p * float64(val)
				}
			}
		}

		o := h.output(b, i, hd)
		if denom == 0 {
			clear(o)
			continue
		}
		for x := range o {
			o[x] = float32(acc[x] / denom)
		}
	}
}
