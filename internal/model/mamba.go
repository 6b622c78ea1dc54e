package model

import (
	"math"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

// MambaBlock is a selective state-space block: a gated, causally convolved
// linear recurrence with per-head input-dependent decay.
type MambaBlock struct {
	heads     int
	headDim   int
	stateSize int
	groups    int
	kernel    int
	inner     int
	convDim   int
	eps       float32
	dtMin     float32
	dtMax     float32

	inProj  linear    // hidden -> z | xBC | dt
	convW   []float32 // [convDim, kernel]
	convB   []float32 // [convDim], nil without conv bias
	dtBias  []float32 // [heads]
	aLog    []float32 // [heads]
	d       []float32 // [heads]
	normW   []float32 // [inner]
	outProj linear    // inner -> hidden
}

func newMambaBlock(cfg Config, in *initializer) *MambaBlock {
	inner := cfg.MambaInner()
	convDim := cfg.ConvDim()
	lo, hi := cfg.TimeStepBounds()
	m := &MambaBlock{
		heads:     cfg.MambaNumHeads,
		headDim:   cfg.MambaHeadDim,
		stateSize: cfg.SSMStateSize,
		groups:    cfg.NGroups,
		kernel:    cfg.ConvKernel,
		inner:     inner,
		convDim:   convDim,
		eps:       float32(cfg.LayerNormEpsilon),
		dtMin:     float32(lo),
		dtMax:     float32(hi),
	}
	m.inProj = in.linear(inner+convDim+cfg.MambaNumHeads, cfg.HiddenSize, cfg.MambaProjBias)
	m.convW = in.normal(convDim * cfg.ConvKernel)
	if cfg.UseConvBias {
		m.convB = make([]float32, convDim)
	}
	m.dtBias = in.dtBias(cfg.MambaNumHeads)
	m.aLog = in.aLog(cfg.MambaNumHeads)
	m.d = ones(cfg.MambaNumHeads)
	m.normW = ones(inner)
	m.outProj = in.linear(cfg.HiddenSize, inner, cfg.MambaProjBias)
	return m
}

func (m *MambaBlock) NewEntry(o cacheOptions) CacheEntry {
	return newSSMState(m.kernel-1, m.convDim, m.heads, m.headDim, m.stateSize, o.batch)
}

func (m *MambaBlock) Params() int {
	return m.inProj.params() + len(m.convW) + len(m.convB) + len(m.dtBias) +
		len(m.aLog) + len(m.d) + len(m.normW) + m.outProj.params()
}

func (m *MambaBlock) Check(entry CacheEntry, batch int) error {
	if entry == nil {
		return nil
	}
	st, ok := entry.(*SSMState)
	if !ok {
		return shapeErrorf(-1, "mamba block needs ssm state, got %s state", entry.Kind())
	}
	if st.convLen != m.kernel-1 || st.convDim != m.convDim {
		return shapeErrorf(-1, "conv state is [%d, %d], want [%d, %d]", st.convLen, st.convDim, m.kernel-1, m.convDim)
	}
	if st.heads != m.heads || st.headDim != m.headDim || st.stateSize != m.stateSize {
		return shapeErrorf(-1, "ssm state is [%d, %d, %d], want [%d, %d, %d]",
			st.heads, st.headDim, st.stateSize, m.heads, m.headDim, m.stateSize)
	}
	if st.batch != 0 && st.batch != batch {
		return shapeErrorf(-1, "ssm state bound to batch %d, got batch %d", st.batch, batch)
	}
	return nil
}

func (m *MambaBlock) Forward(x *tensor.Tensor, entry CacheEntry) (*tensor.Tensor, error) {
	batch, seq := x.Dim(0), x.Dim(1)
	if err := m.Check(entry, batch); err != nil {
		return nil, err
	}
	var st *SSMState
	if entry != nil {
		st = entry.(*SSMState)
		if st.batch == 0 {
			st.bind(batch)
		}
	}

	proj := m.inProj.forward(x)
	y := tensor.New(batch, seq, m.inner)
	err := tensor.ParallelFor(batch, func(b int) error {
		var conv, state []float32
		if st != nil {
			conv, state = st.convRow(b), st.stateRow(b)
		} else {
			conv = make([]float32, (m.kernel-1)*m.convDim)
			state = make([]float32, m.heads*m.headDim*m.stateSize)
		}
		m.scanSequence(proj, y, b, conv, state)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.outProj.forward(y), nil
}

// scanSequence runs convolution, recurrence and gated norm for batch row b,
// updating conv and state in place and writing gated outputs into y.
func (m *MambaBlock) scanSequence(proj, y *tensor.Tensor, b int, conv, state []float32) {
	seq := proj.Dim(1)
	hist := m.kernel - 1
	width := proj.Dim(2)

	// Conv input with the stored history as left padding.
	buf := make([]float32, (hist+seq)*m.convDim)
	copy(buf, conv)
	for t := range seq {
		row := proj.At(b, t)
		copy(buf[(hist+t)*m.convDim:], row[m.inner:m.inner+m.convDim])
	}
	copy(conv, buf[seq*m.convDim:])

	xBC := make([]float32, m.convDim)
	dt := make([]float32, m.heads)
	dA := make([]float32, m.heads)
	a := make([]float32, m.heads)
	for h := range m.heads {
		a[h] = -float32(math.Exp(float64(m.aLog[h])))
	}
	headsPerGroup := m.heads / m.groups
	gn := m.groups * m.stateSize

	for t := range seq {
		row := proj.At(b, t)
		m.causalConv(xBC, buf[t*m.convDim:(t+m.kernel)*m.convDim])
		xs := xBC[:m.inner]
		bs := xBC[m.inner : m.inner+gn]
		cs := xBC[m.inner+gn:]

		dtRaw := row[width-m.heads:]
		for h := range m.heads {
			dt[h] = m.clampStep(tensor.Softplus(dtRaw[h] + m.dtBias[h]))
			dA[h] = float32(math.Exp(float64(dt[h] * a[h])))
		}

		out := y.At(b, t)
		for h := range m.heads {
			g := h / headsPerGroup
			bg := bs[g*m.stateSize : (g+1)*m.stateSize]
			cg := cs[g*m.stateSize : (g+1)*m.stateSize]
			for p := range m.headDim {
				ch := h*m.headDim + p
				xv := xs[ch]
				s := state[ch*m.stateSize : (ch+1)*m.stateSize]
				scale := dt[h] * xv
				var acc float32
				for n := range s {
					s[n] = s[n]*dA[h] + scale*bg[n]
					acc += cg[n] * s[n]
				}
				out[ch] = acc + m.d[h]*xv
			}
		}
		m.gatedNorm(out, row[:m.inner])
	}
}

// causalConv applies the depthwise kernel to a window of kernel rows, the
// last of which is the current position, followed by SiLU.
func (m *MambaBlock) causalConv(dst, window []float32) {
	for c := range m.convDim {
		w := m.convW[c*m.kernel : (c+1)*m.kernel]
		var acc float32
		if m.convB != nil {
			acc = m.convB[c]
		}
		for k := range m.kernel {
			acc += w[k] * window[k*m.convDim+c]
		}
		dst[c] = tensor.Silu(acc)
	}
}

func (m *MambaBlock) clampStep(dt float32) float32 {
	if m.dtMin > 0 && dt < m.dtMin {
		return m.dtMin
	}
	if m.dtMax > 0 && dt > m.dtMax {
		return m.dtMax
	}
	return dt
}

// gatedNorm computes rmsnorm(y * silu(z)) per group of channels, in place.
func (m *MambaBlock) gatedNorm(y, z []float32) {
	for i := range y {
		y[i] *= tensor.Silu(z[i])
	}
	size := m.inner / m.groups
	for g := range m.groups {
		seg := y[g*size : (g+1)*size]
		tensor.RMSNorm(seg, seg, m.normW[g*size:(g+1)*size], m.eps)
	}
}
