package bayesian

import "gonum.org/v1/gonum/mat"

// MatrixPool reuses matrix allocations across the per-iteration surrogate
// refits. The observation count grows by at most one per iteration, so the
// pooled buffers are usually the right size already.
type MatrixPool struct {
	syms []*mat.SymDense
	vecs []*mat.VecDense
}

// NewMatrixPool creates an empty MatrixPool.
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		syms: make([]*mat.SymDense, 0, 4),
		vecs: make([]*mat.VecDense, 0, 4),
	}
}

// GetSymDense returns a zeroed n x n symmetric matrix, reusing a pooled one
// when its order matches.
func (p *MatrixPool) GetSymDense(n int) *mat.SymDense {
	for i, m := range p.syms {
		if m.SymmetricDim() == n {
			p.syms = append(p.syms[:i], p.syms[i+1:]...)
			m.Zero()
			return m
		}
	}
	return mat.NewSymDense(n, nil)
}

// PutSymDense returns a symmetric matrix to the pool.
func (p *MatrixPool) PutSymDense(m *mat.SymDense) {
	p.syms = append(p.syms, m)
}

// GetVecDense returns a zeroed length-n vector, reusing a pooled one when its
// length matches.
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	for i, v := range p.vecs {
		if v.Len() == n {
			p.vecs = append(p.vecs[:i], p.vecs[i+1:]...)
			v.Zero()
			return v
		}
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool.
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	p.vecs = append(p.vecs, v)
}
