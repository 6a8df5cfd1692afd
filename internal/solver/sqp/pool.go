package sqp

import "gonum.org/v1/gonum/mat"

// matrixPool recycles the dense KKT matrices and vectors allocated by the
// working-set iteration, whose dimensions change as rows enter and leave
// the active set. One pool belongs to one solve, so no locking is needed.
type matrixPool struct {
	dense []*mat.Dense
	vec   []*mat.VecDense
}

func newMatrixPool() *matrixPool {
	return &matrixPool{}
}

// getDense returns a zeroed r-by-c matrix, reusing pooled backing storage
// when capacity permits.
func (p *matrixPool) getDense(r, c int) *mat.Dense {
	if k := len(p.dense); k > 0 {
		m := p.dense[k-1]
		p.dense = p.dense[:k-1]
		m.Reset()
		m.ReuseAs(r, c)
		m.Zero()
		return m
	}
	return mat.NewDense(r, c, nil)
}

// getVecDense returns a zeroed length-n vector from the pool.
func (p *matrixPool) getVecDense(n int) *mat.VecDense {
	if k := len(p.vec); k > 0 {
		v := p.vec[k-1]
		p.vec = p.vec[:k-1]
		v.Reset()
		v.ReuseAsVec(n)
		v.Zero()
		return v
	}
	return mat.NewVecDense(n, nil)
}

// put returns matrices and vectors to the pool.
func (p *matrixPool) put(m *mat.Dense, vs ...*mat.VecDense) {
	if m != nil {
		p.dense = append(p.dense, m)
	}
	for _, v := range vs {
		if v != nil {
			p.vec = append(p.vec, v)
		}
	}
}
