package agent

import (
	"github.com/xkilldash9x/aquario/internal/env"
)

// featureCount is the size of a pooled observation plus the bias term.
func featureCount(shape [3]int, pool int) int {
	return shape[0]*(shape[1]/pool)*(shape[2]/pool) + 1
}

// Pool averages pool×pool blocks of every frame. Trailing rows and
// columns that do not fill a block are dropped.
func Pool(obs env.Observation, pool int) []uint8 {
	ph, pw := obs.Height/pool, obs.Width/pool
	out := make([]uint8, obs.Depth*ph*pw)
	area := pool * pool
	i := 0
	for d := 0; d < obs.Depth; d++ {
		frame := obs.Frame(d)
		for by := 0; by < ph; by++ {
			for bx := 0; bx < pw; bx++ {
				sum := 0
				for y := by * pool; y < (by+1)*pool; y++ {
					row := frame[y*obs.Width:]
					for x := bx * pool; x < (bx+1)*pool; x++ {
						sum += int(row[x])
					}
				}
				out[i] = uint8((sum + area/2) / area)
				i++
			}
		}
	}
	return out
}

// features scales pooled bytes to [0, 1] and appends the bias input.
func features(pooled []uint8, dst []float64) []float64 {
	if cap(dst) < len(pooled)+1 {
		dst = make([]float64, len(pooled)+1)
	}
	dst = dst[:len(pooled)+1]
	for i, v := range pooled {
		dst[i] = float64(v) / 255
	}
	dst[len(pooled)] = 1
	return dst
}
