package forecast

import (
	"math"
	"sort"
)

// nelderMead minimises f from x0 using the downhill simplex method.
// Returns the best point and its value.
func nelderMead(f func([]float64) float64, x0 []float64, step float64, maxIter int, tol float64) ([]float64, float64) {
	n := len(x0)
	const (
		reflect  = 1.0
		expand   = 2.0
		contract = 0.5
		shrink   = 0.5
	)

	type vertex struct {
		x []float64
		v float64
	}
	eval := func(x []float64) float64 {
		v := f(x)
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}

	simplex := make([]vertex, n+1)
	simplex[0] = vertex{x: append([]float64(nil), x0...), v: eval(x0)}
	for i := 0; i < n; i++ {
		x := append([]float64(nil), x0...)
		x[i] += step
		simplex[i+1] = vertex{x: x, v: eval(x)}
	}

	centroid := make([]float64, n)
	point := func(from []float64, coef float64) []float64 {
		// centroid + coef*(centroid - from)
		out := make([]float64, n)
		for j := range out {
			out[j] = centroid[j] + coef*(centroid[j]-from[j])
		}
		return out
	}

	for iter := 0; iter < maxIter; iter++ {
		sort.Slice(simplex, func(i, j int) bool { return simplex[i].v < simplex[j].v })
		best, worst := simplex[0], simplex[n]
		if math.Abs(worst.v-best.v) <= tol*(math.Abs(best.v)+tol) {
			break
		}

		for j := range centroid {
			centroid[j] = 0
			for i := 0; i < n; i++ {
				centroid[j] += simplex[i].x[j]
			}
			centroid[j] /= float64(n)
		}

		xr := point(worst.x, reflect)
		vr := eval(xr)
		switch {
		case vr < best.v:
			xe := point(worst.x, expand)
			if ve := eval(xe); ve < vr {
				simplex[n] = vertex{x: xe, v: ve}
			} else {
				simplex[n] = vertex{x: xr, v: vr}
			}
		case vr < simplex[n-1].v:
			simplex[n] = vertex{x: xr, v: vr}
		default:
			xc := point(worst.x, -contract)
			if vc := eval(xc); vc < worst.v {
				simplex[n] = vertex{x: xc, v: vc}
				continue
			}
			for i := 1; i <= n; i++ {
				for j := range simplex[i].x {
					simplex[i].x[j] = best.x[j] + shrink*(simplex[i].x[j]-best.x[j])
				}
				simplex[i].v = eval(simplex[i].x)
			}
		}
	}

	sort.Slice(simplex, func(i, j int) bool { return simplex[i].v < simplex[j].v })
	return simplex[0].x, simplex[0].v
}
