package features

import "math"

// slidingWindow keeps the most recent size values in a ring.
type slidingWindow struct {
	buf  []float64
	next int
	n    int
}

func newSlidingWindow(size int) *slidingWindow {
	return &slidingWindow{buf: make([]float64, size)}
}

func (w *slidingWindow) Push(v float64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

// At returns the k-th most recent value; At(0) is the newest.
func (w *slidingWindow) At(k int) float64 {
	idx := (w.next - 1 - k) % len(w.buf)
	if idx < 0 {
		idx += len(w.buf)
	}
	return w.buf[idx]
}

func (w *slidingWindow) Mean() float64 {
	if w.n == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := 0; i < w.n; i++ {
		sum += w.buf[i]
	}
	return sum / float64(w.n)
}

// SampleStd is the n-1 standard deviation; NaN below two values.
func (w *slidingWindow) SampleStd() float64 {
	if w.n < 2 {
		return math.NaN()
	}
	m := w.Mean()
	ss := 0.0
	for i := 0; i < w.n; i++ {
		d := w.buf[i] - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(w.n-1))
}
