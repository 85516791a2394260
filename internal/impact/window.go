package impact

// window is a fixed-capacity FIFO of recent samples.
type window struct {
	buf  []float64
	head int
	n    int
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{buf: make([]float64, size)}
}

func (w *window) push(v float64) {
	w.buf[(w.head+w.n)%len(w.buf)] = v
	if w.n < len(w.buf) {
		w.n++
	} else {
		w.head = (w.head + 1) % len(w.buf)
	}
}

func (w *window) len() int { return w.n }

func (w *window) mean() float64 {
	if w.n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < w.n; i++ {
		sum += w.buf[(w.head+i)%len(w.buf)]
	}
	return sum / float64(w.n)
}

// values returns the samples oldest first.
func (w *window) values() []float64 {
	out := make([]float64, w.n)
	for i := range out {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}
