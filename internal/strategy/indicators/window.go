package indicators

// window is a fixed-size ring buffer of the most recent values.
type window struct {
	values []float64
	next   int
	count  int
}

func newWindow(size int) *window {
	return &window{values: make([]float64, size)}
}

func (w *window) push(v float64) {
	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
	if w.count < len(w.values) {
		w.count++
	}
}

func (w *window) len() int { return w.count }

func (w *window) full() bool { return w.count == len(w.values) }

func (w *window) sum() float64 {
	total := 0.0
	for i := 0; i < w.count; i++ {
		total += w.values[i]
	}
	return total
}

func (w *window) max() float64 {
	m := w.values[0]
	for i := 1; i < w.count; i++ {
		if w.values[i] > m {
			m = w.values[i]
		}
	}
	return m
}

func (w *window) min() float64 {
	m := w.values[0]
	for i := 1; i < w.count; i++ {
		if w.values[i] < m {
			m = w.values[i]
		}
	}
	return m
}
