package state

import (
	"sync"

	"gonum.org/v1/gonum/stat"
)

const defaultHistoryWindow = 60

// LoadHistory keeps a sliding window of throughput samples and projects the next one
// with a least-squares line. Forecasts are reported, never acted on.
type LoadHistory struct {
	mu     sync.Mutex
	window int
	tps    []float64
}

func NewLoadHistory(window int) *LoadHistory {
	if window < 2 {
		window = defaultHistoryWindow
	}
	return &LoadHistory{window: window}
}

func (h *LoadHistory) Record(tps float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tps = append(h.tps, tps)
	if len(h.tps) > h.window {
		h.tps = h.tps[len(h.tps)-h.window:]
	}
}

func (h *LoadHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tps)
}

// Forecast projects throughput steps samples past the newest one. It needs at least two
// samples and never returns a negative rate.
func (h *LoadHistory) Forecast(steps int) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.tps) < 2 {
		return 0, false
	}
	xs := make([]float64, len(h.tps))
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, h.tps, nil, false)
	next := alpha + beta*float64(len(h.tps)-1+steps)
	if next < 0 {
		next = 0
	}
	return next, true
}
