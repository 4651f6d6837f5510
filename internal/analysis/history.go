package analysis

import (
	"context"
	"sync"

	"github.com/MikeSquared-Agency/chatlens/internal/store"
)

const memoryHistorySize = 50

// MemoryHistory keeps the most recent runs in memory. It is used when no
// database is configured.
type MemoryHistory struct {
	mu   sync.Mutex
	runs []store.AnalysisRun
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) RecordAnalysis(_ context.Context, run store.AnalysisRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	if len(h.runs) > memoryHistorySize {
		h.runs = h.runs[len(h.runs)-memoryHistorySize:]
	}
	return nil
}

func (h *MemoryHistory) ListAnalyses(_ context.Context, limit int) ([]store.AnalysisRun, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.runs) {
		limit = len(h.runs)
	}
	out := make([]store.AnalysisRun, 0, limit)
	for i := len(h.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.runs[i])
	}
	return out, nil
}
