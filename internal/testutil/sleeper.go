// Package testutil holds work-function fixtures shared by tests of the
// backends and the app.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// SleeperFunction is the name the sleeper registers under.
const SleeperFunction = "sleep"

// ExecutionRecord holds the start and end times of one call.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Overlapped reports whether two calls ran at the same time.
func Overlapped(a, b ExecutionRecord) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// SleeperModule registers a work function that sleeps, records its call by
// the "id" keyword and tracks how many calls were live at once.
type SleeperModule struct {
	sleep time.Duration

	mu      sync.Mutex
	records map[string]ExecutionRecord
	live    int
	peak    int
}

// NewSleeperModule creates a sleeper whose calls last d.
func NewSleeperModule(d time.Duration) *SleeperModule {
	return &SleeperModule{sleep: d, records: make(map[string]ExecutionRecord)}
}

// Register implements registry.Module.
func (m *SleeperModule) Register(r *registry.Registry) {
	r.Register(SleeperFunction, m.run)
}

func (m *SleeperModule) run(ctx context.Context, call work.Call) (cty.Value, error) {
	id, _, err := call.KwargString("id")
	if err != nil {
		return cty.NilVal, err
	}

	m.mu.Lock()
	m.live++
	if m.live > m.peak {
		m.peak = m.live
	}
	m.mu.Unlock()

	start := time.Now()
	select {
	case <-time.After(m.sleep):
	case <-ctx.Done():
	}
	end := time.Now()

	m.mu.Lock()
	m.live--
	m.records[id] = ExecutionRecord{Start: start, End: end}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return cty.NilVal, err
	}
	return cty.StringVal(id), nil
}

// Records returns a copy of the recorded calls by id.
func (m *SleeperModule) Records() map[string]ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ExecutionRecord, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out
}

// Peak returns the highest number of simultaneous calls seen.
func (m *SleeperModule) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}
