// Package gpu keeps a reservation table of accelerator memory so concurrent
// submissions never claim the same free capacity twice.
package gpu

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/work"
)

// Device is one accelerator and its memory, in MiB.
type Device struct {
	Index   int
	TotalMB int
	FreeMB  int
}

// Reservation is a claim on a set of devices. Release it exactly once.
type Reservation struct {
	Devices []int
	PerMB   int
	table   *Table
	once    sync.Once
}

// Release returns the claimed memory to the table.
func (r *Reservation) Release() {
	r.once.Do(func() { r.table.release(r) })
}

// Table accounts claimed against free memory per device.
type Table struct {
	mu      sync.Mutex
	devices []Device
	claimed map[int]int
	changed chan struct{}
}

// NewTable builds a table from a device inventory, usually from Probe.
func NewTable(devices []Device) *Table {
	devs := append([]Device(nil), devices...)
	sort.Slice(devs, func(i, j int) bool { return devs[i].Index < devs[j].Index })
	return &Table{
		devices: devs,
		claimed: make(map[int]int),
		changed: make(chan struct{}),
	}
}

// Devices returns the inventory with current availability.
func (t *Table) Devices() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Device, len(t.devices))
	for i, d := range t.devices {
		d.FreeMB -= t.claimed[d.Index]
		out[i] = d
	}
	return out
}

// Reserve claims minMB on each of count devices, preferring the lowest
// indices. When no set qualifies it waits for releases up to timeout; a
// zero timeout fails at once. It returns work.ErrNoDevice when the wait
// ends without capacity, or immediately when the request could never fit.
func (t *Table) Reserve(ctx context.Context, count, minMB int, timeout time.Duration) (*Reservation, error) {
	if count < 1 {
		return nil, fmt.Errorf("gpu count must be positive, got %d", count)
	}
	logger := ctxlog.FromContext(ctx).With("gpus", count, "min_mb", minMB)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		t.mu.Lock()
		if !t.feasible(count, minMB) {
			t.mu.Unlock()
			return nil, fmt.Errorf("%w: need %d devices with %d MiB, inventory has %d devices", work.ErrNoDevice, count, minMB, len(t.devices))
		}
		if picked := t.pick(count, minMB); picked != nil {
			for _, idx := range picked {
				t.claimed[idx] += minMB
			}
			t.mu.Unlock()
			logger.Debug("Reserved accelerators.", "devices", picked)
			return &Reservation{Devices: picked, PerMB: minMB, table: t}, nil
		}
		changed := t.changed
		t.mu.Unlock()

		if timeout == 0 {
			return nil, fmt.Errorf("%w: %d devices with %d MiB free", work.ErrNoDevice, count, minMB)
		}
		logger.Debug("Waiting for accelerator capacity.")
		select {
		case <-changed:
		case <-expired:
			return nil, fmt.Errorf("%w: no %d devices with %d MiB freed within %v", work.ErrNoDevice, count, minMB, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// pick returns the lowest-index devices with enough unclaimed memory.
func (t *Table) pick(count, minMB int) []int {
	var picked []int
	for _, d := range t.devices {
		if d.FreeMB-t.claimed[d.Index] >= minMB {
			picked = append(picked, d.Index)
			if len(picked) == count {
				return picked
			}
		}
	}
	return nil
}

// feasible reports whether the request fits an empty table.
func (t *Table) feasible(count, minMB int) bool {
	n := 0
	for _, d := range t.devices {
		if d.FreeMB >= minMB {
			n++
		}
	}
	return n >= count
}

func (t *Table) release(r *Reservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, idx := range r.Devices {
		t.claimed[idx] -= r.PerMB
		if t.claimed[idx] <= 0 {
			delete(t.claimed, idx)
		}
	}
	close(t.changed)
	t.changed = make(chan struct{})
}
