package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/events"
	"github.com/specialistvlad/jobgrid/internal/work"
)

// Handle tracks one submitted job until its result is collected.
type Handle struct {
	ID      string
	Name    string
	LogPath string

	client    Client
	freshness time.Duration
	sink      events.Sink
	now       func() time.Time

	mu      sync.Mutex
	status  Status
	fetched time.Time
}

// NewHandle attaches to job id. Status reads younger than freshness are
// answered from cache.
func NewHandle(client Client, id, name, logPath string, freshness time.Duration, sink events.Sink) *Handle {
	return &Handle{
		ID:        id,
		Name:      name,
		LogPath:   logPath,
		client:    client,
		freshness: freshness,
		sink:      events.OrLog(sink),
		now:       time.Now,
	}
}

// Status returns the job status, querying the scheduler only when the
// cached value is older than the freshness window.
func (h *Handle) Status(ctx context.Context) (Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.fetched.IsZero() && h.now().Sub(h.fetched) < h.freshness {
		return h.status, nil
	}
	st, err := h.client.Query(ctx, h.ID)
	if err != nil {
		return 0, err
	}
	h.status, h.fetched = st, h.now()
	return st, nil
}

// Wait polls every interval until the job completes. It returns
// work.ErrJobStopped when the job is held, suspended or removed, a
// *work.NonZeroExitError when the log reports a failing exit, and
// work.ErrTimedOut once timeout elapses. A negative timeout waits until ctx
// is done. Timing out does not remove the job.
func (h *Handle) Wait(ctx context.Context, timeout, interval time.Duration) error {
	logger := ctxlog.FromContext(ctx).With("job", h.Name, "id", h.ID)
	var deadline time.Time
	if timeout >= 0 {
		deadline = h.now().Add(timeout)
	}

	for {
		st, err := h.Status(ctx)
		if err != nil {
			return fmt.Errorf("query job %s: %w", h.ID, err)
		}
		switch {
		case st == Completed:
			code, ok, err := h.ExitCode()
			if err != nil {
				return err
			}
			if ok && code != 0 {
				return &work.NonZeroExitError{JobID: h.ID, Code: code}
			}
			logger.Debug("Job completed.")
			return nil
		case st.Stopped():
			return fmt.Errorf("%w: job %s is %s", work.ErrJobStopped, h.ID, st)
		}

		h.sink.Emit(ctx, events.Event{Kind: events.Polling, Source: Name, Job: h.Name, Status: st.String(), Time: h.now()})
		if !deadline.IsZero() && !h.now().Before(deadline) {
			return fmt.Errorf("%w: job %s still %s after %v", work.ErrTimedOut, h.ID, st, timeout)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Remove asks the scheduler to drop the job. It is best effort: the job may
// already have finished.
func (h *Handle) Remove(ctx context.Context) error {
	if err := h.client.Remove(ctx, h.ID); err != nil {
		return err
	}
	h.mu.Lock()
	h.status, h.fetched = Removed, h.now()
	h.mu.Unlock()
	return nil
}

var returnValueRe = regexp.MustCompile(`\(return value (-?\d+)\)`)

// ExitCode returns the last exit code recorded in the job's event log.
func (h *Handle) ExitCode() (int, bool, error) {
	if h.LogPath == "" {
		return 0, false, nil
	}
	data, err := os.ReadFile(h.LogPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read job log: %w", err)
	}
	matches := returnValueRe.FindAllSubmatch(data, -1)
	if len(matches) == 0 {
		return 0, false, nil
	}
	code, err := strconv.Atoi(string(matches[len(matches)-1][1]))
	if err != nil {
		return 0, false, err
	}
	return code, true, nil
}
