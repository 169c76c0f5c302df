package events

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// SocketIOEvent is the socket.io event name lifecycle events are emitted under.
const SocketIOEvent = "job_event"

// SocketIOConfig configures a SocketIOSink.
type SocketIOConfig struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// SocketIOSink streams events to a socket.io server, e.g. a live dashboard.
type SocketIOSink struct {
	client *socket.Socket
}

// DialSocketIO connects to the server and waits for the connection to be
// established or fail.
func DialSocketIO(ctx context.Context, cfg SocketIOConfig) (*SocketIOSink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Event sink connected", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &SocketIOSink{client: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", timeout)
	}
}

// Emit implements Sink. Events are dropped while the connection is down.
func (s *SocketIOSink) Emit(ctx context.Context, ev Event) {
	if !s.client.Connected() {
		ctxlog.FromContext(ctx).Debug("Event sink disconnected, dropping event.", "kind", ev.Kind, "job", ev.Job)
		return
	}
	s.client.Emit(SocketIOEvent, payload(ev))
}

// Close disconnects from the server.
func (s *SocketIOSink) Close() error {
	s.client.Disconnect()
	return nil
}

func payload(ev Event) map[string]any {
	out := map[string]any{
		"kind":   string(ev.Kind),
		"source": ev.Source,
		"job":    ev.Job,
		"time":   ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Batch != "" {
		out["batch"] = ev.Batch
	}
	if ev.Status != "" {
		out["status"] = ev.Status
	}
	if ev.Attempt > 0 {
		out["attempt"] = ev.Attempt
	}
	if ev.Err != nil {
		out["error"] = ev.Err.Error()
	}
	return out
}
