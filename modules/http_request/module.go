package http_request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// DefaultTimeout bounds a request when no "timeout" keyword is given.
const DefaultTimeout = 30 * time.Second

// httpClient is shared by all executions to reuse TCP connections.
var httpClient = &http.Client{}

// HTTPRequest performs kwargs "method" (default GET) on "url" and returns the
// status code and body. Any status is a successful result.
func HTTPRequest(ctx context.Context, call work.Call) (cty.Value, error) {
	url, ok, err := call.KwargString("url")
	if err != nil {
		return cty.NilVal, err
	}
	if !ok {
		return cty.NilVal, fmt.Errorf("http_request: url is required")
	}
	method, ok, err := call.KwargString("method")
	if err != nil {
		return cty.NilVal, err
	}
	if !ok {
		method = http.MethodGet
	}
	timeout := DefaultTimeout
	if s, ok, err := call.KwargString("timeout"); err != nil {
		return cty.NilVal, err
	} else if ok {
		if timeout, err = time.ParseDuration(s); err != nil {
			return cty.NilVal, fmt.Errorf("http_request: timeout: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := ctxlog.FromContext(ctx)
	logger.Info("Making HTTP request", "method", method, "url", url)

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, nil)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	logger.Info("Received HTTP response", "status", resp.Status)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to read response body: %w", err)
	}

	return cty.ObjectVal(map[string]cty.Value{
		"status_code": cty.NumberIntVal(int64(resp.StatusCode)),
		"body":        cty.StringVal(string(bodyBytes)),
	}), nil
}

// Register registers the function with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register("http_request", HTTPRequest)
}
