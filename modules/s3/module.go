// Package s3 publishes job artifacts to object storage through pre-signed
// URLs, so the job host needs no credentials.
package s3

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// httpClient is a shared client for all S3 executions to reuse TCP connections.
var httpClient = &http.Client{}

type input struct {
	Action     string
	SourcePath string
	UploadURL  string
}

// handleUpload contains the logic for uploading a file to a pre-signed URL.
func handleUpload(ctx context.Context, in input) (cty.Value, error) {
	logger := ctxlog.FromContext(ctx).With("action", "upload")

	if in.SourcePath == "" || in.UploadURL == "" {
		return cty.NilVal, fmt.Errorf("upload needs source_path and upload_url")
	}

	file, err := os.Open(in.SourcePath)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to open source file '%s': %w", in.SourcePath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to get file stats for '%s': %w", in.SourcePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, in.UploadURL, file)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to create S3 upload request: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(in.SourcePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = stat.Size()

	logger.Info("Uploading file to S3", "source", in.SourcePath, "size", stat.Size(), "contentType", contentType)

	resp, err := httpClient.Do(req)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to execute S3 upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cty.NilVal, fmt.Errorf("S3 upload failed with status: %s", resp.Status)
	}

	logger.Info("Successfully uploaded file", "status", resp.Status)

	return cty.ObjectVal(map[string]cty.Value{
		"success": cty.BoolVal(true),
		"status":  cty.StringVal(resp.Status),
		"size":    cty.NumberIntVal(stat.Size()),
	}), nil
}

// S3 dispatches on the "action" keyword. Only "upload" is supported.
func S3(ctx context.Context, call work.Call) (cty.Value, error) {
	var in input
	for name, dst := range map[string]*string{
		"action":      &in.Action,
		"source_path": &in.SourcePath,
		"upload_url":  &in.UploadURL,
	} {
		s, _, err := call.KwargString(name)
		if err != nil {
			return cty.NilVal, err
		}
		*dst = s
	}

	switch strings.ToLower(in.Action) {
	case "upload":
		return handleUpload(ctx, in)
	case "download":
		return cty.NilVal, fmt.Errorf("s3 action 'download' is not yet implemented")
	default:
		return cty.NilVal, fmt.Errorf("unknown s3 action: '%s'", in.Action)
	}
}

// Register registers the function with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register("s3", S3)
}
