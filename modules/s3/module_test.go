package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/jobgrid/internal/work"
)

func TestS3Upload(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"ok":true}`), 0o644))

	got, err := S3(context.Background(), work.Call{Kwargs: map[string]cty.Value{
		"action":      cty.StringVal("upload"),
		"source_path": cty.StringVal(src),
		"upload_url":  cty.StringVal(srv.URL + "/bucket/report.json"),
	}})
	require.NoError(t, err)
	assert.True(t, got.GetAttr("success").True())
	assert.Equal(t, `{"ok":true}`, gotBody)
	assert.Equal(t, "application/json", gotType)
}

func TestS3_UnknownAction(t *testing.T) {
	_, err := S3(context.Background(), work.Call{Kwargs: map[string]cty.Value{
		"action": cty.StringVal("sync"),
	}})
	require.ErrorContains(t, err, "unknown s3 action")
}
