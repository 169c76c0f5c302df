package http_request

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/jobgrid/internal/work"
)

func TestHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, r.Method)
	}))
	defer srv.Close()

	got, err := HTTPRequest(context.Background(), work.Call{Kwargs: map[string]cty.Value{
		"url":    cty.StringVal(srv.URL),
		"method": cty.StringVal("post"),
	}})
	require.NoError(t, err)
	assert.True(t, got.GetAttr("status_code").RawEquals(cty.NumberIntVal(http.StatusAccepted)))
	assert.Equal(t, "POST", got.GetAttr("body").AsString())
}

func TestHTTPRequest_Errors(t *testing.T) {
	_, err := HTTPRequest(context.Background(), work.Call{})
	require.ErrorContains(t, err, "url is required")

	_, err = HTTPRequest(context.Background(), work.Call{Kwargs: map[string]cty.Value{
		"url":     cty.StringVal("http://127.0.0.1:1"),
		"timeout": cty.StringVal("later"),
	}})
	require.ErrorContains(t, err, "timeout")
}
