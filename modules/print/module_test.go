package print

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/work"
)

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	kwargs := map[string]cty.Value{"b": cty.StringVal("2"), "a": cty.StringVal("1")}
	got, err := Print(ctx, work.Call{Kwargs: kwargs})
	require.NoError(t, err)
	assert.True(t, got.RawEquals(cty.ObjectVal(kwargs)))
	assert.Contains(t, buf.String(), "Printing input")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte(" a=")), bytes.Index(buf.Bytes(), []byte(" b=")))

	got, err = Print(ctx, work.Call{})
	require.NoError(t, err)
	assert.True(t, got.RawEquals(cty.EmptyObjectVal))
}
