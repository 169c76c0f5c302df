package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

type doubleModule struct{}

func (doubleModule) Register(r *Registry) {
	r.Register("double", func(_ context.Context, call work.Call) (cty.Value, error) {
		return call.Arg(0).Multiply(cty.NumberIntVal(2)), nil
	})
}

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterAndCall(t *testing.T) {
	r := New(doubleModule{})
	assert.Equal(t, []string{"double"}, r.Names())

	d, err := work.NewDescriptor("double", work.Args(cty.NumberIntVal(21)))
	require.NoError(t, err)
	v, err := r.Call(testContext(), d)
	require.NoError(t, err)
	assert.True(t, v.Equals(cty.NumberIntVal(42)).True())
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := New(doubleModule{})
	assert.Panics(t, func() { doubleModule{}.Register(r) })
}

func TestCallCapturesFailures(t *testing.T) {
	r := New()
	r.Register("fail", func(context.Context, work.Call) (cty.Value, error) {
		return cty.NilVal, errors.New("no data")
	})
	r.Register("panic", func(context.Context, work.Call) (cty.Value, error) {
		panic("index out of range")
	})

	for name, want := range map[string]string{
		"fail":    "fail: no data",
		"panic":   "panic: panic: index out of range",
		"missing": `missing: unknown work function: "missing"`,
	} {
		t.Run(name, func(t *testing.T) {
			d, err := work.NewDescriptor(name, work.Args())
			require.NoError(t, err)
			_, err = r.Call(testContext(), d)
			var ev *work.ErrorValue
			require.True(t, errors.As(err, &ev))
			assert.Equal(t, want, ev.Error())
		})
	}
}

func TestValidate(t *testing.T) {
	r := New(doubleModule{})
	ctx := testContext()
	assert.NoError(t, r.Validate(ctx, "double", "double"))
	assert.ErrorContains(t, r.Validate(ctx, "double", "triple", "half"), "triple, half")
}
