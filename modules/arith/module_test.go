package arith

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/work"
)

func TestSquare(t *testing.T) {
	got, err := Square(context.Background(), work.Args(cty.NumberIntVal(7)))
	require.NoError(t, err)
	assert.True(t, got.RawEquals(cty.NumberIntVal(49)))

	got, err = Square(context.Background(), work.Args(cty.StringVal("3")))
	require.NoError(t, err)
	assert.True(t, got.RawEquals(cty.NumberIntVal(9)))

	_, err = Square(context.Background(), work.Call{})
	require.ErrorContains(t, err, "argument 0 is required")

	_, err = Square(context.Background(), work.Args(cty.StringVal("seven")))
	require.Error(t, err)
}

func TestAdd(t *testing.T) {
	got, err := Add(context.Background(), work.Args(cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3)))
	require.NoError(t, err)
	assert.True(t, got.RawEquals(cty.NumberIntVal(6)))

	_, err = Add(context.Background(), work.Call{})
	require.Error(t, err)
}

func TestRegister(t *testing.T) {
	reg := registry.New(&Module{})
	assert.Equal(t, []string{"add", "square"}, reg.Names())
}
