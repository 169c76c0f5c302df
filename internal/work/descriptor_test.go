package work

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestCallKwargString(t *testing.T) {
	call := Call{Kwargs: map[string]cty.Value{
		"name":  cty.StringVal("grid"),
		"count": cty.NumberIntVal(3),
		"none":  cty.NullVal(cty.String),
		"list":  cty.ListVal([]cty.Value{cty.StringVal("a")}),
	}}

	s, ok, err := call.KwargString("name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "grid", s)

	s, ok, err = call.KwargString("count")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", s)

	_, ok, err = call.KwargString("none")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = call.KwargString("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = call.KwargString("list")
	require.Error(t, err)
}
