package env_vars

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/jobgrid/internal/work"
)

func TestEnvVars(t *testing.T) {
	t.Setenv("JOBGRID_TEST_A", "1")
	t.Setenv("JOBGRID_TEST_B", "2")

	got, err := EnvVars(context.Background(), work.Call{Kwargs: map[string]cty.Value{
		"prefix": cty.StringVal("JOBGRID_TEST_"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, got.LengthInt())
	assert.Equal(t, "1", got.Index(cty.StringVal("JOBGRID_TEST_A")).AsString())

	got, err = EnvVars(context.Background(), work.Call{Kwargs: map[string]cty.Value{
		"prefix": cty.StringVal("JOBGRID_NO_SUCH_PREFIX_"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, got.LengthInt())
}
