package work

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Func is a work function. It receives the decoded call and returns a result
// value or an error, which the core captures as an ErrorValue.
type Func func(ctx context.Context, call Call) (cty.Value, error)

// Call holds the arguments of one invocation.
type Call struct {
	Args   []cty.Value
	Kwargs map[string]cty.Value
}

// Args builds a Call from positional arguments.
func Args(args ...cty.Value) Call {
	return Call{Args: args}
}

// With returns a copy of the call with an additional keyword argument.
func (c Call) With(key string, v cty.Value) Call {
	kwargs := make(map[string]cty.Value, len(c.Kwargs)+1)
	maps.Copy(kwargs, c.Kwargs)
	kwargs[key] = v
	return Call{Args: slices.Clone(c.Args), Kwargs: kwargs}
}

// Arg returns the positional argument at i, or a null value when absent.
func (c Call) Arg(i int) cty.Value {
	if i < 0 || i >= len(c.Args) {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	return c.Args[i]
}

// Kwarg returns the keyword argument by name.
func (c Call) Kwarg(name string) (cty.Value, bool) {
	v, ok := c.Kwargs[name]
	return v, ok
}

// KwargString returns a keyword argument converted to a string. ok is false
// when the argument is absent or null.
func (c Call) KwargString(name string) (s string, ok bool, err error) {
	v, present := c.Kwargs[name]
	if !present || v.IsNull() {
		return "", false, nil
	}
	sv, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", false, fmt.Errorf("argument %q: %w", name, err)
	}
	if !sv.IsKnown() || sv.IsNull() {
		return "", false, nil
	}
	return sv.AsString(), true, nil
}

// Descriptor is the immutable description of one job: which function to call
// and with which arguments. Values must be wholly known and unmarked so that
// they survive the payload codec.
type Descriptor struct {
	function string
	args     []cty.Value
	kwargs   map[string]cty.Value
}

// NewDescriptor validates and copies its inputs.
func NewDescriptor(function string, call Call) (Descriptor, error) {
	function = strings.TrimSpace(function)
	if function == "" {
		return Descriptor{}, errors.New("work function name is required")
	}
	for i, v := range call.Args {
		if err := checkSerializable(v); err != nil {
			return Descriptor{}, fmt.Errorf("argument %d of %s: %w", i, function, err)
		}
	}
	for k, v := range call.Kwargs {
		if err := checkSerializable(v); err != nil {
			return Descriptor{}, fmt.Errorf("keyword %q of %s: %w", k, function, err)
		}
	}
	return Descriptor{
		function: function,
		args:     slices.Clone(call.Args),
		kwargs:   maps.Clone(call.Kwargs),
	}, nil
}

// Function returns the registry key of the work function.
func (d Descriptor) Function() string {
	return d.function
}

// Call returns a copy of the arguments.
func (d Descriptor) Call() Call {
	return Call{Args: slices.Clone(d.args), Kwargs: maps.Clone(d.kwargs)}
}

func checkSerializable(v cty.Value) error {
	if isNil(v) {
		return errors.New("value is nil")
	}
	if !v.IsWhollyKnown() {
		return errors.New("value is not wholly known")
	}
	if v.ContainsMarked() {
		return errors.New("value has marks")
	}
	return nil
}

func isNil(v cty.Value) bool {
	return v.Type() == cty.NilType
}
