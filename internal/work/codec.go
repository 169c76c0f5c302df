package work

import (
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// PayloadVersion is the schema version written into every payload.
const PayloadVersion = 1

type descriptorPayload struct {
	Version  int             `json:"version"`
	Function string          `json:"function"`
	Type     json.RawMessage `json:"type"`
	Value    json.RawMessage `json:"value"`
}

type outcomePayload struct {
	Version int             `json:"version"`
	OK      bool            `json:"ok"`
	Type    json.RawMessage `json:"type,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   *errorPayload   `json:"error,omitempty"`
}

type errorPayload struct {
	Function string `json:"function"`
	Message  string `json:"message"`
	Stack    string `json:"stack,omitempty"`
}

// MarshalBinary encodes the descriptor. Equal descriptors encode to identical bytes.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	args := cty.EmptyTupleVal
	if len(d.args) > 0 {
		args = cty.TupleVal(d.args)
	}
	kwargs := cty.EmptyObjectVal
	if len(d.kwargs) > 0 {
		kwargs = cty.ObjectVal(d.kwargs)
	}
	ty, val, err := marshalValue(cty.ObjectVal(map[string]cty.Value{
		"args":   args,
		"kwargs": kwargs,
	}))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.function, err)
	}
	return json.Marshal(descriptorPayload{
		Version:  PayloadVersion,
		Function: d.function,
		Type:     ty,
		Value:    val,
	})
}

// UnmarshalDescriptor decodes a payload written by Descriptor.MarshalBinary.
func UnmarshalDescriptor(data []byte) (Descriptor, error) {
	var p descriptorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if p.Version != PayloadVersion {
		return Descriptor{}, fmt.Errorf("unsupported descriptor version %d", p.Version)
	}
	v, err := unmarshalValue(p.Type, p.Value)
	if err != nil {
		return Descriptor{}, fmt.Errorf("decode %s arguments: %w", p.Function, err)
	}
	if !v.Type().IsObjectType() || !v.Type().HasAttribute("args") || !v.Type().HasAttribute("kwargs") {
		return Descriptor{}, fmt.Errorf("decode %s arguments: malformed value of type %s", p.Function, v.Type().FriendlyName())
	}

	var call Call
	for it := v.GetAttr("args").ElementIterator(); it.Next(); {
		_, el := it.Element()
		call.Args = append(call.Args, el)
	}
	kwargs := v.GetAttr("kwargs")
	if kwargs.LengthInt() > 0 {
		call.Kwargs = make(map[string]cty.Value, kwargs.LengthInt())
		for it := kwargs.ElementIterator(); it.Next(); {
			k, el := it.Element()
			call.Kwargs[k.AsString()] = el
		}
	}
	return NewDescriptor(p.Function, call)
}

// MarshalResult encodes a successful outcome.
func MarshalResult(v cty.Value) ([]byte, error) {
	ty, val, err := marshalValue(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return json.Marshal(outcomePayload{Version: PayloadVersion, OK: true, Type: ty, Value: val})
}

// MarshalError encodes a failed outcome.
func MarshalError(ev *ErrorValue) ([]byte, error) {
	return json.Marshal(outcomePayload{
		Version: PayloadVersion,
		Error: &errorPayload{
			Function: ev.Function,
			Message:  ev.Message,
			Stack:    ev.Stack,
		},
	})
}

// UnmarshalOutcome decodes an outcome. A failed outcome is returned as an
// *ErrorValue error; any other error means the payload itself is unusable.
func UnmarshalOutcome(data []byte) (cty.Value, error) {
	var p outcomePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return cty.NilVal, fmt.Errorf("decode outcome: %w", err)
	}
	if p.Version != PayloadVersion {
		return cty.NilVal, fmt.Errorf("unsupported outcome version %d", p.Version)
	}
	if !p.OK {
		if p.Error == nil {
			return cty.NilVal, fmt.Errorf("decode outcome: failure without error record")
		}
		return cty.NilVal, &ErrorValue{Function: p.Error.Function, Message: p.Error.Message, Stack: p.Error.Stack}
	}
	return unmarshalValue(p.Type, p.Value)
}

func marshalValue(v cty.Value) (json.RawMessage, json.RawMessage, error) {
	if isNil(v) {
		v = cty.NullVal(cty.DynamicPseudoType)
	}
	ty, err := ctyjson.MarshalType(v.Type())
	if err != nil {
		return nil, nil, err
	}
	val, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, nil, err
	}
	return ty, val, nil
}

func unmarshalValue(tyJSON, valJSON json.RawMessage) (cty.Value, error) {
	ty, err := ctyjson.UnmarshalType(tyJSON)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(valJSON, ty)
}
