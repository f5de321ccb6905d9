package method

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/embedbridge/internal/runtime/jsoncodec"
)

// Codec converts calls and results to channel payloads. An empty result
// payload always means "not implemented".
type Codec interface {
	EncodeCall(Call) ([]byte, error)
	DecodeCall([]byte) (Call, error)
	EncodeSuccess(result any) ([]byte, error)
	EncodeError(*Error) ([]byte, error)
	// DecodeResult returns the success value, or a *Error, or ErrNotImplemented.
	DecodeResult([]byte) (any, error)
}

var errMalformedResult = errors.New("method: malformed result envelope")

// JSONCodec encodes calls as {"method": m, "args": a}, successes as [result]
// and errors as [code, message, details].
type JSONCodec struct{}

type jsonCall struct {
	Method string `json:"method"`
	Args   any    `json:"args"`
}

func (JSONCodec) EncodeCall(c Call) ([]byte, error) {
	return jsoncodec.Marshal(jsonCall{Method: c.Method, Args: c.Arguments})
}

func (JSONCodec) DecodeCall(payload []byte) (Call, error) {
	var jc jsonCall
	if err := jsoncodec.Unmarshal(payload, &jc); err != nil {
		return Call{}, fmt.Errorf("method: decode call: %w", err)
	}
	if jc.Method == "" {
		return Call{}, errors.New("method: call without method name")
	}
	return Call{Method: jc.Method, Arguments: jc.Args}, nil
}

func (JSONCodec) EncodeSuccess(result any) ([]byte, error) {
	return jsoncodec.Marshal([]any{result})
}

func (JSONCodec) EncodeError(e *Error) ([]byte, error) {
	return jsoncodec.Marshal([]any{e.Code, e.Message, e.Details})
}

func (JSONCodec) DecodeResult(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, ErrNotImplemented
	}
	var envelope []any
	if err := jsoncodec.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("method: decode result: %w", err)
	}
	return envelopeResult(envelope)
}

// ProtoCodec encodes the same envelopes as JSONCodec using protobuf's
// structpb well-known types. Arguments and results must be representable
// as structpb values.
type ProtoCodec struct{}

func (ProtoCodec) EncodeCall(c Call) ([]byte, error) {
	args, err := structpb.NewValue(normalize(c.Arguments))
	if err != nil {
		return nil, fmt.Errorf("method: encode arguments: %w", err)
	}
	return proto.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		"method": structpb.NewStringValue(c.Method),
		"args":   args,
	}})
}

func (ProtoCodec) DecodeCall(payload []byte) (Call, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return Call{}, fmt.Errorf("method: decode call: %w", err)
	}
	name := s.GetFields()["method"].GetStringValue()
	if name == "" {
		return Call{}, errors.New("method: call without method name")
	}
	var args any
	if v, ok := s.GetFields()["args"]; ok {
		args = v.AsInterface()
	}
	return Call{Method: name, Arguments: args}, nil
}

func (ProtoCodec) EncodeSuccess(result any) ([]byte, error) {
	return encodeList(result)
}

func (ProtoCodec) EncodeError(e *Error) ([]byte, error) {
	return encodeList(e.Code, e.Message, e.Details)
}

func (ProtoCodec) DecodeResult(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, ErrNotImplemented
	}
	var list structpb.ListValue
	if err := proto.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("method: decode result: %w", err)
	}
	return envelopeResult(list.AsSlice())
}

func encodeList(values ...any) ([]byte, error) {
	normalized := make([]any, len(values))
	for i, v := range values {
		normalized[i] = normalize(v)
	}
	list, err := structpb.NewList(normalized)
	if err != nil {
		return nil, fmt.Errorf("method: encode result: %w", err)
	}
	return proto.Marshal(list)
}

// normalize widens map[string]string, which structpb does not accept.
func normalize(v any) any {
	if m, ok := v.(map[string]string); ok {
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out
	}
	return v
}

func envelopeResult(envelope []any) (any, error) {
	switch len(envelope) {
	case 1:
		return envelope[0], nil
	case 3:
		code, _ := envelope[0].(string)
		message, _ := envelope[1].(string)
		return nil, &Error{Code: code, Message: message, Details: envelope[2]}
	default:
		return nil, fmt.Errorf("%w: %d elements", errMalformedResult, len(envelope))
	}
}
