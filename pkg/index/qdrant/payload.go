package qdrant

import (
	"encoding/json"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
)

// toPayload converts a generic JSON-shaped map into Qdrant values. Values
// are normalised through encoding/json first so structs and typed slices
// are accepted.
func toPayload(payload map[string]any) (map[string]*pb.Value, error) {
	if payload == nil {
		return map[string]*pb.Value{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	out := make(map[string]*pb.Value, len(generic))
	for k, v := range generic {
		val, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

func toValue(v any) (*pb.Value, error) {
	switch val := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}, nil
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}, nil
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}, nil
	case float64:
		if val == float64(int64(val)) {
			return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}, nil
		}
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}, nil
	case []any:
		list := make([]*pb.Value, len(val))
		for i, item := range val {
			conv, err := toValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = conv
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: list}}}, nil
	case map[string]any:
		fields := make(map[string]*pb.Value, len(val))
		for k, item := range val {
			conv, err := toValue(item)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = conv
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}

// fromPayload converts Qdrant values back into JSON-shaped Go values.
// Integers come back as float64 so callers see the same shapes as
// encoding/json produces.
func fromPayload(payload map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *pb.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return float64(kind.IntegerValue)
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, len(items))
		for i, item := range items {
			list[i] = fromValue(item)
		}
		return list
	case *pb.Value_StructValue:
		return fromPayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}
