package qdrant

import (
	"reflect"
	"testing"

	"github.com/Keiii25/lean-formal-agent/pkg/index"
	pb "github.com/qdrant/go-client/qdrant"
)

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]any{
		"name":      "Math Solver Agent",
		"arguments": []string{"query"},
		"agents": map[string]any{
			"math_agent": map[string]any{
				"role":        "Symbolic Math Expert",
				"agent_tools": []any{"6f1c"},
			},
		},
		"weight":  0.5,
		"count":   3,
		"enabled": true,
		"nothing": nil,
	}

	encoded, err := toPayload(in)
	if err != nil {
		t.Fatalf("toPayload: %v", err)
	}
	if _, ok := encoded["count"].GetKind().(*pb.Value_IntegerValue); !ok {
		t.Fatalf("expected whole numbers to be stored as integers, got %T", encoded["count"].GetKind())
	}

	got := fromPayload(encoded)
	want := map[string]any{
		"name":      "Math Solver Agent",
		"arguments": []any{"query"},
		"agents": map[string]any{
			"math_agent": map[string]any{
				"role":        "Symbolic Math Expert",
				"agent_tools": []any{"6f1c"},
			},
		},
		"weight":  0.5,
		"count":   float64(3),
		"enabled": true,
		"nothing": nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestToPayload_Nil(t *testing.T) {
	out, err := toPayload(nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty payload, got %v %v", out, err)
	}
}

func TestPointID(t *testing.T) {
	if got := pointID(pb.NewID("0b5b1f0e-5b7c-5c31-9b1e-3a3f9f8b2c11")); got != "0b5b1f0e-5b7c-5c31-9b1e-3a3f9f8b2c11" {
		t.Fatalf("unexpected uuid id %q", got)
	}
	if got := pointID(pb.NewIDNum(42)); got != "42" {
		t.Fatalf("unexpected numeric id %q", got)
	}
	if got := pointID(nil); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestToDistance(t *testing.T) {
	cases := map[index.Distance]pb.Distance{
		index.DistanceCosine: pb.Distance_Cosine,
		index.DistanceDot:    pb.Distance_Dot,
		index.DistanceEuclid: pb.Distance_Euclid,
		"":                   pb.Distance_Cosine,
	}
	for in, want := range cases {
		if got := toDistance(in); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

var _ index.Index = (*Store)(nil)
