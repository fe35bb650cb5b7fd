package record

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MarshalProto encodes r as a google.protobuf.Struct holding its wire form.
func MarshalProto(r *Record) ([]byte, error) {
	s, err := structpb.NewStruct(ToWire(r))
	if err != nil {
		return nil, fmt.Errorf("failed to convert record %s: %w", r.ID(), err)
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %s: %w", r.ID(), err)
	}
	return b, nil
}

// UnmarshalProto decodes the output of MarshalProto.
func UnmarshalProto(b []byte) (*Record, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return FromWire(s.AsMap())
}
