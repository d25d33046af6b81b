package pb

import "encoding/json"

// Codec is the wire encoding ControlService is served and dialed with.
// gRPC's default codec requires a proto.Message, but these message
// types are hand-authored plain structs (see the package doc in
// control.go), so the daemon forces this JSON codec on both the server
// and any client stub instead of running anything through protoc.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string { return "json" }
