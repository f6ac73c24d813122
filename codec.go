package eventcore

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// EventCodec packs and unpacks the positional-tuple event args carried in
// a WireMessage's args field. It mirrors the original source's msgpack
// wrapper: bin type for byte strings, no Python-list round-trip games.
type EventCodec struct {
	handle *codec.MsgpackHandle
}

// NewEventCodec builds the default codec.
func NewEventCodec() *EventCodec {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = false
	return &EventCodec{handle: h}
}

// Pack encodes a positional tuple (a Go slice of arbitrary values) into
// msgpack bytes.
func (c *EventCodec) Pack(args []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, c.handle)
	if err := enc.Encode(args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unpack decodes msgpack bytes back into a positional tuple.
func (c *EventCodec) Unpack(data []byte) ([]interface{}, error) {
	var out []interface{}
	dec := codec.NewDecoder(bytes.NewReader(data), c.handle)
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
