package eventcore

import "testing"

func TestEventCodecRoundTrip(t *testing.T) {
	c := NewEventCodec()

	args := []interface{}{"hello", int64(42), 3.5, true, nil}
	packed, err := c.Pack(args)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	unpacked, err := c.Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if len(unpacked) != len(args) {
		t.Fatalf("expected %d args back, got %d", len(args), len(unpacked))
	}
	if unpacked[0] != "hello" {
		t.Errorf("expected 'hello', got %v", unpacked[0])
	}
}

func TestEventCodecEmptyArgs(t *testing.T) {
	c := NewEventCodec()
	packed, err := c.Pack(nil)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	unpacked, err := c.Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if len(unpacked) != 0 {
		t.Errorf("expected no args, got %v", unpacked)
	}
}
