package codec

import (
	"reflect"
	"testing"
)

// serializableSamples covers the serializable value domain:
// null | bool | int | float | string | list | map.
func serializableSamples() []any {
	return []any{
		nil,
		true,
		float64(42), // JSON/msgpack both round-trip numbers as float64 into `any`
		"hello",
		[]any{"a", float64(1), false},
		map[string]any{"k": "v", "n": float64(3)},
	}
}

func TestRoundTrip(t *testing.T) {
	codecs := []Codec{JSON{}, Binary{}}
	for _, c := range codecs {
		for _, v := range serializableSamples() {
			data, err := c.Encode(v)
			if err != nil {
				t.Fatalf("%s: encode(%v) error: %v", c.Name(), v, err)
			}
			var out any
			if err := c.Decode(data, &out); err != nil {
				t.Fatalf("%s: decode error: %v", c.Name(), err)
			}
			if !reflect.DeepEqual(v, out) {
				t.Fatalf("%s: round-trip mismatch: got %#v want %#v", c.Name(), out, v)
			}
		}
	}
}

func TestEncodeFailureIsCodecError(t *testing.T) {
	c := JSON{}
	_, err := c.Encode(func() {})
	if err == nil {
		t.Fatalf("expected error encoding a function value")
	}
	var ce *CodecError
	if !asCodecError(err, &ce) || ce.Op != OpEncode {
		t.Fatalf("expected CodecError with Op=encode, got %v", err)
	}
}

func TestDecodeFailureIsCodecError(t *testing.T) {
	c := JSON{}
	var out int
	err := c.Decode([]byte("not json"), &out)
	if err == nil {
		t.Fatalf("expected decode error")
	}
	var ce *CodecError
	if !asCodecError(err, &ce) || ce.Op != OpDecode {
		t.Fatalf("expected CodecError with Op=decode, got %v", err)
	}
}

func TestByName(t *testing.T) {
	if c, err := ByName("json"); err != nil || c.Name() != "json" {
		t.Fatalf("ByName(json) = %v, %v", c, err)
	}
	if c, err := ByName("binary"); err != nil || c.Name() != "binary" {
		t.Fatalf("ByName(binary) = %v, %v", c, err)
	}
	if _, err := ByName("xml"); err == nil {
		t.Fatalf("expected error for unsupported codec name")
	}
}

func asCodecError(err error, target **CodecError) bool {
	ce, ok := err.(*CodecError)
	if ok {
		*target = ce
	}
	return ok
}
