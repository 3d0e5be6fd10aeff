package types

import (
	"reflect"
	"testing"
)

// testValues creates a set of values covering all variants
func testValues() []Value {
	return []Value{
		NullValue{},
		IntegerValue(0),
		IntegerValue(1),
		IntegerValue(-1),
		IntegerValue(127),
		IntegerValue(128),
		IntegerValue(-32),
		IntegerValue(-33),
		IntegerValue(1 << 40),
		IntegerValue(-(1 << 40)),
		FloatValue(3.1415),
		FloatValue(-0.5),
		StringValue(""),
		StringValue("hello world"),
		BlobValue{0x01, 0x02, 0x03},
		GeoJSONValue(`{"type":"Point","coordinates":[1.0,2.0]}`),
		HLLValue{0xff, 0x00, 0x12},
		ListValue{IntegerValue(1), StringValue("two"), FloatValue(3.0)},
		MapValue{
			{Key: StringValue("a"), Value: IntegerValue(1)},
			{Key: StringValue("b"), Value: ListValue{IntegerValue(2), IntegerValue(3)}},
		},
	}
}

// TestValueRoundTrip tests that the raw particle encoding of every variant
// can be decoded back into an equal value
func TestValueRoundTrip(t *testing.T) {
	for _, val := range testValues() {
		t.Run(val.Type().String()+"/"+val.String(), func(t *testing.T) {
			size := val.EstimateSize()
			buf := make([]byte, size)

			n := val.WriteBytes(buf)
			if n != size {
				t.Fatalf("EstimateSize=%d but WriteBytes wrote %d bytes", size, n)
			}

			decoded, err := BytesToValue(val.Type(), buf)
			if err != nil {
				t.Fatalf("Failed to decode value: %v", err)
			}

			// booleans travel as integer particles and come back as integers
			if b, ok := val.(BoolValue); ok {
				want := IntegerValue(0)
				if b {
					want = IntegerValue(1)
				}
				val = want
			}

			if !reflect.DeepEqual(val, decoded) {
				t.Errorf("Value doesn't match after round trip:\nOriginal: %#v\nResult: %#v", val, decoded)
			}
		})
	}
}

// TestBoolValueEncoding tests that booleans are encoded as integer particles
func TestBoolValueEncoding(t *testing.T) {
	for _, b := range []BoolValue{true, false} {
		if b.Type() != ParticleInteger {
			t.Errorf("Expected bool to use integer particle, got %s", b.Type())
		}

		buf := make([]byte, b.EstimateSize())
		b.WriteBytes(buf)

		decoded, err := BytesToValue(ParticleInteger, buf)
		if err != nil {
			t.Fatalf("Failed to decode bool: %v", err)
		}

		want := int64(0)
		if b {
			want = 1
		}
		if decoded.(IntegerValue) != IntegerValue(want) {
			t.Errorf("Bool %v decoded to %v", b, decoded)
		}
	}
}

// TestNestedCollections tests deeply nested lists and maps
func TestNestedCollections(t *testing.T) {
	val := ListValue{
		MapValue{
			{Key: IntegerValue(1), Value: ListValue{StringValue("deep"), NullValue{}}},
		},
		ListValue{ListValue{IntegerValue(42)}},
	}

	buf := make([]byte, val.EstimateSize())
	if n := val.WriteBytes(buf); n != len(buf) {
		t.Fatalf("Size mismatch: estimated %d, wrote %d", len(buf), n)
	}

	decoded, err := BytesToValue(ParticleList, buf)
	if err != nil {
		t.Fatalf("Failed to decode nested value: %v", err)
	}

	if !reflect.DeepEqual(val, decoded) {
		t.Errorf("Nested value doesn't match after round trip:\nOriginal: %#v\nResult: %#v", val, decoded)
	}
}

// TestLargeCollections tests collections that need the 16 bit length markers
func TestLargeCollections(t *testing.T) {
	list := make(ListValue, 100)
	for i := range list {
		list[i] = IntegerValue(i)
	}

	buf := make([]byte, list.EstimateSize())
	list.WriteBytes(buf)

	decoded, err := BytesToValue(ParticleList, buf)
	if err != nil {
		t.Fatalf("Failed to decode large list: %v", err)
	}

	if !reflect.DeepEqual(Value(list), decoded) {
		t.Errorf("Large list doesn't match after round trip")
	}
}

// TestTruncatedPackedData tests decode failures for corrupt packed data
func TestTruncatedPackedData(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"truncated array", []byte{0x92, 0x01}},
		{"truncated string header", []byte{0xda, 0x00}},
		{"string shorter than declared", []byte{0xa5, byte(ParticleString), 'a'}},
		{"truncated int64", []byte{0x91, 0xd3, 0x00, 0x00}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BytesToValue(ParticleList, tc.data); err == nil {
				t.Errorf("Expected error for corrupt data but got none")
			}
		})
	}
}

// TestNewValueConversions tests the conversion from native Go types
func TestNewValueConversions(t *testing.T) {
	testCases := []struct {
		in   interface{}
		want Value
	}{
		{nil, NullValue{}},
		{42, IntegerValue(42)},
		{int8(-4), IntegerValue(-4)},
		{uint32(7), IntegerValue(7)},
		{"text", StringValue("text")},
		{[]byte{1, 2}, BlobValue{1, 2}},
		{true, BoolValue(true)},
		{2.5, FloatValue(2.5)},
		{[]interface{}{1, "two"}, ListValue{IntegerValue(1), StringValue("two")}},
	}

	for _, tc := range testCases {
		got, err := NewValue(tc.in)
		if err != nil {
			t.Fatalf("Failed to convert %T: %v", tc.in, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Conversion of %v: expected %#v, got %#v", tc.in, tc.want, got)
		}
	}

	if _, err := NewValue(struct{}{}); err == nil {
		t.Errorf("Expected error for unsupported type but got none")
	}
}
