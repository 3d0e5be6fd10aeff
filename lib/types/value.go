package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Value Interface
// --------------------------------------------------------------------------

// Value is the tagged union of all value variants that can be stored in a
// record bin. Implementations are immutable.
type Value interface {
	// Type returns the particle type used for this value on the wire
	Type() ParticleType

	// EstimateSize returns the exact number of bytes the raw particle
	// representation of this value occupies
	EstimateSize() int

	// WriteBytes writes the raw particle representation into buf and
	// returns the number of bytes written. The buffer must be at least
	// EstimateSize() bytes long.
	WriteBytes(buf []byte) int

	// Object returns the native Go representation of the value
	Object() interface{}

	// String returns a human readable representation of the value
	String() string

	// packedSize returns the size of the msgpack representation used
	// inside lists and maps
	packedSize() int

	// pack writes the msgpack representation into buf at pos and returns
	// the new position. A nil buffer only computes the size.
	pack(buf []byte, pos int) int
}

// --------------------------------------------------------------------------
// Simple Variants
// --------------------------------------------------------------------------

// NullValue is the empty value
type NullValue struct{}

func (v NullValue) Type() ParticleType      { return ParticleNull }
func (v NullValue) EstimateSize() int       { return 0 }
func (v NullValue) WriteBytes(_ []byte) int { return 0 }
func (v NullValue) Object() interface{}     { return nil }
func (v NullValue) String() string          { return "<nil>" }
func (v NullValue) packedSize() int         { return 1 }
func (v NullValue) pack(buf []byte, pos int) int {
	return packByte(buf, pos, markerNil)
}

// IntegerValue holds a 64 bit signed integer
type IntegerValue int64

func (v IntegerValue) Type() ParticleType { return ParticleInteger }
func (v IntegerValue) EstimateSize() int  { return 8 }
func (v IntegerValue) WriteBytes(buf []byte) int {
	binary.BigEndian.PutUint64(buf, uint64(int64(v)))
	return 8
}
func (v IntegerValue) Object() interface{} { return int64(v) }
func (v IntegerValue) String() string      { return strconv.FormatInt(int64(v), 10) }
func (v IntegerValue) packedSize() int     { return packInteger(nil, 0, int64(v)) }
func (v IntegerValue) pack(buf []byte, pos int) int {
	return packInteger(buf, pos, int64(v))
}

// BoolValue holds a boolean. The server has no native boolean particle, so
// booleans travel as integer particles at the top level.
type BoolValue bool

func (v BoolValue) Type() ParticleType { return ParticleInteger }
func (v BoolValue) EstimateSize() int  { return 8 }
func (v BoolValue) WriteBytes(buf []byte) int {
	var val uint64
	if v {
		val = 1
	}
	binary.BigEndian.PutUint64(buf, val)
	return 8
}
func (v BoolValue) Object() interface{} { return bool(v) }
func (v BoolValue) String() string      { return strconv.FormatBool(bool(v)) }
func (v BoolValue) packedSize() int     { return 1 }
func (v BoolValue) pack(buf []byte, pos int) int {
	if v {
		return packByte(buf, pos, markerTrue)
	}
	return packByte(buf, pos, markerFalse)
}

// FloatValue holds a 64 bit IEEE 754 floating point number. NaN values are
// normalized to a single canonical bit pattern so that equal keys encode
// identically.
type FloatValue float64

// NewFloatValue creates a FloatValue, normalizing NaN
func NewFloatValue(f float64) FloatValue {
	if math.IsNaN(f) {
		return FloatValue(math.NaN())
	}
	return FloatValue(f)
}

func (v FloatValue) Type() ParticleType { return ParticleFloat }
func (v FloatValue) EstimateSize() int  { return 8 }
func (v FloatValue) WriteBytes(buf []byte) int {
	binary.BigEndian.PutUint64(buf, math.Float64bits(float64(v)))
	return 8
}
func (v FloatValue) Object() interface{} { return float64(v) }
func (v FloatValue) String() string      { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v FloatValue) packedSize() int     { return 9 }
func (v FloatValue) pack(buf []byte, pos int) int {
	pos = packByte(buf, pos, markerFloat64)
	if buf != nil {
		binary.BigEndian.PutUint64(buf[pos:], math.Float64bits(float64(v)))
	}
	return pos + 8
}

// StringValue holds a UTF-8 string
type StringValue string

func (v StringValue) Type() ParticleType { return ParticleString }
func (v StringValue) EstimateSize() int  { return len(v) }
func (v StringValue) WriteBytes(buf []byte) int {
	return copy(buf, v)
}
func (v StringValue) Object() interface{} { return string(v) }
func (v StringValue) String() string      { return string(v) }
func (v StringValue) packedSize() int {
	return packRawSize(len(v)+1) + len(v) + 1
}
func (v StringValue) pack(buf []byte, pos int) int {
	pos = packRawBegin(buf, pos, len(v)+1)
	pos = packByte(buf, pos, byte(ParticleString))
	if buf != nil {
		copy(buf[pos:], v)
	}
	return pos + len(v)
}

// BlobValue holds an opaque byte array
type BlobValue []byte

func (v BlobValue) Type() ParticleType { return ParticleBlob }
func (v BlobValue) EstimateSize() int  { return len(v) }
func (v BlobValue) WriteBytes(buf []byte) int {
	return copy(buf, v)
}
func (v BlobValue) Object() interface{} { return []byte(v) }
func (v BlobValue) String() string      { return fmt.Sprintf("%v", []byte(v)) }
func (v BlobValue) packedSize() int {
	return packRawSize(len(v)+1) + len(v) + 1
}
func (v BlobValue) pack(buf []byte, pos int) int {
	pos = packRawBegin(buf, pos, len(v)+1)
	pos = packByte(buf, pos, byte(ParticleBlob))
	if buf != nil {
		copy(buf[pos:], v)
	}
	return pos + len(v)
}

// HLLValue holds the opaque representation of a HyperLogLog bin
type HLLValue []byte

func (v HLLValue) Type() ParticleType { return ParticleHLL }
func (v HLLValue) EstimateSize() int  { return len(v) }
func (v HLLValue) WriteBytes(buf []byte) int {
	return copy(buf, v)
}
func (v HLLValue) Object() interface{} { return []byte(v) }
func (v HLLValue) String() string      { return fmt.Sprintf("HLL(%d bytes)", len(v)) }
func (v HLLValue) packedSize() int {
	return packRawSize(len(v)+1) + len(v) + 1
}
func (v HLLValue) pack(buf []byte, pos int) int {
	pos = packRawBegin(buf, pos, len(v)+1)
	pos = packByte(buf, pos, byte(ParticleBlob))
	if buf != nil {
		copy(buf[pos:], v)
	}
	return pos + len(v)
}

// GeoJSONValue holds a GeoJSON document as a string. On the wire the
// document is prefixed with a flags byte and a cell count of zero.
type GeoJSONValue string

func (v GeoJSONValue) Type() ParticleType { return ParticleGeoJSON }
func (v GeoJSONValue) EstimateSize() int  { return 1 + 2 + len(v) }
func (v GeoJSONValue) WriteBytes(buf []byte) int {
	buf[0] = 0 // flags
	binary.BigEndian.PutUint16(buf[1:3], 0) // ncells
	copy(buf[3:], v)
	return 3 + len(v)
}
func (v GeoJSONValue) Object() interface{} { return string(v) }
func (v GeoJSONValue) String() string      { return string(v) }
func (v GeoJSONValue) packedSize() int {
	return packRawSize(len(v)+1) + len(v) + 1
}
func (v GeoJSONValue) pack(buf []byte, pos int) int {
	pos = packRawBegin(buf, pos, len(v)+1)
	pos = packByte(buf, pos, byte(ParticleGeoJSON))
	if buf != nil {
		copy(buf[pos:], v)
	}
	return pos + len(v)
}

// --------------------------------------------------------------------------
// Collection Variants
// --------------------------------------------------------------------------

// ListValue holds an ordered list of values
type ListValue []Value

func (v ListValue) Type() ParticleType { return ParticleList }
func (v ListValue) EstimateSize() int  { return v.packedSize() }
func (v ListValue) WriteBytes(buf []byte) int {
	return v.pack(buf, 0)
}
func (v ListValue) Object() interface{} {
	res := make([]interface{}, len(v))
	for i, item := range v {
		res[i] = item.Object()
	}
	return res
}
func (v ListValue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, item := range v {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(item.String())
	}
	sb.WriteString("]")
	return sb.String()
}
func (v ListValue) packedSize() int { return v.pack(nil, 0) }
func (v ListValue) pack(buf []byte, pos int) int {
	pos = packArrayBegin(buf, pos, len(v))
	for _, item := range v {
		pos = item.pack(buf, pos)
	}
	return pos
}

// MapPair is a single key value pair of a MapValue
type MapPair struct {
	Key   Value
	Value Value
}

// MapValue holds an ordered list of key value pairs. Using a slice instead
// of a native map keeps the wire encoding deterministic.
type MapValue []MapPair

func (v MapValue) Type() ParticleType { return ParticleMap }
func (v MapValue) EstimateSize() int  { return v.packedSize() }
func (v MapValue) WriteBytes(buf []byte) int {
	return v.pack(buf, 0)
}
func (v MapValue) Object() interface{} {
	res := make(map[interface{}]interface{}, len(v))
	for _, pair := range v {
		res[pair.Key.Object()] = pair.Value.Object()
	}
	return res
}
func (v MapValue) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, pair := range v {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pair.Key.String())
		sb.WriteString(": ")
		sb.WriteString(pair.Value.String())
	}
	sb.WriteString("}")
	return sb.String()
}
func (v MapValue) packedSize() int { return v.pack(nil, 0) }
func (v MapValue) pack(buf []byte, pos int) int {
	pos = packMapBegin(buf, pos, len(v))
	for _, pair := range v {
		pos = pair.Key.pack(buf, pos)
		pos = pair.Value.pack(buf, pos)
	}
	return pos
}

// --------------------------------------------------------------------------
// Conversion
// --------------------------------------------------------------------------

// NewValue converts a native Go value into a Value. Passing an unsupported
// type returns an error.
func NewValue(v interface{}) (Value, error) {
	switch val := v.(type) {
	case nil:
		return NullValue{}, nil
	case Value:
		return val, nil
	case int:
		return IntegerValue(val), nil
	case int8:
		return IntegerValue(val), nil
	case int16:
		return IntegerValue(val), nil
	case int32:
		return IntegerValue(val), nil
	case int64:
		return IntegerValue(val), nil
	case uint:
		return IntegerValue(val), nil
	case uint8:
		return IntegerValue(val), nil
	case uint16:
		return IntegerValue(val), nil
	case uint32:
		return IntegerValue(val), nil
	case bool:
		return BoolValue(val), nil
	case float32:
		return NewFloatValue(float64(val)), nil
	case float64:
		return NewFloatValue(val), nil
	case string:
		return StringValue(val), nil
	case []byte:
		return BlobValue(val), nil
	case []interface{}:
		list := make(ListValue, len(val))
		for i, item := range val {
			conv, err := NewValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = conv
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// BytesToValue decodes the raw particle representation of a value
func BytesToValue(ptype ParticleType, buf []byte) (Value, error) {
	switch ptype {
	case ParticleNull:
		return NullValue{}, nil
	case ParticleInteger:
		if len(buf) < 8 {
			return nil, fmt.Errorf("data too short for integer particle")
		}
		return IntegerValue(int64(binary.BigEndian.Uint64(buf))), nil
	case ParticleFloat:
		if len(buf) < 8 {
			return nil, fmt.Errorf("data too short for float particle")
		}
		return FloatValue(math.Float64frombits(binary.BigEndian.Uint64(buf))), nil
	case ParticleString:
		return StringValue(buf), nil
	case ParticleBlob:
		blob := make([]byte, len(buf))
		copy(blob, buf)
		return BlobValue(blob), nil
	case ParticleHLL:
		hll := make([]byte, len(buf))
		copy(hll, buf)
		return HLLValue(hll), nil
	case ParticleGeoJSON:
		// flags byte + cell count + cells precede the document
		if len(buf) < 3 {
			return nil, fmt.Errorf("data too short for geojson particle")
		}
		ncells := int(binary.BigEndian.Uint16(buf[1:3]))
		headerSize := 3 + ncells*8
		if len(buf) < headerSize {
			return nil, fmt.Errorf("data too short for geojson cells")
		}
		return GeoJSONValue(buf[headerSize:]), nil
	case ParticleList:
		return unpackValueList(buf)
	case ParticleMap:
		return unpackValueMap(buf)
	default:
		return nil, fmt.Errorf("unsupported particle type %s", ptype)
	}
}
