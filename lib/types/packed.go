package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// msgpack markers used for the packed representation of lists and maps
const (
	markerNil     byte = 0xc0
	markerFalse   byte = 0xc2
	markerTrue    byte = 0xc3
	markerBin8    byte = 0xc4
	markerBin16   byte = 0xc5
	markerBin32   byte = 0xc6
	markerFloat32 byte = 0xca
	markerFloat64 byte = 0xcb
	markerUint8   byte = 0xcc
	markerUint16  byte = 0xcd
	markerUint32  byte = 0xce
	markerUint64  byte = 0xcf
	markerInt8    byte = 0xd0
	markerInt16   byte = 0xd1
	markerInt32   byte = 0xd2
	markerInt64   byte = 0xd3
	markerStr8    byte = 0xd9
	markerStr16   byte = 0xda
	markerStr32   byte = 0xdb
	markerArray16 byte = 0xdc
	markerArray32 byte = 0xdd
	markerMap16   byte = 0xde
	markerMap32   byte = 0xdf
)

// --------------------------------------------------------------------------
// Pack Helpers
// --------------------------------------------------------------------------

// All pack helpers write into buf at pos and return the new position. A nil
// buffer computes sizes only, so encoders can run a sizing pass first.

func packByte(buf []byte, pos int, b byte) int {
	if buf != nil {
		buf[pos] = b
	}
	return pos + 1
}

func packUint16(buf []byte, pos int, v uint16) int {
	if buf != nil {
		binary.BigEndian.PutUint16(buf[pos:], v)
	}
	return pos + 2
}

func packUint32(buf []byte, pos int, v uint32) int {
	if buf != nil {
		binary.BigEndian.PutUint32(buf[pos:], v)
	}
	return pos + 4
}

func packUint64(buf []byte, pos int, v uint64) int {
	if buf != nil {
		binary.BigEndian.PutUint64(buf[pos:], v)
	}
	return pos + 8
}

// packInteger writes an integer using the smallest possible representation
func packInteger(buf []byte, pos int, val int64) int {
	switch {
	case val >= 0 && val <= math.MaxInt8:
		return packByte(buf, pos, byte(val))
	case val > math.MaxUint32:
		pos = packByte(buf, pos, markerInt64)
		return packUint64(buf, pos, uint64(val))
	case val > math.MaxUint16:
		pos = packByte(buf, pos, markerUint32)
		return packUint32(buf, pos, uint32(val))
	case val > math.MaxUint8:
		pos = packByte(buf, pos, markerUint16)
		return packUint16(buf, pos, uint16(val))
	case val > math.MaxInt8:
		pos = packByte(buf, pos, markerUint8)
		return packByte(buf, pos, byte(val))
	case val >= -32:
		return packByte(buf, pos, byte(0xe0|(val+32)))
	case val >= math.MinInt8:
		pos = packByte(buf, pos, markerInt8)
		return packByte(buf, pos, byte(val))
	case val >= math.MinInt16:
		pos = packByte(buf, pos, markerInt16)
		return packUint16(buf, pos, uint16(val))
	case val >= math.MinInt32:
		pos = packByte(buf, pos, markerInt32)
		return packUint32(buf, pos, uint32(val))
	default:
		pos = packByte(buf, pos, markerInt64)
		return packUint64(buf, pos, uint64(val))
	}
}

// packRawSize returns the header size for a raw byte sequence of length n
func packRawSize(n int) int {
	switch {
	case n < 32:
		return 1
	case n < math.MaxUint8:
		return 2
	case n < math.MaxUint16:
		return 3
	default:
		return 5
	}
}

// packRawBegin writes the header for a raw byte sequence of length n.
// Strings, blobs and geojson documents inside collections all use the
// string marker family with a leading particle type byte in the payload.
func packRawBegin(buf []byte, pos int, n int) int {
	switch {
	case n < 32:
		return packByte(buf, pos, byte(0xa0|n))
	case n < math.MaxUint8:
		pos = packByte(buf, pos, markerStr8)
		return packByte(buf, pos, byte(n))
	case n < math.MaxUint16:
		pos = packByte(buf, pos, markerStr16)
		return packUint16(buf, pos, uint16(n))
	default:
		pos = packByte(buf, pos, markerStr32)
		return packUint32(buf, pos, uint32(n))
	}
}

func packArrayBegin(buf []byte, pos int, n int) int {
	switch {
	case n < 16:
		return packByte(buf, pos, byte(0x90|n))
	case n < math.MaxUint16:
		pos = packByte(buf, pos, markerArray16)
		return packUint16(buf, pos, uint16(n))
	default:
		pos = packByte(buf, pos, markerArray32)
		return packUint32(buf, pos, uint32(n))
	}
}

func packMapBegin(buf []byte, pos int, n int) int {
	switch {
	case n < 16:
		return packByte(buf, pos, byte(0x80|n))
	case n < math.MaxUint16:
		pos = packByte(buf, pos, markerMap16)
		return packUint16(buf, pos, uint16(n))
	default:
		pos = packByte(buf, pos, markerMap32)
		return packUint32(buf, pos, uint32(n))
	}
}

// --------------------------------------------------------------------------
// Unpacker
// --------------------------------------------------------------------------

// unpacker decodes the msgpack representation of lists and maps
type unpacker struct {
	buf []byte
	pos int
}

func (u *unpacker) readByte() (byte, error) {
	if u.pos >= len(u.buf) {
		return 0, fmt.Errorf("data too short for packed value")
	}
	b := u.buf[u.pos]
	u.pos++
	return b, nil
}

func (u *unpacker) readBytes(n int) ([]byte, error) {
	if u.pos+n > len(u.buf) {
		return nil, fmt.Errorf("data too short for packed value of %d bytes", n)
	}
	b := u.buf[u.pos : u.pos+n]
	u.pos += n
	return b, nil
}

func (u *unpacker) readUint16() (uint16, error) {
	b, err := u.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (u *unpacker) readUint32() (uint32, error) {
	b, err := u.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (u *unpacker) readUint64() (uint64, error) {
	b, err := u.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// unpackRaw decodes a raw byte sequence with its leading particle type byte
func (u *unpacker) unpackRaw(n int) (Value, error) {
	if n < 1 {
		return nil, fmt.Errorf("packed raw value without particle type")
	}
	ptype, err := u.readByte()
	if err != nil {
		return nil, err
	}
	data, err := u.readBytes(n - 1)
	if err != nil {
		return nil, err
	}
	switch ParticleType(ptype) {
	case ParticleString:
		return StringValue(data), nil
	case ParticleBlob:
		blob := make([]byte, len(data))
		copy(blob, data)
		return BlobValue(blob), nil
	case ParticleGeoJSON:
		return GeoJSONValue(data), nil
	default:
		return nil, fmt.Errorf("unsupported packed particle type %d", ptype)
	}
}

func (u *unpacker) unpackList(n int) (Value, error) {
	list := make(ListValue, 0, n)
	for i := 0; i < n; i++ {
		val, err := u.unpackValue()
		if err != nil {
			return nil, err
		}
		list = append(list, val)
	}
	return list, nil
}

func (u *unpacker) unpackMap(n int) (Value, error) {
	m := make(MapValue, 0, n)
	for i := 0; i < n; i++ {
		key, err := u.unpackValue()
		if err != nil {
			return nil, err
		}
		val, err := u.unpackValue()
		if err != nil {
			return nil, err
		}
		m = append(m, MapPair{Key: key, Value: val})
	}
	return m, nil
}

func (u *unpacker) unpackValue() (Value, error) {
	marker, err := u.readByte()
	if err != nil {
		return nil, err
	}

	// fixed range markers
	switch {
	case marker <= 0x7f: // positive fixint
		return IntegerValue(marker), nil
	case marker >= 0xe0: // negative fixint
		return IntegerValue(int8(marker)), nil
	case marker >= 0x80 && marker <= 0x8f: // fixmap
		return u.unpackMap(int(marker & 0x0f))
	case marker >= 0x90 && marker <= 0x9f: // fixarray
		return u.unpackList(int(marker & 0x0f))
	case marker >= 0xa0 && marker <= 0xbf: // fixstr
		return u.unpackRaw(int(marker & 0x1f))
	}

	switch marker {
	case markerNil:
		return NullValue{}, nil
	case markerFalse:
		return BoolValue(false), nil
	case markerTrue:
		return BoolValue(true), nil
	case markerBin8, markerStr8:
		n, err := u.readByte()
		if err != nil {
			return nil, err
		}
		return u.unpackRaw(int(n))
	case markerBin16, markerStr16:
		n, err := u.readUint16()
		if err != nil {
			return nil, err
		}
		return u.unpackRaw(int(n))
	case markerBin32, markerStr32:
		n, err := u.readUint32()
		if err != nil {
			return nil, err
		}
		return u.unpackRaw(int(n))
	case markerFloat32:
		v, err := u.readUint32()
		if err != nil {
			return nil, err
		}
		return FloatValue(math.Float32frombits(v)), nil
	case markerFloat64:
		v, err := u.readUint64()
		if err != nil {
			return nil, err
		}
		return FloatValue(math.Float64frombits(v)), nil
	case markerUint8:
		v, err := u.readByte()
		if err != nil {
			return nil, err
		}
		return IntegerValue(v), nil
	case markerUint16:
		v, err := u.readUint16()
		if err != nil {
			return nil, err
		}
		return IntegerValue(v), nil
	case markerUint32:
		v, err := u.readUint32()
		if err != nil {
			return nil, err
		}
		return IntegerValue(v), nil
	case markerUint64:
		v, err := u.readUint64()
		if err != nil {
			return nil, err
		}
		return IntegerValue(int64(v)), nil
	case markerInt8:
		v, err := u.readByte()
		if err != nil {
			return nil, err
		}
		return IntegerValue(int8(v)), nil
	case markerInt16:
		v, err := u.readUint16()
		if err != nil {
			return nil, err
		}
		return IntegerValue(int16(v)), nil
	case markerInt32:
		v, err := u.readUint32()
		if err != nil {
			return nil, err
		}
		return IntegerValue(int32(v)), nil
	case markerInt64:
		v, err := u.readUint64()
		if err != nil {
			return nil, err
		}
		return IntegerValue(int64(v)), nil
	case markerArray16:
		n, err := u.readUint16()
		if err != nil {
			return nil, err
		}
		return u.unpackList(int(n))
	case markerArray32:
		n, err := u.readUint32()
		if err != nil {
			return nil, err
		}
		return u.unpackList(int(n))
	case markerMap16:
		n, err := u.readUint16()
		if err != nil {
			return nil, err
		}
		return u.unpackMap(int(n))
	case markerMap32:
		n, err := u.readUint32()
		if err != nil {
			return nil, err
		}
		return u.unpackMap(int(n))
	default:
		return nil, fmt.Errorf("unrecognized packed marker 0x%02x", marker)
	}
}

// unpackValueList decodes a packed list particle
func unpackValueList(buf []byte) (Value, error) {
	if len(buf) == 0 {
		return ListValue{}, nil
	}
	u := &unpacker{buf: buf}
	val, err := u.unpackValue()
	if err != nil {
		return nil, err
	}
	list, ok := val.(ListValue)
	if !ok {
		return nil, fmt.Errorf("expected packed list, got %s", val.Type())
	}
	return list, nil
}

// unpackValueMap decodes a packed map particle
func unpackValueMap(buf []byte) (Value, error) {
	if len(buf) == 0 {
		return MapValue{}, nil
	}
	u := &unpacker{buf: buf}
	val, err := u.unpackValue()
	if err != nil {
		return nil, err
	}
	m, ok := val.(MapValue)
	if !ok {
		return nil, fmt.Errorf("expected packed map, got %s", val.Type())
	}
	return m, nil
}
