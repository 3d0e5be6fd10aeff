package wire

import (
	"encoding/binary"
	"fmt"
)

// ----- Protocol Constants -----

const (
	// ProtoVersion is the only protocol version this client speaks.
	ProtoVersion = 2

	// ProtoTypeInfo frames text based info requests and responses.
	ProtoTypeInfo = 1
	// ProtoTypeSecurity frames login and authentication exchanges.
	ProtoTypeSecurity = 2
	// ProtoTypeMessage frames regular record commands.
	ProtoTypeMessage = 3

	// ProtoHeaderSize is the size of the leading proto header.
	ProtoHeaderSize = 8
	// MessageHeaderSize is the size of the message header that follows
	// the proto header on ProtoTypeMessage frames.
	MessageHeaderSize = 22
	// TotalHeaderSize is the combined size of both headers.
	TotalHeaderSize = ProtoHeaderSize + MessageHeaderSize

	// FieldHeaderSize precedes every field (4 byte size plus type byte).
	FieldHeaderSize = 5
	// OperationHeaderSize precedes every operation.
	OperationHeaderSize = 8

	// MaxFrameSize caps the payload size accepted from a peer. Frames
	// larger than this indicate a corrupt stream or a protocol mismatch.
	MaxFrameSize = 128 * 1024 * 1024
)

// Read attribute bits (first attribute byte of the message header).
const (
	Info1Read           = 1 << 0
	Info1GetAll         = 1 << 1
	Info1ShortQuery     = 1 << 2
	Info1Batch          = 1 << 3
	Info1XDR            = 1 << 4
	Info1NoBinData      = 1 << 5
	Info1ConsistencyAll = 1 << 6
)

// Write attribute bits (second attribute byte).
const (
	Info2Write         = 1 << 0
	Info2Delete        = 1 << 1
	Info2Generation    = 1 << 2
	Info2GenerationGT  = 1 << 3
	Info2DurableDelete = 1 << 4
	Info2CreateOnly    = 1 << 5
	Info2RespondAllOps = 1 << 7
)

// Info attribute bits (third attribute byte).
const (
	Info3Last            = 1 << 0
	Info3CommitMaster    = 1 << 1
	Info3PartitionDone   = 1 << 2
	Info3UpdateOnly      = 1 << 3
	Info3CreateOrReplace = 1 << 4
	Info3ReplaceOnly     = 1 << 5
)

// ----- Field And Operation Types -----

// FieldType identifies a typed field inside a command frame.
type FieldType uint8

const (
	FieldNamespace         FieldType = 0
	FieldTable             FieldType = 1
	FieldKey               FieldType = 2
	FieldDigestRipe        FieldType = 4
	FieldTranID            FieldType = 7
	FieldScanTimeout       FieldType = 9
	FieldPIDArray          FieldType = 11
	FieldBatchIndex        FieldType = 41
	FieldBatchIndexWithSet FieldType = 42
)

// OperationType selects the per bin operation carried by a command.
type OperationType uint8

const (
	OpRead      OperationType = 1
	OpWrite     OperationType = 2
	OpCDTRead   OperationType = 3
	OpCDTModify OperationType = 4
	OpAdd       OperationType = 5
	OpAppend    OperationType = 9
	OpPrepend   OperationType = 10
	OpTouch     OperationType = 11
)

// ----- Proto Header -----

// ProtoHeader is the 8 byte header that starts every frame. The top two
// bytes carry version and type, the lower six the payload size.
type ProtoHeader struct {
	Version uint8
	Type    uint8
	Size    int64
}

// EncodeProtoHeader writes an 8 byte proto header into buf.
func EncodeProtoHeader(buf []byte, msgType uint8, size int64) {
	binary.BigEndian.PutUint64(buf[0:8],
		uint64(size)|(uint64(ProtoVersion)<<56)|(uint64(msgType)<<48))
}

// ParseProtoHeader decodes and validates the leading 8 bytes of a frame.
func ParseProtoHeader(buf []byte) (ProtoHeader, error) {
	if len(buf) < ProtoHeaderSize {
		return ProtoHeader{}, fmt.Errorf("data too short for proto header: %d bytes", len(buf))
	}
	raw := binary.BigEndian.Uint64(buf[0:8])
	hdr := ProtoHeader{
		Version: uint8(raw >> 56),
		Type:    uint8(raw >> 48),
		Size:    int64(raw & 0xFFFFFFFFFFFF),
	}
	if hdr.Version != ProtoVersion {
		return ProtoHeader{}, fmt.Errorf("unsupported protocol version %d", hdr.Version)
	}
	if hdr.Size > MaxFrameSize {
		return ProtoHeader{}, fmt.Errorf("frame size %d exceeds limit", hdr.Size)
	}
	return hdr, nil
}

// ----- Message Header -----

// MessageHeader is the fixed 22 byte header of a record command or
// response, located directly after the proto header.
type MessageHeader struct {
	HeaderLength   uint8
	ReadAttr       uint8
	WriteAttr      uint8
	InfoAttr       uint8
	ResultCode     ResultCode
	Generation     uint32
	Expiration     uint32
	TimeoutMS      uint32
	FieldCount     uint16
	OperationCount uint16
}

// ParseMessageHeader decodes the 22 byte message header.
func ParseMessageHeader(buf []byte) (MessageHeader, error) {
	if len(buf) < MessageHeaderSize {
		return MessageHeader{}, fmt.Errorf("data too short for message header: %d bytes", len(buf))
	}
	return MessageHeader{
		HeaderLength:   buf[0],
		ReadAttr:       buf[1],
		WriteAttr:      buf[2],
		InfoAttr:       buf[3],
		ResultCode:     ResultCode(buf[5]),
		Generation:     binary.BigEndian.Uint32(buf[6:10]),
		Expiration:     binary.BigEndian.Uint32(buf[10:14]),
		TimeoutMS:      binary.BigEndian.Uint32(buf[14:18]),
		FieldCount:     binary.BigEndian.Uint16(buf[18:20]),
		OperationCount: binary.BigEndian.Uint16(buf[20:22]),
	}, nil
}
