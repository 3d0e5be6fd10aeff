package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/skv/lib/types"
)

// RecordPayload is the decoded body of a single record response.
type RecordPayload struct {
	Header MessageHeader
	Key    *types.Key
	Bins   types.BinMap
}

// ParseSingleResponse decodes a complete message payload (22 byte header
// plus fields and operations) into a RecordPayload. The result code is
// not interpreted here, callers decide how to treat non ok codes.
func ParseSingleResponse(buf []byte) (*RecordPayload, error) {
	hdr, err := ParseMessageHeader(buf)
	if err != nil {
		return nil, err
	}
	r := &payloadReader{buf: buf, pos: MessageHeaderSize}
	key, err := r.parseKey(int(hdr.FieldCount))
	if err != nil {
		return nil, err
	}
	bins, err := r.parseBins(int(hdr.OperationCount))
	if err != nil {
		return nil, err
	}
	return &RecordPayload{Header: hdr, Key: key, Bins: bins}, nil
}

// ----- Stream Parsing -----

// StreamRecord is one entry of a batch or scan response stream. Record
// is nil when the corresponding key was not found.
type StreamRecord struct {
	// BatchIndex is the position of this entry in the original batch
	// request. Zero for scan streams.
	BatchIndex uint32
	Key        *types.Key
	Record     *types.Record
}

// StreamParser decodes the concatenated messages of a batch or scan
// response frame.
type StreamParser struct {
	buf     []byte
	pos     int
	sawLast bool
}

// NewStreamParser creates a parser over one response payload. The
// payload starts with the first message header, the proto header has
// already been consumed.
func NewStreamParser(buf []byte) *StreamParser {
	return &StreamParser{buf: buf}
}

// Terminated reports whether the final marker message was seen. A
// parser that ran out of data without the marker expects the stream to
// continue in the next frame.
func (p *StreamParser) Terminated() bool {
	return p.sawLast
}

// Next returns the next record of the stream. The second return value is
// true once the final marker message was reached, the stream then holds
// no further records. Messages flagged as partition boundaries are
// skipped transparently.
func (p *StreamParser) Next() (*StreamRecord, bool, error) {
	for p.pos < len(p.buf) {
		hdr, err := ParseMessageHeader(p.buf[p.pos:])
		if err != nil {
			return nil, false, err
		}
		if hdr.InfoAttr&Info3Last != 0 {
			p.pos = len(p.buf)
			p.sawLast = true
			return nil, true, nil
		}

		r := &payloadReader{buf: p.buf, pos: p.pos + MessageHeaderSize}

		switch {
		case hdr.ResultCode == ResultOk:
		case hdr.ResultCode == ResultKeyNotFound:
			// absent record inside a batch, skip the body
			key, err := r.parseKey(int(hdr.FieldCount))
			if err != nil {
				return nil, false, err
			}
			if _, err := r.parseBins(int(hdr.OperationCount)); err != nil {
				return nil, false, err
			}
			p.pos = r.pos
			return &StreamRecord{BatchIndex: hdr.TimeoutMS, Key: key}, false, nil
		case hdr.InfoAttr&Info3PartitionDone != 0:
			// partition boundary marker, consume the body and move on
			if _, err := r.parseKey(int(hdr.FieldCount)); err != nil {
				return nil, false, err
			}
			if _, err := r.parseBins(int(hdr.OperationCount)); err != nil {
				return nil, false, err
			}
			p.pos = r.pos
			continue
		default:
			return nil, false, fmt.Errorf("stream failed: %s", hdr.ResultCode)
		}

		key, err := r.parseKey(int(hdr.FieldCount))
		if err != nil {
			return nil, false, err
		}
		bins, err := r.parseBins(int(hdr.OperationCount))
		if err != nil {
			return nil, false, err
		}
		p.pos = r.pos

		return &StreamRecord{
			BatchIndex: hdr.TimeoutMS,
			Key:        key,
			Record: &types.Record{
				Key:        key,
				Bins:       bins,
				Generation: hdr.Generation,
				Expiration: hdr.Expiration,
			},
		}, false, nil
	}
	return nil, true, nil
}

// ----- Payload Reader -----

type payloadReader struct {
	buf []byte
	pos int
}

func (r *payloadReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("data too short for record payload: need %d bytes at offset %d", n, r.pos)
	}
	return nil
}

// parseKey consumes fieldCount fields and assembles a key from the
// namespace, set and digest fields. Returns nil when no digest field is
// present.
func (r *payloadReader) parseKey(fieldCount int) (*types.Key, error) {
	if fieldCount == 0 {
		return nil, nil
	}

	var namespace, setName string
	var digest [types.DigestSize]byte
	haveDigest := false

	for i := 0; i < fieldCount; i++ {
		if err := r.need(FieldHeaderSize); err != nil {
			return nil, err
		}
		size := int(binary.BigEndian.Uint32(r.buf[r.pos:r.pos+4])) - 1
		ftype := FieldType(r.buf[r.pos+4])
		r.pos += FieldHeaderSize
		if size < 0 || r.need(size) != nil {
			return nil, fmt.Errorf("data too short for field %d of type %d", i, ftype)
		}
		data := r.buf[r.pos : r.pos+size]
		r.pos += size

		switch ftype {
		case FieldNamespace:
			namespace = string(data)
		case FieldTable:
			setName = string(data)
		case FieldDigestRipe:
			if size != types.DigestSize {
				return nil, fmt.Errorf("digest field has %d bytes", size)
			}
			copy(digest[:], data)
			haveDigest = true
		}
	}

	if !haveDigest {
		return nil, nil
	}
	return types.NewKeyByDigest(namespace, setName, digest), nil
}

// parseBins consumes operationCount operations and decodes the bin
// values.
func (r *payloadReader) parseBins(operationCount int) (types.BinMap, error) {
	if operationCount == 0 {
		return nil, nil
	}

	bins := make(types.BinMap, operationCount)
	for i := 0; i < operationCount; i++ {
		if err := r.need(8); err != nil {
			return nil, err
		}
		opSize := int(binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4]))
		particleType := types.ParticleType(r.buf[r.pos+5])
		nameSize := int(r.buf[r.pos+7])
		r.pos += 8

		if err := r.need(nameSize); err != nil {
			return nil, err
		}
		name := string(r.buf[r.pos : r.pos+nameSize])
		r.pos += nameSize

		particleSize := opSize - (4 + nameSize)
		if particleSize < 0 || r.need(particleSize) != nil {
			return nil, fmt.Errorf("data too short for bin %q", name)
		}
		value, err := types.BytesToValue(particleType, r.buf[r.pos:r.pos+particleSize])
		if err != nil {
			return nil, fmt.Errorf("bin %q: %w", name, err)
		}
		r.pos += particleSize
		bins[name] = value
	}
	return bins, nil
}
