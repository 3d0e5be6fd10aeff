package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ValentinKolb/skv/lib/policy"
	"github.com/ValentinKolb/skv/lib/types"
)

// Operation is a single per bin operation inside an operate command.
type Operation struct {
	Op       OperationType
	BinName  string
	BinValue types.Value
}

// ----- Buffer -----

// Buffer builds command frames. Every Set* method first sizes the frame,
// grows the underlying slice once, then fills it front to back. A Buffer
// can be reused for any number of commands, its storage only ever grows.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer creates a Buffer with a small initial capacity.
func NewBuffer() *Buffer {
	return &Buffer{data: make([]byte, 1024)}
}

// Bytes returns the encoded frame. The slice is only valid until the
// next Set* call.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.pos]
}

// begin starts sizing a message command. Sizing uses pos as a running
// total starting after the two fixed headers.
func (b *Buffer) begin() {
	b.pos = TotalHeaderSize
}

// sizeBuffer grows the storage to the size accumulated in pos and
// rewinds for writing.
func (b *Buffer) sizeBuffer() {
	if b.pos > len(b.data) {
		b.data = make([]byte, b.pos)
	}
	b.pos = 0
}

// end patches the proto header with the final frame size.
func (b *Buffer) end(msgType uint8) {
	EncodeProtoHeader(b.data[0:8], msgType, int64(b.pos-ProtoHeaderSize))
}

// ----- Primitive Writers -----

func (b *Buffer) writeUint8(v uint8) {
	b.data[b.pos] = v
	b.pos++
}

func (b *Buffer) writeUint16(v uint16) {
	binary.BigEndian.PutUint16(b.data[b.pos:b.pos+2], v)
	b.pos += 2
}

func (b *Buffer) writeUint32(v uint32) {
	binary.BigEndian.PutUint32(b.data[b.pos:b.pos+4], v)
	b.pos += 4
}

func (b *Buffer) writeUint64(v uint64) {
	binary.BigEndian.PutUint64(b.data[b.pos:b.pos+8], v)
	b.pos += 8
}

func (b *Buffer) writeBytes(v []byte) {
	copy(b.data[b.pos:], v)
	b.pos += len(v)
}

func (b *Buffer) writeString(v string) {
	copy(b.data[b.pos:], v)
	b.pos += len(v)
}

// ----- Header Writers -----

// timeoutMillis converts a policy timeout into the wire representation
func timeoutMillis(timeout time.Duration) uint32 {
	if timeout <= 0 {
		return 0
	}
	ms := timeout.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return uint32(ms)
}

// writeHeaderRead fills both headers for a read style command. The proto
// size is patched later by end.
func (b *Buffer) writeHeaderRead(p *policy.BasePolicy, readAttr, infoAttr uint8, fieldCount, operationCount int) {
	if p.ConsistencyLevel == policy.ConsistencyAll {
		readAttr |= Info1ConsistencyAll
	}
	b.pos = ProtoHeaderSize
	b.writeUint8(MessageHeaderSize)
	b.writeUint8(readAttr)
	b.writeUint8(0)
	b.writeUint8(infoAttr)
	b.writeUint8(0)
	b.writeUint8(0)
	b.writeUint32(0) // generation
	b.writeUint32(0) // expiration
	b.writeUint32(timeoutMillis(p.Timeout))
	b.writeUint16(uint16(fieldCount))
	b.writeUint16(uint16(operationCount))
}

// writeHeaderWrite fills both headers for a write style command,
// translating the write policy into attribute bits.
func (b *Buffer) writeHeaderWrite(p *policy.WritePolicy, readAttr, writeAttr uint8, fieldCount, operationCount int) {
	var infoAttr uint8
	var generation uint32

	switch p.RecordExistsAction {
	case policy.Update:
	case policy.UpdateOnly:
		infoAttr |= Info3UpdateOnly
	case policy.Replace:
		infoAttr |= Info3CreateOrReplace
	case policy.ReplaceOnly:
		infoAttr |= Info3ReplaceOnly
	case policy.CreateOnly:
		writeAttr |= Info2CreateOnly
	}

	switch p.GenerationPolicy {
	case policy.GenerationIgnore:
	case policy.GenerationEqual:
		generation = p.Generation
		writeAttr |= Info2Generation
	case policy.GenerationGreater:
		generation = p.Generation
		writeAttr |= Info2GenerationGT
	}

	if p.CommitLevel == policy.CommitMaster {
		infoAttr |= Info3CommitMaster
	}
	if p.DurableDelete {
		writeAttr |= Info2DurableDelete
	}
	if p.ConsistencyLevel == policy.ConsistencyAll {
		readAttr |= Info1ConsistencyAll
	}

	b.pos = ProtoHeaderSize
	b.writeUint8(MessageHeaderSize)
	b.writeUint8(readAttr)
	b.writeUint8(writeAttr)
	b.writeUint8(infoAttr)
	b.writeUint8(0)
	b.writeUint8(0)
	b.writeUint32(generation)
	b.writeUint32(p.Expiration)
	b.writeUint32(timeoutMillis(p.Timeout))
	b.writeUint16(uint16(fieldCount))
	b.writeUint16(uint16(operationCount))
}

// ----- Field Writers -----

// estimateKeySize accumulates the sizes of the key fields and returns
// the field count.
func (b *Buffer) estimateKeySize(key *types.Key, sendKey bool) int {
	fieldCount := 0
	if key.Namespace() != "" {
		b.pos += len(key.Namespace()) + FieldHeaderSize
		fieldCount++
	}
	if key.SetName() != "" {
		b.pos += len(key.SetName()) + FieldHeaderSize
		fieldCount++
	}
	b.pos += types.DigestSize + FieldHeaderSize
	fieldCount++
	if sendKey && key.UserKey() != nil {
		// plus one byte for the particle type
		b.pos += key.UserKey().EstimateSize() + FieldHeaderSize + 1
		fieldCount++
	}
	return fieldCount
}

func (b *Buffer) writeFieldHeader(size int, ftype FieldType) {
	b.writeUint32(uint32(size + 1))
	b.writeUint8(uint8(ftype))
}

func (b *Buffer) writeFieldString(value string, ftype FieldType) {
	b.writeFieldHeader(len(value), ftype)
	b.writeString(value)
}

func (b *Buffer) writeFieldBytes(value []byte, ftype FieldType) {
	b.writeFieldHeader(len(value), ftype)
	b.writeBytes(value)
}

func (b *Buffer) writeFieldValue(value types.Value, ftype FieldType) {
	b.writeFieldHeader(value.EstimateSize()+1, ftype)
	b.writeUint8(uint8(value.Type()))
	b.pos += value.WriteBytes(b.data[b.pos:])
}

func (b *Buffer) writeKey(key *types.Key, sendKey bool) {
	if key.Namespace() != "" {
		b.writeFieldString(key.Namespace(), FieldNamespace)
	}
	if key.SetName() != "" {
		b.writeFieldString(key.SetName(), FieldTable)
	}
	digest := key.Digest()
	b.writeFieldBytes(digest[:], FieldDigestRipe)
	if sendKey && key.UserKey() != nil {
		b.writeFieldValue(key.UserKey(), FieldKey)
	}
}

// ----- Operation Writers -----

func (b *Buffer) estimateOperationSizeForBin(bin *types.Bin) {
	b.pos += len(bin.Name) + bin.Value.EstimateSize() + OperationHeaderSize
}

func (b *Buffer) estimateOperationSizeForBinName(name string) {
	b.pos += len(name) + OperationHeaderSize
}

func (b *Buffer) estimateOperationSize() {
	b.pos += OperationHeaderSize
}

func (b *Buffer) writeOperationForBin(bin *types.Bin, op OperationType) {
	nameLen := len(bin.Name)
	valueLen := bin.Value.EstimateSize()
	b.writeUint32(uint32(nameLen + valueLen + 4))
	b.writeUint8(uint8(op))
	b.writeUint8(uint8(bin.Value.Type()))
	b.writeUint8(0)
	b.writeUint8(uint8(nameLen))
	b.writeString(bin.Name)
	b.pos += bin.Value.WriteBytes(b.data[b.pos:])
}

func (b *Buffer) writeOperationForBinName(name string, op OperationType) {
	b.writeUint32(uint32(len(name) + 4))
	b.writeUint8(uint8(op))
	b.writeUint8(0)
	b.writeUint8(0)
	b.writeUint8(uint8(len(name)))
	b.writeString(name)
}

func (b *Buffer) writeOperationForOperationType(op OperationType) {
	b.writeUint32(4)
	b.writeUint8(uint8(op))
	b.writeUint8(0)
	b.writeUint8(0)
	b.writeUint8(0)
}

// ----- Record Commands -----

// SetWrite builds a write, append, prepend or add command for the given
// bins.
func (b *Buffer) SetWrite(p *policy.WritePolicy, op OperationType, key *types.Key, bins []*types.Bin) error {
	b.begin()
	fieldCount := b.estimateKeySize(key, p.SendKey)
	for _, bin := range bins {
		b.estimateOperationSizeForBin(bin)
	}
	b.sizeBuffer()
	b.writeHeaderWrite(p, 0, Info2Write, fieldCount, len(bins))
	b.writeKey(key, p.SendKey)
	for _, bin := range bins {
		b.writeOperationForBin(bin, op)
	}
	b.end(ProtoTypeMessage)
	return nil
}

// SetDelete builds a delete command.
func (b *Buffer) SetDelete(p *policy.WritePolicy, key *types.Key) error {
	b.begin()
	fieldCount := b.estimateKeySize(key, false)
	b.sizeBuffer()
	b.writeHeaderWrite(p, 0, Info2Write|Info2Delete, fieldCount, 0)
	b.writeKey(key, false)
	b.end(ProtoTypeMessage)
	return nil
}

// SetTouch builds a touch command that resets the record expiration
// without changing any bins.
func (b *Buffer) SetTouch(p *policy.WritePolicy, key *types.Key) error {
	b.begin()
	fieldCount := b.estimateKeySize(key, p.SendKey)
	b.estimateOperationSize()
	b.sizeBuffer()
	b.writeHeaderWrite(p, 0, Info2Write, fieldCount, 1)
	b.writeKey(key, p.SendKey)
	b.writeOperationForOperationType(OpTouch)
	b.end(ProtoTypeMessage)
	return nil
}

// SetExists builds an existence check that returns no bin data.
func (b *Buffer) SetExists(p *policy.BasePolicy, key *types.Key) error {
	b.begin()
	fieldCount := b.estimateKeySize(key, false)
	b.sizeBuffer()
	b.writeHeaderRead(p, Info1Read|Info1NoBinData, 0, fieldCount, 0)
	b.writeKey(key, false)
	b.end(ProtoTypeMessage)
	return nil
}

// SetRead builds a read command. An empty binNames list requests all
// bins of the record.
func (b *Buffer) SetRead(p *policy.BasePolicy, key *types.Key, binNames []string) error {
	if len(binNames) == 0 {
		return b.SetReadForKeyOnly(p, key)
	}
	b.begin()
	fieldCount := b.estimateKeySize(key, false)
	for _, name := range binNames {
		b.estimateOperationSizeForBinName(name)
	}
	b.sizeBuffer()
	b.writeHeaderRead(p, Info1Read, 0, fieldCount, len(binNames))
	b.writeKey(key, false)
	for _, name := range binNames {
		b.writeOperationForBinName(name, OpRead)
	}
	b.end(ProtoTypeMessage)
	return nil
}

// SetReadForKeyOnly builds a read command that requests every bin.
func (b *Buffer) SetReadForKeyOnly(p *policy.BasePolicy, key *types.Key) error {
	b.begin()
	fieldCount := b.estimateKeySize(key, false)
	b.sizeBuffer()
	b.writeHeaderRead(p, Info1Read|Info1GetAll, 0, fieldCount, 0)
	b.writeKey(key, false)
	b.end(ProtoTypeMessage)
	return nil
}

// SetReadHeader builds a read that only returns generation and
// expiration metadata.
func (b *Buffer) SetReadHeader(p *policy.BasePolicy, key *types.Key) error {
	b.begin()
	fieldCount := b.estimateKeySize(key, false)
	b.sizeBuffer()
	b.writeHeaderRead(p, Info1Read|Info1NoBinData, 0, fieldCount, 0)
	b.writeKey(key, false)
	b.end(ProtoTypeMessage)
	return nil
}

// SetOperate builds a command that applies multiple operations to a
// single record in order.
func (b *Buffer) SetOperate(p *policy.WritePolicy, key *types.Key, operations []*Operation) error {
	if len(operations) == 0 {
		return fmt.Errorf("operate requires at least one operation")
	}

	var readAttr, writeAttr uint8
	b.begin()
	for _, op := range operations {
		switch op.Op {
		case OpRead, OpCDTRead:
			readAttr |= Info1Read
			if op.BinName == "" {
				readAttr |= Info1GetAll
			}
		default:
			writeAttr |= Info2Write
		}
		if op.BinValue != nil {
			b.pos += len(op.BinName) + op.BinValue.EstimateSize() + OperationHeaderSize
		} else {
			b.estimateOperationSizeForBinName(op.BinName)
		}
	}
	if writeAttr != 0 && readAttr != 0 {
		writeAttr |= Info2RespondAllOps
	}
	fieldCount := b.estimateKeySize(key, p.SendKey && writeAttr != 0)
	b.sizeBuffer()
	b.writeHeaderWrite(p, readAttr, writeAttr, fieldCount, len(operations))
	b.writeKey(key, p.SendKey && writeAttr != 0)
	for _, op := range operations {
		if op.BinValue != nil {
			b.writeOperationForBin(&types.Bin{Name: op.BinName, Value: op.BinValue}, op.Op)
		} else {
			b.writeOperationForBinName(op.BinName, op.Op)
		}
	}
	b.end(ProtoTypeMessage)
	return nil
}

// ----- Batch -----

// SetBatchRead builds a batch index read for the given keys. offsets
// holds the position of every key in the original request so the caller
// can reassemble the results. Consecutive keys sharing namespace, set
// and bin selection are run length compressed on the wire.
func (b *Buffer) SetBatchRead(p *policy.BatchPolicy, keys []*types.Key, offsets []int, binNames []string, noBinData bool) error {
	if len(keys) != len(offsets) {
		return fmt.Errorf("batch keys and offsets differ in length: %d vs %d", len(keys), len(offsets))
	}
	if len(keys) == 0 {
		return fmt.Errorf("batch requires at least one key")
	}

	fieldType := FieldBatchIndex
	if p.SendSetName {
		fieldType = FieldBatchIndexWithSet
	}

	// sizing pass
	b.begin()
	b.pos += FieldHeaderSize + 5 // field header, key count, inline flag
	var prev *types.Key
	for _, key := range keys {
		b.pos += 4 + types.DigestSize + 1 // index, digest, repeat flag
		if !canRepeat(p, prev, key) {
			b.pos += 5 // read attr, field count, op count
			b.pos += len(key.Namespace()) + FieldHeaderSize
			if p.SendSetName {
				b.pos += len(key.SetName()) + FieldHeaderSize
			}
			for _, name := range binNames {
				b.pos += len(name) + OperationHeaderSize
			}
		}
		prev = key
	}
	fieldSize := b.pos - TotalHeaderSize - FieldHeaderSize
	b.sizeBuffer()

	readAttr := uint8(Info1Read | Info1Batch)
	if noBinData {
		readAttr |= Info1NoBinData
	}
	innerReadAttr := readAttr &^ uint8(Info1Batch)
	if len(binNames) == 0 && !noBinData {
		innerReadAttr |= Info1GetAll
	}

	b.writeHeaderRead(&p.BasePolicy, readAttr, 0, 1, 0)
	b.writeFieldHeader(fieldSize, fieldType)
	b.writeUint32(uint32(len(keys)))
	if p.AllowInline {
		b.writeUint8(1)
	} else {
		b.writeUint8(0)
	}

	innerFieldCount := 1
	if p.SendSetName {
		innerFieldCount = 2
	}

	prev = nil
	for i, key := range keys {
		b.writeUint32(uint32(offsets[i]))
		digest := key.Digest()
		b.writeBytes(digest[:])
		if canRepeat(p, prev, key) {
			b.writeUint8(1)
		} else {
			b.writeUint8(0)
			b.writeUint8(innerReadAttr)
			b.writeUint16(uint16(innerFieldCount))
			b.writeUint16(uint16(len(binNames)))
			b.writeFieldString(key.Namespace(), FieldNamespace)
			if p.SendSetName {
				b.writeFieldString(key.SetName(), FieldTable)
			}
			for _, name := range binNames {
				b.writeOperationForBinName(name, OpRead)
			}
		}
		prev = key
	}
	b.end(ProtoTypeMessage)
	return nil
}

// canRepeat reports whether key can reuse the sub header of prev
func canRepeat(p *policy.BatchPolicy, prev, key *types.Key) bool {
	if prev == nil {
		return false
	}
	if prev.Namespace() != key.Namespace() {
		return false
	}
	return !p.SendSetName || prev.SetName() == key.SetName()
}

// ----- Scan -----

// SetScan builds a scan over the given partitions of a namespace. The
// partition list is encoded as little endian 16 bit ids. taskID ties all
// per node sub scans of one logical scan together on the server.
func (b *Buffer) SetScan(p *policy.ScanPolicy, namespace, setName string, binNames []string, taskID uint64, partitions []uint16) error {
	if len(partitions) == 0 {
		return fmt.Errorf("scan requires at least one partition")
	}

	b.begin()
	fieldCount := 0
	if namespace != "" {
		b.pos += len(namespace) + FieldHeaderSize
		fieldCount++
	}
	if setName != "" {
		b.pos += len(setName) + FieldHeaderSize
		fieldCount++
	}
	b.pos += len(partitions)*2 + FieldHeaderSize // pid array
	fieldCount++
	b.pos += 4 + FieldHeaderSize // socket timeout
	fieldCount++
	b.pos += 8 + FieldHeaderSize // task id
	fieldCount++
	for _, name := range binNames {
		b.estimateOperationSizeForBinName(name)
	}
	b.sizeBuffer()

	readAttr := uint8(Info1Read)
	if !p.IncludeBinData {
		readAttr |= Info1NoBinData
	}
	b.writeHeaderRead(&p.BasePolicy, readAttr, 0, fieldCount, len(binNames))

	if namespace != "" {
		b.writeFieldString(namespace, FieldNamespace)
	}
	if setName != "" {
		b.writeFieldString(setName, FieldTable)
	}
	b.writeFieldHeader(len(partitions)*2, FieldPIDArray)
	for _, pid := range partitions {
		binary.LittleEndian.PutUint16(b.data[b.pos:b.pos+2], pid)
		b.pos += 2
	}
	b.writeFieldHeader(4, FieldScanTimeout)
	b.writeUint32(timeoutMillis(p.SocketTimeout))
	b.writeFieldHeader(8, FieldTranID)
	b.writeUint64(taskID)
	for _, name := range binNames {
		b.writeOperationForBinName(name, OpRead)
	}
	b.end(ProtoTypeMessage)
	return nil
}

// ----- Info -----

// SetInfo builds a text info request. Commands are joined with newlines.
func (b *Buffer) SetInfo(commands ...string) error {
	var body bytes.Buffer
	for _, cmd := range commands {
		body.WriteString(cmd)
		body.WriteByte('\n')
	}

	size := ProtoHeaderSize + body.Len()
	if size > len(b.data) {
		b.data = make([]byte, size)
	}
	b.pos = 0
	EncodeProtoHeader(b.data[0:8], ProtoTypeInfo, int64(body.Len()))
	b.pos = ProtoHeaderSize
	b.writeBytes(body.Bytes())
	return nil
}
