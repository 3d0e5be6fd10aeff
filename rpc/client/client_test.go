package client

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/skv/lib/policy"
	"github.com/ValentinKolb/skv/lib/types"
	"github.com/ValentinKolb/skv/rpc/wire"
)

// ----- Fake Node -----

// storedRecord is one record held by the fake node
type storedRecord struct {
	namespace  string
	setName    string
	digest     [types.DigestSize]byte
	bins       types.BinMap
	generation uint32
}

// fakeKVNode speaks enough of the wire protocol to back the client in
// tests: info commands for the cluster tender, single record commands,
// batch reads and scans.
type fakeKVNode struct {
	ln net.Listener

	mu      sync.Mutex
	records map[[types.DigestSize]byte]*storedRecord
	info    map[string]string
	conns   map[net.Conn]struct{}

	// failures makes the node answer that many record commands with a
	// timeout code before behaving again
	failures atomic.Int32
}

func startKVNode(t *testing.T, name string) *fakeKVNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	f := &fakeKVNode{
		ln:      ln,
		records: map[[types.DigestSize]byte]*storedRecord{},
		info: map[string]string{
			"node":                 name,
			"partition-generation": "1",
			"services":             "",
			"replicas-master":      "test:",
		},
		conns: map[net.Conn]struct{}{},
	}
	t.Cleanup(f.stop)

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.conns[c] = struct{}{}
			f.mu.Unlock()
			go f.serve(c)
		}
	}()
	return f
}

func (f *fakeKVNode) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeKVNode) setInfo(name, value string) {
	f.mu.Lock()
	f.info[name] = value
	f.mu.Unlock()
}

// stop closes the listener and all accepted connections, simulating a
// node going down hard. Safe to call more than once.
func (f *fakeKVNode) stop() {
	_ = f.ln.Close()
	f.mu.Lock()
	for c := range f.conns {
		_ = c.Close()
	}
	f.conns = map[net.Conn]struct{}{}
	f.mu.Unlock()
}

func (f *fakeKVNode) serve(c net.Conn) {
	defer func() {
		_ = c.Close()
		f.mu.Lock()
		delete(f.conns, c)
		f.mu.Unlock()
	}()
	hdrBuf := make([]byte, wire.ProtoHeaderSize)
	for {
		if _, err := io.ReadFull(c, hdrBuf); err != nil {
			return
		}
		hdr, err := wire.ParseProtoHeader(hdrBuf)
		if err != nil {
			return
		}
		payload := make([]byte, hdr.Size)
		if _, err := io.ReadFull(c, payload); err != nil {
			return
		}

		var response []byte
		switch hdr.Type {
		case wire.ProtoTypeInfo:
			response = f.handleInfo(payload)
		case wire.ProtoTypeMessage:
			response = f.handleMessage(payload)
		default:
			return
		}
		if _, err := c.Write(response); err != nil {
			return
		}
	}
}

func (f *fakeKVNode) handleInfo(payload []byte) []byte {
	f.mu.Lock()
	values := make(map[string]string, len(f.info))
	for name, value := range f.info {
		values[name] = value
	}
	f.mu.Unlock()

	var body strings.Builder
	for _, command := range strings.Split(string(payload), "\n") {
		if command == "" {
			continue
		}
		if value, ok := values[command]; ok {
			fmt.Fprintf(&body, "%s\t%s\n", command, value)
		}
	}
	frame := make([]byte, wire.ProtoHeaderSize+body.Len())
	wire.EncodeProtoHeader(frame[0:8], wire.ProtoTypeInfo, int64(body.Len()))
	copy(frame[wire.ProtoHeaderSize:], body.String())
	return frame
}

func (f *fakeKVNode) handleMessage(payload []byte) []byte {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return frameMessages(msgHeaderOnly(wire.ResultTimeout, 0, 0))
	}

	hdr, err := wire.ParseMessageHeader(payload)
	if err != nil {
		return frameMessages(msgHeaderOnly(wire.ResultParameterError, 0, 0))
	}

	if hdr.ReadAttr&wire.Info1Batch != 0 {
		return f.handleBatch(payload)
	}

	parsed, err := wire.ParseSingleResponse(payload)
	if err != nil {
		return frameMessages(msgHeaderOnly(wire.ResultParameterError, 0, 0))
	}
	if parsed.Key == nil {
		// no digest field means a scan request
		return f.handleScan()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	digest := parsed.Key.Digest()
	record := f.records[digest]

	switch {
	case hdr.WriteAttr&wire.Info2Delete != 0:
		if record == nil {
			return frameMessages(msgHeaderOnly(wire.ResultKeyNotFound, 0, 0))
		}
		delete(f.records, digest)
		return frameMessages(msgHeaderOnly(wire.ResultOk, 0, 0))

	case hdr.WriteAttr&wire.Info2Write != 0:
		if hdr.WriteAttr&wire.Info2CreateOnly != 0 && record != nil {
			return frameMessages(msgHeaderOnly(wire.ResultKeyExists, 0, 0))
		}
		if hdr.InfoAttr&wire.Info3UpdateOnly != 0 && record == nil {
			return frameMessages(msgHeaderOnly(wire.ResultKeyNotFound, 0, 0))
		}
		if isTouch(parsed.Bins) {
			if record == nil {
				return frameMessages(msgHeaderOnly(wire.ResultKeyNotFound, 0, 0))
			}
			record.generation++
			return frameMessages(msgHeaderOnly(wire.ResultOk, record.generation, 0))
		}
		if record == nil {
			record = &storedRecord{
				namespace: parsed.Key.Namespace(),
				setName:   parsed.Key.SetName(),
				digest:    digest,
				bins:      types.BinMap{},
			}
			f.records[digest] = record
		}
		for name, value := range parsed.Bins {
			record.bins[name] = value
		}
		record.generation++
		return frameMessages(msgHeaderOnly(wire.ResultOk, record.generation, 0))

	default: // read
		if record == nil {
			return frameMessages(msgHeaderOnly(wire.ResultKeyNotFound, 0, 0))
		}
		if hdr.ReadAttr&wire.Info1NoBinData != 0 {
			return frameMessages(msgHeaderOnly(wire.ResultOk, record.generation, 0))
		}
		bins := record.bins
		if hdr.OperationCount > 0 {
			// the requested bin names arrive as read operations
			bins = types.BinMap{}
			for name := range parsed.Bins {
				if value, ok := record.bins[name]; ok {
					bins[name] = value
				}
			}
		}
		return frameMessages(msgRecord(wire.ResultOk, record.generation, 0, nil, bins))
	}
}

// handleBatch decodes the batch index field and answers with one message
// per requested key plus the termination marker
func (f *fakeKVNode) handleBatch(payload []byte) []byte {
	pos := wire.MessageHeaderSize
	pos += wire.FieldHeaderSize // batch field header
	count := int(binary.BigEndian.Uint32(payload[pos : pos+4]))
	pos += 5 // key count and inline flag

	var messages [][]byte
	f.mu.Lock()
	for i := 0; i < count; i++ {
		index := binary.BigEndian.Uint32(payload[pos : pos+4])
		pos += 4
		var digest [types.DigestSize]byte
		copy(digest[:], payload[pos:pos+types.DigestSize])
		pos += types.DigestSize

		if payload[pos] == 0 { // full sub header, skip it
			pos++
			fieldCount := int(binary.BigEndian.Uint16(payload[pos+1 : pos+3]))
			opCount := int(binary.BigEndian.Uint16(payload[pos+3 : pos+5]))
			pos += 5
			for j := 0; j < fieldCount; j++ {
				size := int(binary.BigEndian.Uint32(payload[pos : pos+4]))
				pos += 4 + size
			}
			for j := 0; j < opCount; j++ {
				size := int(binary.BigEndian.Uint32(payload[pos : pos+4]))
				pos += 4 + size
			}
		} else {
			pos++
		}

		if record := f.records[digest]; record != nil {
			messages = append(messages, msgRecord(wire.ResultOk, record.generation, index, record, record.bins))
		} else {
			messages = append(messages, msgHeaderOnly(wire.ResultKeyNotFound, 0, index))
		}
	}
	f.mu.Unlock()

	messages = append(messages, msgLast())
	return frameMessages(messages...)
}

func (f *fakeKVNode) handleScan() []byte {
	f.mu.Lock()
	var messages [][]byte
	for _, record := range f.records {
		messages = append(messages, msgRecord(wire.ResultOk, record.generation, 0, record, record.bins))
	}
	f.mu.Unlock()

	messages = append(messages, msgLast())
	return frameMessages(messages...)
}

// isTouch reports whether a parsed write carries only the empty touch
// operation
func isTouch(bins types.BinMap) bool {
	if len(bins) != 1 {
		return false
	}
	_, ok := bins[""]
	return ok
}

// ----- Response Builders -----

func msgHeaderOnly(rc wire.ResultCode, generation, batchIndex uint32) []byte {
	msg := make([]byte, wire.MessageHeaderSize)
	msg[0] = wire.MessageHeaderSize
	msg[5] = uint8(rc)
	binary.BigEndian.PutUint32(msg[6:10], generation)
	binary.BigEndian.PutUint32(msg[14:18], batchIndex)
	return msg
}

func msgLast() []byte {
	msg := make([]byte, wire.MessageHeaderSize)
	msg[0] = wire.MessageHeaderSize
	msg[3] = wire.Info3Last
	return msg
}

// msgRecord builds a full record message. record may be nil when no key
// fields should be included.
func msgRecord(rc wire.ResultCode, generation, batchIndex uint32, record *storedRecord, bins types.BinMap) []byte {
	msg := msgHeaderOnly(rc, generation, batchIndex)

	fieldCount := 0
	if record != nil {
		appendStrField := func(value string, ftype wire.FieldType) {
			var hdr [5]byte
			binary.BigEndian.PutUint32(hdr[0:4], uint32(len(value)+1))
			hdr[4] = uint8(ftype)
			msg = append(msg, hdr[:]...)
			msg = append(msg, value...)
			fieldCount++
		}
		appendStrField(record.namespace, wire.FieldNamespace)
		appendStrField(record.setName, wire.FieldTable)
		appendStrField(string(record.digest[:]), wire.FieldDigestRipe)
	}

	opCount := 0
	for name, value := range bins {
		particle := make([]byte, value.EstimateSize())
		value.WriteBytes(particle)
		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[0:4], uint32(4+len(name)+len(particle)))
		hdr[4] = uint8(wire.OpRead)
		hdr[5] = uint8(value.Type())
		hdr[7] = uint8(len(name))
		msg = append(msg, hdr[:]...)
		msg = append(msg, name...)
		msg = append(msg, particle...)
		opCount++
	}

	binary.BigEndian.PutUint16(msg[18:20], uint16(fieldCount))
	binary.BigEndian.PutUint16(msg[20:22], uint16(opCount))
	return msg
}

// frameMessages wraps messages into a single proto frame
func frameMessages(messages ...[]byte) []byte {
	size := 0
	for _, msg := range messages {
		size += len(msg)
	}
	frame := make([]byte, wire.ProtoHeaderSize, wire.ProtoHeaderSize+size)
	wire.EncodeProtoHeader(frame[0:8], wire.ProtoTypeMessage, int64(size))
	for _, msg := range messages {
		frame = append(frame, msg...)
	}
	return frame
}

// ----- Test Setup -----

func newTestClient(t *testing.T, node *fakeKVNode) *Client {
	t.Helper()
	cp := policy.NewClientPolicy()
	cp.TendInterval = 20 * time.Millisecond
	cp.Timeout = 2 * time.Second
	cp.LoginTimeout = time.Second

	c, err := NewClient(cp, node.addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(c.Close)

	// the tests need the partition map in place
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.cluster.PartitionAssignments("test") != nil {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("partition map was not populated in time")
	return nil
}

func testKey(t *testing.T, userKey interface{}) *types.Key {
	t.Helper()
	key, err := types.NewKey("test", "demo", userKey)
	if err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	return key
}

func testBin(t *testing.T, name string, value interface{}) *types.Bin {
	t.Helper()
	bin, err := types.NewBin(name, value)
	if err != nil {
		t.Fatalf("failed to create bin: %v", err)
	}
	return &bin
}

// ----- Tests -----

func TestClientPutGetDelete(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)
	key := testKey(t, "user-1")

	if err := c.Put(nil, key, testBin(t, "name", "alice"), testBin(t, "age", int64(30))); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	record, err := c.Get(nil, key)
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if record.Generation != 1 {
		t.Errorf("expected generation 1, got %d", record.Generation)
	}
	if got := record.Bins["name"].Object(); got != "alice" {
		t.Errorf("expected name alice, got %v", got)
	}
	if got := record.Bins["age"].Object(); got != int64(30) {
		t.Errorf("expected age 30, got %v", got)
	}

	exists, err := c.Exists(nil, key)
	if err != nil || !exists {
		t.Errorf("expected record to exist, got %v %v", exists, err)
	}

	existed, err := c.Delete(nil, key)
	if err != nil || !existed {
		t.Errorf("expected delete to report existence, got %v %v", existed, err)
	}
	existed, err = c.Delete(nil, key)
	if err != nil || existed {
		t.Errorf("second delete must report a missing record, got %v %v", existed, err)
	}
}

func TestClientGetMissing(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)

	if _, err := c.Get(nil, testKey(t, "nobody")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	if exists, err := c.Exists(nil, testKey(t, "nobody")); err != nil || exists {
		t.Errorf("expected record to be absent, got %v %v", exists, err)
	}
}

func TestClientGetSelectedBins(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)
	key := testKey(t, "user-2")

	if err := c.Put(nil, key, testBin(t, "a", int64(1)), testBin(t, "b", int64(2))); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	record, err := c.Get(nil, key, "a")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if len(record.Bins) != 1 {
		t.Fatalf("expected exactly one bin, got %v", record.Bins)
	}
	if got := record.Bins["a"].Object(); got != int64(1) {
		t.Errorf("expected a=1, got %v", got)
	}
}

func TestClientGetHeader(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)
	key := testKey(t, "user-3")

	if err := c.Put(nil, key, testBin(t, "x", int64(1))); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	record, err := c.GetHeader(nil, key)
	if err != nil {
		t.Fatalf("failed to get header: %v", err)
	}
	if record.Generation != 1 {
		t.Errorf("expected generation 1, got %d", record.Generation)
	}
	if len(record.Bins) != 0 {
		t.Errorf("header read must not return bins, got %v", record.Bins)
	}
}

func TestClientTouch(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)
	key := testKey(t, "user-4")

	if err := c.Touch(nil, key); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("touching a missing record must fail, got %v", err)
	}

	if err := c.Put(nil, key, testBin(t, "x", int64(1))); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if err := c.Touch(nil, key); err != nil {
		t.Errorf("failed to touch: %v", err)
	}
	record, err := c.GetHeader(nil, key)
	if err != nil {
		t.Fatalf("failed to get header: %v", err)
	}
	if record.Generation != 2 {
		t.Errorf("touch must bump the generation, got %d", record.Generation)
	}
}

func TestClientCreateOnly(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)
	key := testKey(t, "user-5")

	wp := policy.NewWritePolicy(0, 0)
	wp.RecordExistsAction = policy.CreateOnly

	if err := c.Put(wp, key, testBin(t, "x", int64(1))); err != nil {
		t.Fatalf("first create must succeed: %v", err)
	}
	if err := c.Put(wp, key, testBin(t, "x", int64(2))); !errors.Is(err, ErrKeyExists) {
		t.Errorf("expected ErrKeyExists, got %v", err)
	}
}

func TestClientBatchGet(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)

	keys := make([]*types.Key, 5)
	for i := range keys {
		keys[i] = testKey(t, fmt.Sprintf("batch-%d", i))
	}
	// only even keys exist
	for i := 0; i < len(keys); i += 2 {
		if err := c.Put(nil, keys[i], testBin(t, "idx", int64(i))); err != nil {
			t.Fatalf("failed to put key %d: %v", i, err)
		}
	}

	records, err := c.BatchGet(nil, keys)
	if err != nil {
		t.Fatalf("failed to batch get: %v", err)
	}
	if len(records) != len(keys) {
		t.Fatalf("expected %d results, got %d", len(keys), len(records))
	}
	for i, record := range records {
		if i%2 == 0 {
			if record == nil {
				t.Errorf("key %d must be present", i)
				continue
			}
			if got := record.Bins["idx"].Object(); got != int64(i) {
				t.Errorf("key %d: expected idx=%d, got %v", i, i, got)
			}
			if record.Key != keys[i] {
				t.Errorf("key %d: result must reference the request key", i)
			}
		} else if record != nil {
			t.Errorf("key %d must be absent, got %v", i, record)
		}
	}

	exists, err := c.BatchExists(nil, keys)
	if err != nil {
		t.Fatalf("failed to batch exists: %v", err)
	}
	for i, e := range exists {
		if e != (i%2 == 0) {
			t.Errorf("key %d: expected exists=%v", i, i%2 == 0)
		}
	}
}

// ownedBitmap builds a replicas-master bitmap covering the partition
// range [from, to)
func ownedBitmap(from, to int) string {
	bitmap := make([]byte, types.Partitions/8)
	for pid := from; pid < to; pid++ {
		bitmap[pid>>3] |= 0x80 >> uint(pid&7)
	}
	return base64.StdEncoding.EncodeToString(bitmap)
}

func TestClientBatchGetNodeFailure(t *testing.T) {
	nodeA := startKVNode(t, "PA")
	nodeB := startKVNode(t, "PB")
	nodeA.setInfo("replicas-master", "test:"+ownedBitmap(0, types.Partitions/2))
	nodeB.setInfo("replicas-master", "test:"+ownedBitmap(types.Partitions/2, types.Partitions))

	cp := policy.NewClientPolicy()
	cp.Timeout = 2 * time.Second
	cp.LoginTimeout = time.Second
	// keep the topology fixed so the dead node stays in the map
	cp.TendInterval = time.Minute

	c, err := NewClient(cp, nodeA.addr(), nodeB.addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(c.Close)

	deadline := time.Now().Add(2 * time.Second)
	for len(c.cluster.PartitionAssignments("test")) != 2 {
		if time.Now().After(deadline) {
			t.Fatal("partition map did not cover both nodes in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// collect three keys per half of the partition space
	var lowKeys, highKeys []*types.Key
	for i := 0; len(lowKeys) < 3 || len(highKeys) < 3; i++ {
		key := testKey(t, fmt.Sprintf("split-%d", i))
		if key.PartitionID() < types.Partitions/2 {
			if len(lowKeys) < 3 {
				lowKeys = append(lowKeys, key)
			}
		} else if len(highKeys) < 3 {
			highKeys = append(highKeys, key)
		}
	}
	keys := []*types.Key{lowKeys[0], highKeys[0], lowKeys[1], highKeys[1], lowKeys[2], highKeys[2]}
	for i, key := range keys {
		if err := c.Put(nil, key, testBin(t, "idx", int64(i))); err != nil {
			t.Fatalf("failed to put key %d: %v", i, err)
		}
	}

	nodeB.stop()

	records, err := c.BatchGet(nil, keys)
	if err == nil {
		t.Fatal("expected an error naming the dead node")
	}
	if !strings.Contains(err.Error(), "PB") {
		t.Errorf("error must name the failed node, got %v", err)
	}
	if len(records) != len(keys) {
		t.Fatalf("expected %d results, got %d", len(keys), len(records))
	}
	for i, record := range records {
		owned := keys[i].PartitionID() < types.Partitions/2
		if owned {
			if record == nil {
				t.Errorf("key %d on the live node must be returned", i)
				continue
			}
			if got := record.Bins["idx"].Object(); got != int64(i) {
				t.Errorf("key %d: expected idx=%d, got %v", i, i, got)
			}
		} else if record != nil {
			t.Errorf("key %d on the dead node must stay nil, got %v", i, record)
		}
	}
}

func TestClientBatchGetEmpty(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)

	records, err := c.BatchGet(nil, nil)
	if err != nil || records != nil {
		t.Errorf("empty batch must be a no-op, got %v %v", records, err)
	}
}

func TestClientScan(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)

	const total = 25
	for i := 0; i < total; i++ {
		if err := c.Put(nil, testKey(t, fmt.Sprintf("scan-%d", i)), testBin(t, "idx", int64(i))); err != nil {
			t.Fatalf("failed to put record %d: %v", i, err)
		}
	}

	rs, err := c.Scan(nil, "test", "demo")
	if err != nil {
		t.Fatalf("failed to start scan: %v", err)
	}
	defer rs.Close()

	seen := 0
	for result := range rs.Results() {
		if result.Err != nil {
			t.Fatalf("scan failed: %v", result.Err)
		}
		if result.Record.Key == nil {
			t.Error("scan records must carry their key digest")
		}
		seen++
	}
	if seen != total {
		t.Errorf("expected %d records, got %d", total, seen)
	}
}

func TestClientRetriesTransientFailure(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)
	key := testKey(t, "flaky")

	if err := c.Put(nil, key, testBin(t, "x", int64(1))); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	// the next two commands time out server side, the third succeeds
	node.failures.Store(2)

	bp := policy.NewBasePolicy()
	bp.MaxRetries = 2
	bp.SleepBetweenRetries = time.Millisecond

	if _, err := c.Get(bp, key); err != nil {
		t.Errorf("expected retries to succeed, got %v", err)
	}
}

func TestClientRetriesExhausted(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)
	key := testKey(t, "flaky")

	node.failures.Store(10)

	bp := policy.NewBasePolicy()
	bp.MaxRetries = 1
	bp.SleepBetweenRetries = time.Millisecond

	if _, err := c.Get(bp, key); err == nil {
		t.Error("expected failure after exhausting retries")
	}
}

func TestClientClosed(t *testing.T) {
	node := startKVNode(t, "A1")
	c := newTestClient(t, node)
	c.Close()

	if _, err := c.Get(nil, testKey(t, "x")); !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
	if c.IsConnected() {
		t.Error("closed client must not report connected")
	}
}
