package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ripemd160"
)

// Partitions is the fixed number of partitions a namespace is split into
const Partitions = 4096

// DigestSize is the length of a record digest in bytes
const DigestSize = 20

// --------------------------------------------------------------------------
// Key
// --------------------------------------------------------------------------

// Key uniquely identifies a record. The digest is computed once at
// construction from the set name and the user key and never changes.
type Key struct {
	namespace string
	setName   string
	userKey   Value
	digest    [DigestSize]byte
}

// NewKey creates a key from a namespace, a set name and a user key. Only
// integers, strings and blobs are valid user key types.
func NewKey(namespace, setName string, userKey interface{}) (*Key, error) {
	val, err := NewValue(userKey)
	if err != nil {
		return nil, err
	}

	switch val.(type) {
	case IntegerValue, StringValue, BlobValue:
		// valid key types
	default:
		return nil, fmt.Errorf("value of type %T is not supported as a key", userKey)
	}

	k := &Key{
		namespace: namespace,
		setName:   setName,
		userKey:   val,
	}
	k.computeDigest()

	return k, nil
}

// NewKeyByDigest creates a key from a namespace, a set name and a raw
// digest. Used for records coming back from scans, where the server only
// returns the digest.
func NewKeyByDigest(namespace, setName string, digest [DigestSize]byte) *Key {
	return &Key{
		namespace: namespace,
		setName:   setName,
		digest:    digest,
	}
}

// computeDigest hashes set name, particle type and canonical key bytes
func (k *Key) computeDigest() {
	h := ripemd160.New()
	h.Write([]byte(k.setName))
	h.Write([]byte{byte(k.userKey.Type())})

	switch v := k.userKey.(type) {
	case IntegerValue:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(int64(v)))
		h.Write(buf[:])
	case StringValue:
		h.Write([]byte(v))
	case BlobValue:
		h.Write(v)
	}

	h.Sum(k.digest[:0])
}

// Namespace returns the namespace of the key
func (k *Key) Namespace() string { return k.namespace }

// SetName returns the set name of the key
func (k *Key) SetName() string { return k.setName }

// UserKey returns the original user key or nil for digest only keys
func (k *Key) UserKey() Value { return k.userKey }

// Digest returns the 20 byte record digest
func (k *Key) Digest() [DigestSize]byte { return k.digest }

// PartitionID returns the partition this key is routed to. It is derived
// from the first four digest bytes, little endian.
func (k *Key) PartitionID() int {
	return int(binary.LittleEndian.Uint32(k.digest[0:4])) & (Partitions - 1)
}

// String returns a human readable representation of the key
func (k *Key) String() string {
	if k.userKey != nil {
		return fmt.Sprintf("%s:%s:%s", k.namespace, k.setName, k.userKey.String())
	}
	return fmt.Sprintf("%s:%s:%s", k.namespace, k.setName, hex.EncodeToString(k.digest[:]))
}
