// Package types provides the core data types of the skv client library.
// It defines the values that can be stored in record bins, the keys that
// identify records, and the records returned by read operations.
//
// The package focuses on:
//   - A tagged Value union covering all particle types of the wire protocol
//   - Deterministic binary encoding for every value variant
//   - Record keys with a precomputed RIPEMD-160 digest used for routing
//   - Records as returned by single reads, batch reads and scans
//
// Key Components:
//
//   - Value: Interface implemented by all storable value variants. Each
//     variant knows its particle type, its encoded size and how to write
//     itself into a command buffer.
//
//   - Key: Unique record identifier consisting of namespace, set name and
//     user key. The 20 byte digest is computed once at construction time
//     and determines the partition the record lives in.
//
//   - Record: The result of a read operation, holding the bin values along
//     with the server side generation counter and expiration.
//
// Thread Safety:
//
//	All types in this package are immutable after construction and safe
//	for concurrent use across multiple goroutines.
package types
