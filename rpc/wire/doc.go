// Package wire implements the binary protocol spoken between the skv
// client and the cluster nodes. The package performs no network I/O: it
// turns operations into byte buffers and byte buffers back into records,
// which makes every encoder and parser testable offline.
//
// A command frame starts with an 8 byte proto header (version, message
// type, 48 bit payload size) followed, for regular commands, by a 22 byte
// message header, a list of typed fields (namespace, set, digest, ...)
// and a list of operations (one per bin).
//
// Key Components:
//
//   - Buffer: Builder for all command types. One Set* method per command
//     (write, read, delete, touch, exists, operate, batch read, scan,
//     info, login). Buffers are reusable across commands.
//
//   - ProtoHeader / MessageHeader: The two fixed size headers with their
//     parse functions and sanity checks.
//
//   - ParseSingleResponse / StreamParser: Decoders for single record
//     responses and for the multi record streams returned by batch reads
//     and scans.
//
//   - ResultCode: Server status codes with the classification used by the
//     retry logic.
//
//   - Info encoding and parsing for the text based info protocol used by
//     the cluster tender.
package wire
