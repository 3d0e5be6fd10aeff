// Package rpc implements the network layer of the skv client. It speaks
// the binary wire protocol of the cluster nodes, tracks the cluster
// topology and routes record commands to the node owning each key.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the network
//     layer, including host parsing, configuration structures, and logging.
//
//   - wire: The binary wire codec. Builds request frames and parses
//     response frames without performing any network I/O.
//
//   - conn: Node connections and the per-node connection pool, including
//     the login and authentication handshake.
//
//   - cluster: Cluster state tracking. Discovers nodes via their announced
//     peers and maintains the partition ownership map.
//
//   - client: The public client API. Executes single-record, batch and
//     scan commands with retries and failure classification.
package rpc
