// Package cluster tracks the topology of the cluster and routes
// partitions to nodes.
//
// Key Components:
//
//   - Cluster: Owns the node list and the partition map. A background
//     tend loop probes every node at a fixed interval, discovers peers
//     through the announced services lists, drops unreachable nodes and
//     refreshes the partition ownership when a node reports a new
//     partition generation. Commands that hit a stale topology can
//     request an immediate out of cycle tend.
//
//   - Node: One cluster member with its own bounded connection pool and
//     health counters. Probing happens over the text info protocol.
//
//   - The partition map is an immutable snapshot mapping namespace and
//     partition id to the owning node. Lookups never block the tender,
//     a new snapshot is swapped in atomically after every change.
package cluster
