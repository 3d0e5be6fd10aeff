// Package client provides the user facing API of the skv client.
//
// A Client connects to a cluster through seed hosts and routes every
// command to the node owning the record's partition. Transient failures
// are retried with exponential backoff, topology related failures
// additionally trigger an immediate cluster refresh.
//
// Key Components:
//
//   - IClient: The operation interface (Get, GetHeader, Exists, Put,
//     Append, Prepend, Add, Delete, Touch, Operate, BatchGet,
//     BatchExists, Scan). Created via NewClient.
//
//   - Recordset: Streaming result of a scan. Records arrive on a
//     channel while the scan runs on all nodes in parallel.
//
//   - ResultError: Server side failure of a command, carrying the
//     server's result code.
//
// Batch reads split the key list by owning node and query the nodes in
// parallel. A failing node only fails its own keys, results from the
// other nodes are still returned.
//
// Usage Example:
//
//	c, _ := client.NewClient(policy.NewClientPolicy(), "localhost:3000")
//	defer c.Close()
//
//	key, _ := types.NewKey("test", "users", "alice")
//	bin, _ := types.NewBin("age", 42)
//	_ = c.Put(nil, key, &bin)
//
//	record, _ := c.Get(nil, key)
package client
