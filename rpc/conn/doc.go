// Package conn manages the TCP connections between the client and the
// cluster nodes.
//
// Key Components:
//
//   - Connection: A single framed connection with per operation
//     deadlines. Reads and writes whole protocol frames, tracks idle
//     time for pool eviction.
//
//   - Authenticator: Performs the login and authenticate handshake on
//     freshly dialed connections. The password is hashed once with
//     bcrypt and the credential is reused for every connection.
//
//   - Pool: A bounded connection pool for one node. Get hands out an
//     idle connection or dials a new one up to the configured capacity,
//     further callers wait with a timeout. Connections returned after a
//     protocol error must be invalidated instead, only clean
//     connections go back into the pool.
package conn
