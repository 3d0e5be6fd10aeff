// Package policy defines the tuning knobs for client operations. Policies
// are plain value types: the zero value of every policy is not usable,
// construct them with the New* factory functions and override individual
// fields as needed.
//
// Key Components:
//
//   - BasePolicy: Common settings for all operations (timeouts, retries,
//     consistency level).
//
//   - WritePolicy: Additional settings for write operations (record exists
//     action, generation checks, expiration, commit level).
//
//   - BatchPolicy: Settings for batch reads (concurrency limits).
//
//   - ScanPolicy: Settings for full namespace or set scans.
//
//   - ClientPolicy: Cluster wide settings applied when the client is
//     created (credentials, tend interval, connection pool sizing).
package policy
