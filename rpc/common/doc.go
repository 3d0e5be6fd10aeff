// Package common provides configuration and utilities shared across the
// skv client packages.
//
// The package focuses on:
//   - The flat ClientConfig structure used by the CLI and the env/flag
//     binding, with conversions into the policy types
//   - Host address parsing for seed lists
//   - The custom logging implementation used by all packages
//
// Key Components:
//
//   - ClientConfig: Configuration for the client, controlling seed hosts,
//     timeouts, retry behaviour, pooling and authentication. Provides a
//     formatted String() for startup logging.
//
//   - Host: A single "name:port" node address with parsing helpers for
//     comma separated seed lists.
//
//   - Logger: Custom logging implementation behind the dragonboat logger
//     facade, providing consistent formatting across the application.
package common
