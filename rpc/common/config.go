package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/skv/lib/policy"
)

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// PoolConfig holds the per node connection pool settings
type PoolConfig struct {
	// ConnectionsPerNode is the pool capacity per node
	ConnectionsPerNode int
	// AcquireTimeoutMS limits how long a command waits for a free
	// connection before failing with a pool exhausted error
	AcquireTimeoutMS int
	// IdleTimeoutSec is the lifetime of an idle pooled connection
	IdleTimeoutSec int
}

// AuthConfig holds the credentials for the login handshake
type AuthConfig struct {
	User     string
	Password string
}

// ClientConfig holds all configuration parameters for the skv client
type ClientConfig struct {
	// Hosts are the seed nodes, as "host:port" strings
	Hosts []string

	// ClusterName is verified against every node when set
	ClusterName string

	// Client behaviour
	TimeoutSecond int
	RetryCount    int

	// Cluster tend settings
	TendIntervalMS       int
	UseServicesAlternate bool

	// Connection pooling
	Pool PoolConfig

	// Authentication
	Auth AuthConfig

	// Logging configuration
	LogLevel string
}

// ToClientPolicy converts the flat configuration into a policy.ClientPolicy
func (c *ClientConfig) ToClientPolicy() *policy.ClientPolicy {
	p := policy.NewClientPolicy()
	p.User = c.Auth.User
	p.Password = c.Auth.Password
	p.ClusterName = c.ClusterName
	p.UseServicesAlternate = c.UseServicesAlternate

	if c.TimeoutSecond > 0 {
		p.Timeout = time.Duration(c.TimeoutSecond) * time.Second
	}
	if c.TendIntervalMS > 0 {
		p.TendInterval = time.Duration(c.TendIntervalMS) * time.Millisecond
	}
	if c.Pool.ConnectionsPerNode > 0 {
		p.ConnectionQueueSize = c.Pool.ConnectionsPerNode
	}
	if c.Pool.AcquireTimeoutMS > 0 {
		p.AcquireTimeout = time.Duration(c.Pool.AcquireTimeoutMS) * time.Millisecond
	}
	if c.Pool.IdleTimeoutSec > 0 {
		p.IdleTimeout = time.Duration(c.Pool.IdleTimeoutSec) * time.Second
	}

	return p
}

// ToBasePolicy converts the flat configuration into a policy.BasePolicy
func (c *ClientConfig) ToBasePolicy() *policy.BasePolicy {
	p := policy.NewBasePolicy()
	if c.TimeoutSecond > 0 {
		p.Timeout = time.Duration(c.TimeoutSecond) * time.Second
	}
	if c.RetryCount > 0 {
		p.MaxRetries = c.RetryCount
	}
	return p
}

// String returns a formatted string representation of the configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Tend Interval", fmt.Sprintf("%d ms", c.TendIntervalMS))
	if c.ClusterName != "" {
		addField("Cluster Name", c.ClusterName)
	}

	// Connection pooling
	addSection("Connection Pool")
	addField("Connections Per Node", strconv.Itoa(c.Pool.ConnectionsPerNode))
	addField("Acquire Timeout", fmt.Sprintf("%d ms", c.Pool.AcquireTimeoutMS))
	addField("Idle Timeout", fmt.Sprintf("%d sec", c.Pool.IdleTimeoutSec))

	// Authentication
	if c.Auth.User != "" {
		addSection("Authentication")
		addField("User", c.Auth.User)
		addField("Password", strings.Repeat("*", len(c.Auth.Password)))
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Seed hosts
	addSection("Seed Hosts")
	for i, host := range c.Hosts {
		addField(strconv.Itoa(i), host)
	}

	return sb.String()
}
