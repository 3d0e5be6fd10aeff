package policy

import "time"

// --------------------------------------------------------------------------
// Enumerations
// --------------------------------------------------------------------------

// ConsistencyLevel controls how many replicas must be consulted for a read
type ConsistencyLevel int

const (
	// ConsistencyOne reads from a single replica
	ConsistencyOne ConsistencyLevel = iota
	// ConsistencyAll involves all replicas in the read
	ConsistencyAll
)

// ReplicaPolicy names which nodes are eligible to serve a read. Only
// master routing is implemented, the ownership map tracks partition
// masters exclusively.
type ReplicaPolicy int

const (
	// ReplicaMaster only reads from the partition master
	ReplicaMaster ReplicaPolicy = iota
	// ReplicaAny allows reads from replicas when the master fails
	ReplicaAny
)

// RecordExistsAction controls how a write treats an existing record
type RecordExistsAction int

const (
	// Update creates or updates the record
	Update RecordExistsAction = iota
	// UpdateOnly updates the record, failing if it does not exist
	UpdateOnly
	// Replace creates or completely replaces the record
	Replace
	// ReplaceOnly completely replaces the record, failing if it does not exist
	ReplaceOnly
	// CreateOnly creates the record, failing if it already exists
	CreateOnly
)

// GenerationPolicy controls optimistic concurrency on writes
type GenerationPolicy int

const (
	// GenerationIgnore writes regardless of the record generation
	GenerationIgnore GenerationPolicy = iota
	// GenerationEqual writes only when the generation matches exactly
	GenerationEqual
	// GenerationGreater writes only when the given generation is greater
	GenerationGreater
)

// CommitLevel controls how many replicas must commit before a write returns
type CommitLevel int

const (
	// CommitAll waits for the master and all replicas
	CommitAll CommitLevel = iota
	// CommitMaster only waits for the master
	CommitMaster
)

// Expiration values with special meaning on the server
const (
	// ExpirationNamespaceDefault applies the namespace default time to live
	ExpirationNamespaceDefault uint32 = 0
	// ExpirationNever marks the record as never expiring
	ExpirationNever uint32 = 0xFFFFFFFF
	// ExpirationDontUpdate keeps the current time to live untouched
	ExpirationDontUpdate uint32 = 0xFFFFFFFE
)

// --------------------------------------------------------------------------
// Operation Policies
// --------------------------------------------------------------------------

// BasePolicy holds the settings common to all operations
type BasePolicy struct {
	// Timeout is the total time budget for one attempt including the
	// network round trip. Zero means no timeout.
	Timeout time.Duration

	// MaxRetries is the number of retries after the initial attempt.
	// Only failures classified as retryable are retried.
	MaxRetries int

	// SleepBetweenRetries is the initial backoff after a failed attempt.
	// The backoff doubles with every retry and gets a small random jitter.
	SleepBetweenRetries time.Duration

	// ConsistencyLevel controls how many replicas are consulted
	ConsistencyLevel ConsistencyLevel

	// Replica names which nodes may serve the operation. The ownership
	// map tracks partition masters only, so routing currently always
	// targets the master regardless of this setting.
	Replica ReplicaPolicy

	// SendKey stores the user key on the server in addition to the digest
	SendKey bool
}

// NewBasePolicy creates a BasePolicy with default values
func NewBasePolicy() *BasePolicy {
	return &BasePolicy{
		Timeout:             1 * time.Second,
		MaxRetries:          2,
		SleepBetweenRetries: 50 * time.Millisecond,
		ConsistencyLevel:    ConsistencyOne,
		Replica:             ReplicaMaster,
	}
}

// WritePolicy holds the settings for write operations
type WritePolicy struct {
	BasePolicy

	// RecordExistsAction controls the treatment of existing records
	RecordExistsAction RecordExistsAction

	// GenerationPolicy enables optimistic concurrency checks
	GenerationPolicy GenerationPolicy

	// Generation is the expected generation for the generation policies
	Generation uint32

	// Expiration is the record time to live in seconds, or one of the
	// Expiration* constants
	Expiration uint32

	// CommitLevel controls the replica commit guarantee
	CommitLevel CommitLevel

	// DurableDelete leaves a tombstone when the record is deleted
	DurableDelete bool
}

// NewWritePolicy creates a WritePolicy with default values
func NewWritePolicy(generation, expiration uint32) *WritePolicy {
	wp := &WritePolicy{
		BasePolicy:         *NewBasePolicy(),
		RecordExistsAction: Update,
		GenerationPolicy:   GenerationIgnore,
		Generation:         generation,
		Expiration:         expiration,
		CommitLevel:        CommitAll,
	}
	// writes are not retried blindly by default
	wp.MaxRetries = 0
	return wp
}

// BatchPolicy holds the settings for batch reads
type BatchPolicy struct {
	BasePolicy

	// ConcurrentNodes limits how many nodes are queried in parallel.
	// Zero or negative means all involved nodes at once, one means
	// sequential execution.
	ConcurrentNodes int

	// SendSetName includes the set name in the batch protocol. Required
	// when the cluster uses set level access control.
	SendSetName bool

	// AllowInline lets the server execute the batch inline on the
	// service thread when the data is in memory
	AllowInline bool
}

// NewBatchPolicy creates a BatchPolicy with default values
func NewBatchPolicy() *BatchPolicy {
	return &BatchPolicy{
		BasePolicy:      *NewBasePolicy(),
		ConcurrentNodes: 0,
		AllowInline:     true,
	}
}

// ScanPolicy holds the settings for scans
type ScanPolicy struct {
	BasePolicy

	// SocketTimeout is sent to the server as the scan socket timeout
	SocketTimeout time.Duration

	// IncludeBinData requests the bin values, not just the record metadata
	IncludeBinData bool

	// RecordQueueSize is the buffer size of the record channel of the
	// result set
	RecordQueueSize int
}

// NewScanPolicy creates a ScanPolicy with default values
func NewScanPolicy() *ScanPolicy {
	sp := &ScanPolicy{
		BasePolicy:      *NewBasePolicy(),
		SocketTimeout:   30 * time.Second,
		IncludeBinData:  true,
		RecordQueueSize: 1024,
	}
	// a scan runs much longer than a single record operation
	sp.Timeout = 0
	sp.MaxRetries = 0
	return sp
}

// --------------------------------------------------------------------------
// Client Policy
// --------------------------------------------------------------------------

// ClientPolicy holds the cluster wide settings applied at client creation
type ClientPolicy struct {
	// User and Password enable the authentication handshake on every new
	// connection. Leave empty for clusters without security.
	User     string
	Password string

	// ClusterName is verified against every node when set. Nodes
	// reporting a different name are rejected.
	ClusterName string

	// Timeout is the budget for the initial cluster stabilization
	Timeout time.Duration

	// TendInterval is the period of the background topology refresh
	TendInterval time.Duration

	// ConnectionQueueSize is the connection pool capacity per node
	ConnectionQueueSize int

	// AcquireTimeout limits how long a command waits for a free pooled
	// connection. Zero falls back to Timeout.
	AcquireTimeout time.Duration

	// IdleTimeout is the lifetime of an idle pooled connection
	IdleTimeout time.Duration

	// LoginTimeout is the deadline for dialing and authenticating a
	// single connection
	LoginTimeout time.Duration

	// FailureThreshold is the number of consecutive failed probes after
	// which a sole remaining node is dropped and reseeding starts
	FailureThreshold int

	// UseServicesAlternate selects the alternate address list announced
	// by the nodes, for clients outside the cluster network
	UseServicesAlternate bool
}

// NewClientPolicy creates a ClientPolicy with default values
func NewClientPolicy() *ClientPolicy {
	return &ClientPolicy{
		Timeout:             3 * time.Second,
		TendInterval:        1 * time.Second,
		ConnectionQueueSize: 16,
		IdleTimeout:         55 * time.Second,
		LoginTimeout:        5 * time.Second,
		FailureThreshold:    5,
	}
}

// RequiresAuthentication returns true if credentials are configured
func (p *ClientPolicy) RequiresAuthentication() bool {
	return p.User != "" || p.Password != ""
}
