package client

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/skv/lib/policy"
	"github.com/ValentinKolb/skv/lib/types"
	"github.com/ValentinKolb/skv/rpc/cluster"
	"github.com/ValentinKolb/skv/rpc/common"
	"github.com/ValentinKolb/skv/rpc/wire"
)

// -----------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------

// IClient is the operation interface of the skv client. All methods
// accept a nil policy which selects the client's defaults.
type IClient interface {
	// Get reads a record. An empty binNames list reads all bins.
	Get(p *policy.BasePolicy, key *types.Key, binNames ...string) (*types.Record, error)

	// GetHeader reads only generation and expiration of a record
	GetHeader(p *policy.BasePolicy, key *types.Key) (*types.Record, error)

	// Exists checks whether a record exists without transferring it
	Exists(p *policy.BasePolicy, key *types.Key) (bool, error)

	// Put writes the given bins to a record
	Put(p *policy.WritePolicy, key *types.Key, bins ...*types.Bin) error

	// Append appends to string or blob bins
	Append(p *policy.WritePolicy, key *types.Key, bins ...*types.Bin) error

	// Prepend prepends to string or blob bins
	Prepend(p *policy.WritePolicy, key *types.Key, bins ...*types.Bin) error

	// Add adds integer values to integer bins
	Add(p *policy.WritePolicy, key *types.Key, bins ...*types.Bin) error

	// Delete removes a record. Returns whether the record existed.
	Delete(p *policy.WritePolicy, key *types.Key) (bool, error)

	// Touch resets the expiration of a record
	Touch(p *policy.WritePolicy, key *types.Key) error

	// Operate applies multiple operations to one record atomically and
	// returns the read results
	Operate(p *policy.WritePolicy, key *types.Key, operations ...*wire.Operation) (*types.Record, error)

	// BatchGet reads many records at once. The result has one entry per
	// key in request order, missing records are nil.
	BatchGet(p *policy.BatchPolicy, keys []*types.Key, binNames ...string) ([]*types.Record, error)

	// BatchExists checks many records at once
	BatchExists(p *policy.BatchPolicy, keys []*types.Key) ([]bool, error)

	// Scan streams all records of a set. Pass an empty set name to scan
	// the whole namespace.
	Scan(p *policy.ScanPolicy, namespace, setName string, binNames ...string) (*Recordset, error)

	// RequestInfo runs text info commands on a random node
	RequestInfo(commands ...string) (map[string]string, error)

	// Cluster exposes the underlying cluster tracker
	Cluster() *cluster.Cluster

	// IsConnected reports whether any node is reachable
	IsConnected() bool

	// Close releases all pooled connections and stops the tender
	Close()
}

// -----------------------------------------------------------
// Client
// -----------------------------------------------------------

// Client implements IClient against a live cluster
type Client struct {
	cluster *cluster.Cluster
	closed  atomic.Bool

	// DefaultPolicy is used by read operations invoked with a nil policy
	DefaultPolicy *policy.BasePolicy
	// DefaultWritePolicy is used by write operations invoked with a nil policy
	DefaultWritePolicy *policy.WritePolicy
	// DefaultBatchPolicy is used by batch operations invoked with a nil policy
	DefaultBatchPolicy *policy.BatchPolicy
	// DefaultScanPolicy is used by scans invoked with a nil policy
	DefaultScanPolicy *policy.ScanPolicy
}

var _ IClient = (*Client)(nil)

// NewClient connects to the cluster reachable through the given seed
// hosts ("host" or "host:port").
func NewClient(cp *policy.ClientPolicy, hosts ...string) (*Client, error) {
	if cp == nil {
		cp = policy.NewClientPolicy()
	}
	seeds, err := common.ParseHosts(strings.Join(hosts, ","))
	if err != nil {
		return nil, err
	}

	clstr, err := cluster.NewCluster(cp, seeds)
	if err != nil {
		return nil, err
	}

	return &Client{
		cluster:            clstr,
		DefaultPolicy:      policy.NewBasePolicy(),
		DefaultWritePolicy: policy.NewWritePolicy(0, 0),
		DefaultBatchPolicy: policy.NewBatchPolicy(),
		DefaultScanPolicy:  policy.NewScanPolicy(),
	}, nil
}

// NewClientWithConfig creates a client from a ClientConfig, typically
// populated from flags and environment variables.
func NewClientWithConfig(config common.ClientConfig) (*Client, error) {
	common.InitLoggers(config)
	return NewClient(config.ToClientPolicy(), config.Hosts...)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IClient)
// --------------------------------------------------------------------------

func (c *Client) Get(p *policy.BasePolicy, key *types.Key, binNames ...string) (*types.Record, error) {
	if p == nil {
		p = c.DefaultPolicy
	}
	payload, err := c.execute(p, key, func(buf *wire.Buffer) error {
		return buf.SetRead(p, key, binNames)
	})
	if err != nil {
		return nil, err
	}
	return payloadToRecord(key, payload), nil
}

func (c *Client) GetHeader(p *policy.BasePolicy, key *types.Key) (*types.Record, error) {
	if p == nil {
		p = c.DefaultPolicy
	}
	payload, err := c.execute(p, key, func(buf *wire.Buffer) error {
		return buf.SetReadHeader(p, key)
	})
	if err != nil {
		return nil, err
	}
	return payloadToRecord(key, payload), nil
}

func (c *Client) Exists(p *policy.BasePolicy, key *types.Key) (bool, error) {
	if p == nil {
		p = c.DefaultPolicy
	}
	_, err := c.execute(p, key, func(buf *wire.Buffer) error {
		return buf.SetExists(p, key)
	})
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) Put(p *policy.WritePolicy, key *types.Key, bins ...*types.Bin) error {
	return c.writeBins(p, wire.OpWrite, key, bins)
}

func (c *Client) Append(p *policy.WritePolicy, key *types.Key, bins ...*types.Bin) error {
	return c.writeBins(p, wire.OpAppend, key, bins)
}

func (c *Client) Prepend(p *policy.WritePolicy, key *types.Key, bins ...*types.Bin) error {
	return c.writeBins(p, wire.OpPrepend, key, bins)
}

func (c *Client) Add(p *policy.WritePolicy, key *types.Key, bins ...*types.Bin) error {
	return c.writeBins(p, wire.OpAdd, key, bins)
}

func (c *Client) writeBins(p *policy.WritePolicy, op wire.OperationType, key *types.Key, bins []*types.Bin) error {
	if p == nil {
		p = c.DefaultWritePolicy
	}
	if len(bins) == 0 {
		return fmt.Errorf("write requires at least one bin")
	}
	_, err := c.execute(&p.BasePolicy, key, func(buf *wire.Buffer) error {
		return buf.SetWrite(p, op, key, bins)
	})
	return err
}

func (c *Client) Delete(p *policy.WritePolicy, key *types.Key) (bool, error) {
	if p == nil {
		p = c.DefaultWritePolicy
	}
	_, err := c.execute(&p.BasePolicy, key, func(buf *wire.Buffer) error {
		return buf.SetDelete(p, key)
	})
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) Touch(p *policy.WritePolicy, key *types.Key) error {
	if p == nil {
		p = c.DefaultWritePolicy
	}
	_, err := c.execute(&p.BasePolicy, key, func(buf *wire.Buffer) error {
		return buf.SetTouch(p, key)
	})
	return err
}

func (c *Client) Operate(p *policy.WritePolicy, key *types.Key, operations ...*wire.Operation) (*types.Record, error) {
	if p == nil {
		p = c.DefaultWritePolicy
	}
	payload, err := c.execute(&p.BasePolicy, key, func(buf *wire.Buffer) error {
		return buf.SetOperate(p, key, operations)
	})
	if err != nil {
		return nil, err
	}
	return payloadToRecord(key, payload), nil
}

func (c *Client) RequestInfo(commands ...string) (map[string]string, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	node, err := c.cluster.GetRandomNode()
	if err != nil {
		return nil, err
	}
	return node.RequestInfo(commands...)
}

func (c *Client) Cluster() *cluster.Cluster {
	return c.cluster
}

func (c *Client) IsConnected() bool {
	return !c.closed.Load() && c.cluster.IsConnected()
}

func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.cluster.Close()
	}
}

// ----- Helpers -----

// payloadToRecord builds the user facing record from a response payload
func payloadToRecord(key *types.Key, payload *wire.RecordPayload) *types.Record {
	return &types.Record{
		Key:        key,
		Bins:       payload.Bins,
		Generation: payload.Header.Generation,
		Expiration: payload.Header.Expiration,
	}
}
