package cluster

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/skv/lib/policy"
	"github.com/ValentinKolb/skv/rpc/common"
	"github.com/ValentinKolb/skv/rpc/conn"
	"github.com/ValentinKolb/skv/rpc/wire"
)

// Node is one cluster member. All health counters are only written by
// the tend loop, command goroutines just borrow connections from the
// pool.
type Node struct {
	name string
	host common.Host
	pool *conn.Pool

	active              atomic.Bool
	failures            atomic.Int32
	referenceCount      atomic.Int32
	partitionGeneration atomic.Int32
}

// newNode creates a node with its connection pool. The node starts
// active.
func newNode(name string, host common.Host, cp *policy.ClientPolicy, auth *conn.Authenticator) *Node {
	n := &Node{
		name: name,
		host: host,
		pool: conn.NewPool(host.Address(), cp, auth),
	}
	n.active.Store(true)
	n.partitionGeneration.Store(-1)
	return n
}

// Name returns the unique node id reported by the node itself
func (n *Node) Name() string {
	return n.name
}

// Host returns the address the node is dialed with
func (n *Node) Host() common.Host {
	return n.host
}

// IsActive reports whether the node is still part of the cluster view
func (n *Node) IsActive() bool {
	return n.active.Load()
}

// GetConnection borrows a pooled connection to this node
func (n *Node) GetConnection() (*conn.Connection, error) {
	if !n.active.Load() {
		return nil, fmt.Errorf("node %s is no longer active", n.name)
	}
	return n.pool.Get()
}

// PutConnection returns a healthy connection to the pool
func (n *Node) PutConnection(c *conn.Connection) {
	n.pool.Put(c)
}

// InvalidateConnection discards a connection after an io or protocol
// error
func (n *Node) InvalidateConnection(c *conn.Connection) {
	n.pool.Invalidate(c)
}

// close marks the node inactive and closes its pool
func (n *Node) close() {
	n.active.Store(false)
	n.pool.Close()
}

func (n *Node) String() string {
	return fmt.Sprintf("%s@%s", n.name, n.host.Address())
}

// ----- Refresh -----

// refreshResult carries the outcome of one tend probe
type refreshResult struct {
	friends         []common.Host
	partitionsStale bool
}

// refresh probes the node over the info protocol. It verifies identity
// and cluster membership, reads the partition generation and collects
// the peer list. Every failure increments the failure counter, a
// successful probe resets it.
func (n *Node) refresh(cp *policy.ClientPolicy) (*refreshResult, error) {
	result, err := n.refreshInfo(cp)
	if err != nil {
		n.failures.Add(1)
		return nil, err
	}
	n.failures.Store(0)
	return result, nil
}

func (n *Node) refreshInfo(cp *policy.ClientPolicy) (*refreshResult, error) {
	servicesCmd := "services"
	if cp.UseServicesAlternate {
		servicesCmd = "services-alternate"
	}
	commands := []string{"node", "partition-generation", servicesCmd}
	if cp.ClusterName != "" {
		commands = append(commands, "cluster-name")
	}

	values, err := n.RequestInfo(commands...)
	if err != nil {
		return nil, err
	}

	name, err := wire.InfoValue(values, "node")
	if err != nil {
		return nil, err
	}
	if name != n.name {
		return nil, fmt.Errorf("node id changed from %s to %s, address %s was reassigned", n.name, name, n.host.Address())
	}
	if cp.ClusterName != "" {
		clusterName, err := wire.InfoValue(values, "cluster-name")
		if err != nil {
			return nil, err
		}
		if clusterName != cp.ClusterName {
			return nil, fmt.Errorf("node %s belongs to cluster %q, expected %q", n.name, clusterName, cp.ClusterName)
		}
	}

	genStr, err := wire.InfoValue(values, "partition-generation")
	if err != nil {
		return nil, err
	}
	generation, err := strconv.ParseInt(genStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("node %s reported invalid partition generation %q", n.name, genStr)
	}

	friends, err := parseServices(values[servicesCmd])
	if err != nil {
		return nil, fmt.Errorf("node %s announced invalid services: %w", n.name, err)
	}

	return &refreshResult{
		friends:         friends,
		partitionsStale: n.partitionGeneration.Load() != int32(generation),
	}, nil
}

// RequestInfo runs info commands over a pooled connection
func (n *Node) RequestInfo(commands ...string) (map[string]string, error) {
	c, err := n.pool.Get()
	if err != nil {
		return nil, err
	}

	values, err := requestInfo(c, commands...)
	if err != nil {
		n.pool.Invalidate(c)
		return nil, err
	}
	n.pool.Put(c)
	return values, nil
}

// refreshPartitions reads the partition ownership bitmap of this node
// and merges it into pmap. The stored generation is updated afterwards
// so an unchanged topology skips this step on the next tend.
func (n *Node) refreshPartitions(pmap partitionMap) error {
	values, err := n.RequestInfo("partition-generation", "replicas-master")
	if err != nil {
		return err
	}

	replicas, err := wire.InfoValue(values, "replicas-master")
	if err != nil {
		return err
	}
	if err := parseReplicasMaster(replicas, n, pmap); err != nil {
		return fmt.Errorf("node %s reported invalid replica map: %w", n.name, err)
	}

	genStr, err := wire.InfoValue(values, "partition-generation")
	if err != nil {
		return err
	}
	generation, err := strconv.ParseInt(genStr, 10, 32)
	if err != nil {
		return fmt.Errorf("node %s reported invalid partition generation %q", n.name, genStr)
	}
	n.partitionGeneration.Store(int32(generation))
	return nil
}

// ----- Info Helpers -----

// requestInfo sends info commands over an existing connection
func requestInfo(c *conn.Connection, commands ...string) (map[string]string, error) {
	buf := wire.NewBuffer()
	if err := buf.SetInfo(commands...); err != nil {
		return nil, err
	}
	if err := c.WriteFrame(buf.Bytes()); err != nil {
		return nil, err
	}
	hdr, payload, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	if hdr.Type != wire.ProtoTypeInfo {
		return nil, fmt.Errorf("expected info response, got frame type %d", hdr.Type)
	}
	return wire.ParseInfoResponse(payload)
}

// parseServices splits a services announcement into host list. The
// value is a comma separated list of host:port pairs and may be empty
// for a single node cluster.
func parseServices(value string) ([]common.Host, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return common.ParseHosts(value)
}
