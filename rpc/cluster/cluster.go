package cluster

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/skv/lib/policy"
	"github.com/ValentinKolb/skv/rpc/common"
	"github.com/ValentinKolb/skv/rpc/conn"
	"github.com/ValentinKolb/skv/rpc/wire"
)

var Logger = logger.GetLogger("cluster")

var (
	metricTends        = metrics.NewCounter("skv_cluster_tends_total")
	metricNodesAdded   = metrics.NewCounter("skv_cluster_nodes_added_total")
	metricNodesRemoved = metrics.NewCounter("skv_cluster_nodes_removed_total")
)

// Cluster maintains the set of known nodes and the partition ownership
// map. A background goroutine re-probes the topology at a fixed
// interval.
type Cluster struct {
	policy *policy.ClientPolicy
	auth   *conn.Authenticator
	seeds  []common.Host

	mu      sync.RWMutex
	nodes   []*Node
	aliases *xsync.MapOf[string, *Node] // node address -> node
	byName  *xsync.MapOf[string, *Node] // node id -> node

	partitions atomic.Value // partitionMap

	tendCh  chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewCluster connects to the seed hosts, waits until the discovered
// topology is stable and starts the background tend loop.
func NewCluster(cp *policy.ClientPolicy, seeds []common.Host) (*Cluster, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seed hosts provided")
	}

	var auth *conn.Authenticator
	if cp.RequiresAuthentication() {
		var err error
		auth, err = conn.NewAuthenticator(cp.User, cp.Password)
		if err != nil {
			return nil, err
		}
	}

	c := &Cluster{
		policy:  cp,
		auth:    auth,
		seeds:   append([]common.Host(nil), seeds...),
		aliases: xsync.NewMapOf[string, *Node](),
		byName:  xsync.NewMapOf[string, *Node](),
		tendCh:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	c.partitions.Store(partitionMap{})

	if err := c.waitTillStabilized(); err != nil {
		c.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.tendLoop()

	Logger.Infof("Connected to cluster with %d node(s)", len(c.GetNodes()))
	return c, nil
}

// ----- Node Access -----

// GetNodes returns a snapshot of the active nodes
func (c *Cluster) GetNodes() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Node(nil), c.nodes...)
}

// GetNodeByName looks a node up by its id
func (c *Cluster) GetNodeByName(name string) (*Node, bool) {
	return c.byName.Load(name)
}

// GetRandomNode returns any active node
func (c *Cluster) GetRandomNode() (*Node, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.nodes) == 0 {
		return nil, fmt.Errorf("cluster has no active nodes")
	}
	return c.nodes[rand.Intn(len(c.nodes))], nil
}

// GetNodeForPartition returns the master node of a partition. When the
// partition has no known owner yet, any node is returned and a tend is
// requested to refresh the map.
func (c *Cluster) GetNodeForPartition(namespace string, partitionID int) (*Node, error) {
	pmap := c.partitions.Load().(partitionMap)
	if nodes := pmap[namespace]; nodes != nil {
		if node := nodes[partitionID]; node != nil && node.IsActive() {
			return node, nil
		}
	}
	c.RequestTend()
	return c.GetRandomNode()
}

// PartitionAssignments returns the partitions of a namespace grouped by
// their owning node. Returns nil when the namespace is not in the
// current partition map.
func (c *Cluster) PartitionAssignments(namespace string) map[*Node][]uint16 {
	pmap := c.partitions.Load().(partitionMap)
	nodes := pmap[namespace]
	if nodes == nil {
		return nil
	}
	assignments := map[*Node][]uint16{}
	for pid, node := range nodes {
		if node != nil && node.IsActive() {
			assignments[node] = append(assignments[node], uint16(pid))
		}
	}
	return assignments
}

// IsConnected reports whether at least one node is reachable
func (c *Cluster) IsConnected() bool {
	return len(c.GetNodes()) > 0 && !c.closed.Load()
}

// RequestTend asks the tend loop for an immediate topology refresh. Non
// blocking, multiple requests coalesce into one tend.
func (c *Cluster) RequestTend() {
	select {
	case c.tendCh <- struct{}{}:
	default:
	}
}

// Close stops the tend loop and closes all node pools
func (c *Cluster) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.closeCh)
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, node := range c.nodes {
		node.close()
	}
	c.nodes = nil
}

// ----- Tending -----

func (c *Cluster) tendLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.policy.TendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
		case <-c.tendCh:
		}
		if err := c.tend(); err != nil {
			Logger.Warningf("Tend failed: %v", err)
		}
	}
}

// waitTillStabilized tends repeatedly until two consecutive rounds agree
// on the node count, bounded by the client policy timeout.
func (c *Cluster) waitTillStabilized() error {
	deadline := time.Now().Add(c.policy.Timeout)
	count := -1
	for {
		if err := c.tend(); err != nil {
			Logger.Warningf("Tend failed during cluster seeding: %v", err)
		}
		nodes := len(c.GetNodes())
		if nodes == count && nodes > 0 {
			return nil
		}
		count = nodes
		time.Sleep(time.Millisecond)
		if time.Now().After(deadline) {
			if nodes > 0 {
				return nil
			}
			return fmt.Errorf("failed to connect to any seed host within %v", c.policy.Timeout)
		}
	}
}

// tend runs one topology refresh round: probe all nodes, add newly
// announced peers, drop dead nodes and update the partition map.
func (c *Cluster) tend() error {
	metricTends.Inc()

	nodes := c.GetNodes()
	if len(nodes) == 0 {
		c.seedNodes()
		nodes = c.GetNodes()
		if len(nodes) == 0 {
			return fmt.Errorf("no cluster nodes reachable")
		}
	}

	// reference counts are recomputed every round
	for _, node := range nodes {
		node.referenceCount.Store(0)
	}

	friends := map[string]common.Host{}
	stale := map[*Node]bool{}
	refreshed := 0
	for _, node := range nodes {
		result, err := node.refresh(c.policy)
		if err != nil {
			Logger.Debugf("Failed to refresh node %s: %v", node, err)
			continue
		}
		refreshed++
		if result.partitionsStale {
			stale[node] = true
		}
		for _, friend := range result.friends {
			if peer, ok := c.aliases.Load(friend.Address()); ok {
				peer.referenceCount.Add(1)
			} else {
				friends[friend.Address()] = friend
			}
		}
	}

	// add newly announced peers before removing anything
	for _, host := range friends {
		node, err := c.createNode(host)
		if err != nil {
			Logger.Debugf("Failed to add announced peer %s: %v", host.Address(), err)
			continue
		}
		c.addNode(node)
		stale[node] = true
		metricNodesAdded.Inc()
		Logger.Infof("Added node %s", node)
	}

	removed := c.findNodesToRemove(refreshed)
	if len(removed) > 0 {
		c.removeNodes(removed)
	}

	if len(stale) > 0 || len(removed) > 0 {
		c.updatePartitions(stale, removed)
	}
	return nil
}

// seedNodes dials the configured seed hosts and adds every reachable one
func (c *Cluster) seedNodes() {
	for _, seed := range c.seeds {
		if _, ok := c.aliases.Load(seed.Address()); ok {
			continue
		}
		node, err := c.createNode(seed)
		if err != nil {
			Logger.Debugf("Failed to seed from %s: %v", seed.Address(), err)
			continue
		}
		if _, ok := c.byName.Load(node.name); ok {
			// seed address points at an already known node
			node.close()
			continue
		}
		c.addNode(node)
		Logger.Infof("Seeded node %s", node)
	}
}

// createNode validates a host and builds a node for it. The probe asks
// for the node id and, when configured, verifies the cluster name.
func (c *Cluster) createNode(host common.Host) (*Node, error) {
	probe, err := conn.NewConnection(host.Address(), c.policy.LoginTimeout)
	if err != nil {
		return nil, err
	}
	defer probe.Close()

	if c.auth != nil {
		if err := c.auth.Login(probe); err != nil {
			return nil, err
		}
	}

	commands := []string{"node"}
	if c.policy.ClusterName != "" {
		commands = append(commands, "cluster-name")
	}
	values, err := requestInfo(probe, commands...)
	if err != nil {
		return nil, err
	}
	name, err := wire.InfoValue(values, "node")
	if err != nil {
		return nil, err
	}
	if c.policy.ClusterName != "" {
		clusterName, err := wire.InfoValue(values, "cluster-name")
		if err != nil {
			return nil, err
		}
		if clusterName != c.policy.ClusterName {
			return nil, fmt.Errorf("host %s belongs to cluster %q, expected %q", host.Address(), clusterName, c.policy.ClusterName)
		}
	}

	return newNode(name, host, c.policy, c.auth), nil
}

func (c *Cluster) addNode(node *Node) {
	c.mu.Lock()
	c.nodes = append(c.nodes, node)
	c.mu.Unlock()
	c.aliases.Store(node.host.Address(), node)
	c.byName.Store(node.name, node)
}

// findNodesToRemove applies the removal rules. refreshed is the number
// of nodes that answered their probe this round. The rules get stricter
// with cluster size so a transient hiccup on a small cluster does not
// wipe the node list.
func (c *Cluster) findNodesToRemove(refreshed int) []*Node {
	nodes := c.GetNodes()
	pmap := c.partitions.Load().(partitionMap)

	var remove []*Node
	for _, node := range nodes {
		if !node.IsActive() {
			remove = append(remove, node)
			continue
		}
		failures := int(node.failures.Load())
		references := node.referenceCount.Load()

		switch {
		case len(nodes) == 1:
			// a sole node is only dropped after repeated failures and
			// only when reseeding found a replacement
			if failures > c.policy.FailureThreshold {
				before := len(c.GetNodes())
				c.seedNodes()
				if len(c.GetNodes()) > before {
					remove = append(remove, node)
				}
			}
		case len(nodes) == 2:
			// require at least one successful refresh this round
			if refreshed == 1 && references == 0 && failures > 0 {
				remove = append(remove, node)
			}
		default:
			// require two successful refreshes this round
			if refreshed >= 2 && references == 0 &&
				(failures > 0 || !pmap.containsNode(node)) {
				remove = append(remove, node)
			}
		}
	}
	return remove
}

func (c *Cluster) removeNodes(remove []*Node) {
	c.mu.Lock()
	kept := c.nodes[:0]
	for _, node := range c.nodes {
		drop := false
		for _, r := range remove {
			if node == r {
				drop = true
				break
			}
		}
		if drop {
			continue
		}
		kept = append(kept, node)
	}
	c.nodes = kept
	c.mu.Unlock()

	for _, node := range remove {
		c.aliases.Delete(node.host.Address())
		c.byName.Delete(node.name)
		node.close()
		metricNodesRemoved.Inc()
		Logger.Infof("Removed node %s", node)
	}
}

// updatePartitions builds a new partition map snapshot from the current
// one, drops departed nodes and merges the bitmaps of all nodes with a
// changed partition generation.
func (c *Cluster) updatePartitions(stale map[*Node]bool, removed []*Node) {
	pmap := c.partitions.Load().(partitionMap).clone()
	for _, node := range removed {
		pmap.dropNode(node)
	}
	for node := range stale {
		if !node.IsActive() {
			continue
		}
		if err := node.refreshPartitions(pmap); err != nil {
			Logger.Warningf("Failed to refresh partitions of node %s: %v", node, err)
		}
	}
	c.partitions.Store(pmap)
}
