package client

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/ValentinKolb/skv/lib/policy"
	"github.com/ValentinKolb/skv/lib/types"
	"github.com/ValentinKolb/skv/rpc/cluster"
	"github.com/ValentinKolb/skv/rpc/wire"
)

// Result is one entry of a Recordset. Either Record or Err is set.
type Result struct {
	Record *types.Record
	Err    error
}

// Recordset streams the records of a scan. Records arrive on the
// Results channel while the scan is running, the channel closes once all
// nodes are drained. Closing the recordset aborts the scan.
type Recordset struct {
	records chan *Result
	cancel  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Results returns the channel the scan delivers on
func (r *Recordset) Results() <-chan *Result {
	return r.records
}

// Close aborts the scan. Workers stop at the next record boundary and
// the results channel is closed. Safe to call more than once.
func (r *Recordset) Close() {
	r.once.Do(func() { close(r.cancel) })
}

// send delivers a result unless the scan was aborted
func (r *Recordset) send(result *Result) bool {
	select {
	case r.records <- result:
		return true
	case <-r.cancel:
		return false
	}
}

// Scan streams all records of a set. Every node scans the partitions it
// owns in its own goroutine, a shared task id ties the sub scans
// together on the server side.
func (c *Client) Scan(p *policy.ScanPolicy, namespace, setName string, binNames ...string) (*Recordset, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if p == nil {
		p = c.DefaultScanPolicy
	}

	assignments := c.cluster.PartitionAssignments(namespace)
	if assignments == nil {
		// namespace not mapped yet, let one node scan everything
		node, err := c.cluster.GetRandomNode()
		if err != nil {
			return nil, err
		}
		all := make([]uint16, types.Partitions)
		for pid := range all {
			all[pid] = uint16(pid)
		}
		assignments = map[*cluster.Node][]uint16{node: all}
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("no nodes own partitions of namespace %q", namespace)
	}

	queueSize := p.RecordQueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	rs := &Recordset{
		records: make(chan *Result, queueSize),
		cancel:  make(chan struct{}),
	}
	taskID := rand.Uint64()

	for node, partitions := range assignments {
		rs.wg.Add(1)
		go func(node *cluster.Node, partitions []uint16) {
			defer rs.wg.Done()
			if err := c.scanNode(p, rs, node, partitions, namespace, setName, binNames, taskID); err != nil {
				rs.send(&Result{Err: fmt.Errorf("scan on node %s failed: %w", node.Name(), err)})
			}
		}(node, partitions)
	}

	go func() {
		rs.wg.Wait()
		close(rs.records)
	}()

	return rs, nil
}

// scanNode runs the sub scan of one node and streams its records
func (c *Client) scanNode(p *policy.ScanPolicy, rs *Recordset, node *cluster.Node, partitions []uint16, namespace, setName string, binNames []string, taskID uint64) error {
	buf := wire.NewBuffer()
	if err := buf.SetScan(p, namespace, setName, binNames, taskID, partitions); err != nil {
		return err
	}

	cn, err := node.GetConnection()
	if err != nil {
		return err
	}
	// a scan can legitimately idle between frames for a long time
	cn.SetTimeout(p.SocketTimeout)

	if err := cn.WriteFrame(buf.Bytes()); err != nil {
		node.InvalidateConnection(cn)
		return err
	}

	for {
		_, payload, err := cn.ReadFrame()
		if err != nil {
			node.InvalidateConnection(cn)
			return err
		}
		parser := wire.NewStreamParser(payload)
		for {
			entry, done, err := parser.Next()
			if err != nil {
				node.InvalidateConnection(cn)
				return err
			}
			if done {
				break
			}
			if entry.Record == nil {
				continue
			}
			if !rs.send(&Result{Record: entry.Record}) {
				// consumer aborted, drop the connection mid stream
				node.InvalidateConnection(cn)
				return nil
			}
		}
		if parser.Terminated() {
			node.PutConnection(cn)
			return nil
		}
	}
}
