package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ValentinKolb/skv/lib/policy"
	"github.com/ValentinKolb/skv/lib/types"
	"github.com/ValentinKolb/skv/rpc/cluster"
	"github.com/ValentinKolb/skv/rpc/wire"
)

// batchNode is the per node slice of a batch request
type batchNode struct {
	node    *cluster.Node
	keys    []*types.Key
	offsets []int
}

func (c *Client) BatchGet(p *policy.BatchPolicy, keys []*types.Key, binNames ...string) ([]*types.Record, error) {
	return c.batchRead(p, keys, binNames, false)
}

func (c *Client) BatchExists(p *policy.BatchPolicy, keys []*types.Key) ([]bool, error) {
	records, err := c.batchRead(p, keys, nil, true)
	exists := make([]bool, len(records))
	for i, record := range records {
		exists[i] = record != nil
	}
	return exists, err
}

// batchRead splits the keys by owning node and queries the nodes in
// parallel. Results come back in request order, keys on a failed node
// stay nil and the failure is reported in the returned error.
func (c *Client) batchRead(p *policy.BatchPolicy, keys []*types.Key, binNames []string, noBinData bool) ([]*types.Record, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if p == nil {
		p = c.DefaultBatchPolicy
	}
	if len(keys) == 0 {
		return nil, nil
	}

	groups, err := c.splitKeysByNode(keys)
	if err != nil {
		return nil, err
	}

	results := make([]*types.Record, len(keys))

	if p.ConcurrentNodes == 1 || len(groups) == 1 {
		var errs []error
		for _, group := range groups {
			if err := c.batchReadNode(p, group, keys, binNames, noBinData, results); err != nil {
				errs = append(errs, fmt.Errorf("batch on node %s failed: %w", group.node.Name(), err))
			}
		}
		return results, errors.Join(errs...)
	}

	parallel := p.ConcurrentNodes
	if parallel <= 0 || parallel > len(groups) {
		parallel = len(groups)
	}
	sem := make(chan struct{}, parallel)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	for _, group := range groups {
		wg.Add(1)
		go func(group *batchNode) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := c.batchReadNode(p, group, keys, binNames, noBinData, results); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("batch on node %s failed: %w", group.node.Name(), err))
				mu.Unlock()
			}
		}(group)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

// splitKeysByNode groups the keys by the master of their partition
func (c *Client) splitKeysByNode(keys []*types.Key) ([]*batchNode, error) {
	byNode := map[*cluster.Node]*batchNode{}
	var groups []*batchNode
	for i, key := range keys {
		node, err := c.cluster.GetNodeForPartition(key.Namespace(), key.PartitionID())
		if err != nil {
			return nil, err
		}
		group, ok := byNode[node]
		if !ok {
			group = &batchNode{node: node}
			byNode[node] = group
			groups = append(groups, group)
		}
		group.keys = append(group.keys, key)
		group.offsets = append(group.offsets, i)
	}
	return groups, nil
}

// batchReadNode runs the sub batch of one node and fills the shared
// result slice. Every goroutine writes only the offsets owned by its
// node so no locking is needed.
func (c *Client) batchReadNode(p *policy.BatchPolicy, group *batchNode, keys []*types.Key, binNames []string, noBinData bool, results []*types.Record) error {
	buf := wire.NewBuffer()
	if err := buf.SetBatchRead(p, group.keys, group.offsets, binNames, noBinData); err != nil {
		return err
	}

	cn, err := group.node.GetConnection()
	if err != nil {
		return err
	}
	cn.SetTimeout(p.Timeout)

	if err := cn.WriteFrame(buf.Bytes()); err != nil {
		group.node.InvalidateConnection(cn)
		return err
	}

	// the response may span multiple frames, the last message of the
	// last frame carries the termination marker
	for {
		_, payload, err := cn.ReadFrame()
		if err != nil {
			group.node.InvalidateConnection(cn)
			return err
		}
		parser := wire.NewStreamParser(payload)
		for {
			entry, done, err := parser.Next()
			if err != nil {
				group.node.InvalidateConnection(cn)
				return err
			}
			if done {
				break
			}
			if entry.Record == nil {
				continue
			}
			idx := int(entry.BatchIndex)
			if idx < 0 || idx >= len(results) {
				group.node.InvalidateConnection(cn)
				return fmt.Errorf("batch response index %d out of range", idx)
			}
			entry.Record.Key = keys[idx]
			results[idx] = entry.Record
		}
		if parser.Terminated() {
			group.node.PutConnection(cn)
			return nil
		}
	}
}
