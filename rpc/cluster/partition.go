package cluster

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ValentinKolb/skv/lib/types"
)

// partitionMap maps a namespace to its partition owners. Every slice has
// exactly types.Partitions entries, unowned partitions stay nil.
type partitionMap map[string][]*Node

// clone creates a deep copy so the tender can modify a snapshot without
// disturbing concurrent readers.
func (m partitionMap) clone() partitionMap {
	c := make(partitionMap, len(m))
	for namespace, nodes := range m {
		c[namespace] = append([]*Node(nil), nodes...)
	}
	return c
}

// dropNode removes every reference to a departed node
func (m partitionMap) dropNode(node *Node) {
	for _, nodes := range m {
		for i, n := range nodes {
			if n == node {
				nodes[i] = nil
			}
		}
	}
}

// containsNode reports whether the node owns any partition
func (m partitionMap) containsNode(node *Node) bool {
	for _, nodes := range m {
		for _, n := range nodes {
			if n == node {
				return true
			}
		}
	}
	return false
}

// bitmapSize is the length of a partition ownership bitmap, one bit per
// partition
const bitmapSize = types.Partitions / 8

// parseReplicasMaster merges a replicas-master announcement into pmap.
// The value lists one entry per namespace, a namespace name and the
// base64 encoded ownership bitmap separated by a colon. An entry without
// a bitmap means the node owns the whole namespace.
func parseReplicasMaster(value string, node *Node, pmap partitionMap) error {
	for _, entry := range strings.Split(value, ";") {
		if entry == "" {
			continue
		}
		namespace, encoded, found := strings.Cut(entry, ":")
		if !found || namespace == "" {
			return fmt.Errorf("malformed replica entry %q", entry)
		}

		nodes := pmap[namespace]
		if nodes == nil {
			nodes = make([]*Node, types.Partitions)
			pmap[namespace] = nodes
		}

		if encoded == "" {
			// vacant bitmap, the node owns every partition
			for pid := range nodes {
				nodes[pid] = node
			}
			continue
		}

		bitmap, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid bitmap for namespace %q: %w", namespace, err)
		}
		if len(bitmap) < bitmapSize {
			return fmt.Errorf("bitmap for namespace %q has %d bytes, expected %d", namespace, len(bitmap), bitmapSize)
		}

		for pid := 0; pid < types.Partitions; pid++ {
			if bitmap[pid>>3]&(0x80>>uint(pid&7)) != 0 {
				nodes[pid] = node
			}
		}
	}
	return nil
}
