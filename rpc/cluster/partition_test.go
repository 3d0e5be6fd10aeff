package cluster

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/ValentinKolb/skv/lib/types"
)

// bitmapFor builds a base64 ownership bitmap with the given partitions
// set
func bitmapFor(pids ...int) string {
	bitmap := make([]byte, bitmapSize)
	for _, pid := range pids {
		bitmap[pid>>3] |= 0x80 >> uint(pid&7)
	}
	return base64.StdEncoding.EncodeToString(bitmap)
}

func TestParseReplicasMaster(t *testing.T) {
	node := &Node{name: "A"}

	t.Run("explicit bitmap", func(t *testing.T) {
		pmap := partitionMap{}
		value := "test:" + bitmapFor(0, 5, 4095)
		if err := parseReplicasMaster(value, node, pmap); err != nil {
			t.Fatalf("failed to parse replica map: %v", err)
		}

		nodes := pmap["test"]
		if len(nodes) != types.Partitions {
			t.Fatalf("expected %d slots, got %d", types.Partitions, len(nodes))
		}
		for _, pid := range []int{0, 5, 4095} {
			if nodes[pid] != node {
				t.Errorf("partition %d must be owned by the node", pid)
			}
		}
		for _, pid := range []int{1, 4, 6, 2048} {
			if nodes[pid] != nil {
				t.Errorf("partition %d must be unowned", pid)
			}
		}
	})

	t.Run("vacant bitmap owns everything", func(t *testing.T) {
		pmap := partitionMap{}
		if err := parseReplicasMaster("test:", node, pmap); err != nil {
			t.Fatalf("failed to parse replica map: %v", err)
		}
		for pid, owner := range pmap["test"] {
			if owner != node {
				t.Fatalf("partition %d must be owned by the node", pid)
			}
		}
	})

	t.Run("multiple namespaces", func(t *testing.T) {
		pmap := partitionMap{}
		value := fmt.Sprintf("one:%s;two:%s", bitmapFor(1), bitmapFor(2))
		if err := parseReplicasMaster(value, node, pmap); err != nil {
			t.Fatalf("failed to parse replica map: %v", err)
		}
		if pmap["one"][1] != node || pmap["two"][2] != node {
			t.Error("both namespaces must be mapped")
		}
	})

	t.Run("two nodes merge", func(t *testing.T) {
		other := &Node{name: "B"}
		pmap := partitionMap{}
		if err := parseReplicasMaster("test:"+bitmapFor(10), node, pmap); err != nil {
			t.Fatalf("failed to parse replica map: %v", err)
		}
		if err := parseReplicasMaster("test:"+bitmapFor(20), other, pmap); err != nil {
			t.Fatalf("failed to parse replica map: %v", err)
		}
		if pmap["test"][10] != node || pmap["test"][20] != other {
			t.Error("ownership of both nodes must survive the merge")
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		for _, value := range []string{
			"test:!!!not-base64!!!",
			"test:" + base64.StdEncoding.EncodeToString(make([]byte, 16)),
			":missing-namespace",
			"no-colon-here",
		} {
			if err := parseReplicasMaster(value, node, partitionMap{}); err == nil {
				t.Errorf("expected error for %q", value)
			}
		}
	})
}

func TestPartitionMapClone(t *testing.T) {
	node := &Node{name: "A"}
	pmap := partitionMap{}
	if err := parseReplicasMaster("test:", node, pmap); err != nil {
		t.Fatalf("failed to parse replica map: %v", err)
	}

	clone := pmap.clone()
	other := &Node{name: "B"}
	clone["test"][0] = other

	if pmap["test"][0] != node {
		t.Error("mutating the clone must not affect the original")
	}
}

func TestPartitionMapDropNode(t *testing.T) {
	node := &Node{name: "A"}
	pmap := partitionMap{}
	if err := parseReplicasMaster("test:"+bitmapFor(3, 4), node, pmap); err != nil {
		t.Fatalf("failed to parse replica map: %v", err)
	}

	if !pmap.containsNode(node) {
		t.Fatal("node must be contained before the drop")
	}
	pmap.dropNode(node)
	if pmap.containsNode(node) {
		t.Error("node must be gone after the drop")
	}
}
