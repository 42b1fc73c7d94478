package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"redub/internal/manifest"
	"redub/internal/stage"
)

// Graph is the node arena for one job. All reads and writes go through the
// single mutex; the scheduler holds it across every transition so no
// partially-applied state is ever observable.
type Graph struct {
	JobID string

	mu    sync.Mutex
	nodes map[string]*Node
	order []string
}

// NewGraph returns an empty graph for a job.
func NewGraph(jobID string) *Graph {
	return &Graph{
		JobID: jobID,
		nodes: make(map[string]*Node),
	}
}

// Add inserts a node. Upstream references must already exist; duplicate IDs
// are a programming error.
func (g *Graph) Add(node *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(node)
}

func (g *Graph) addLocked(node *Node) error {
	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("pipeline: duplicate node %q", node.ID)
	}
	for _, up := range node.Upstream {
		if _, ok := g.nodes[up]; !ok {
			return fmt.Errorf("pipeline: node %q references unknown upstream %q", node.ID, up)
		}
	}
	if node.Status == "" {
		node.Status = manifest.NodeWaiting
	}
	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	return nil
}

// Node returns a snapshot of one node.
func (g *Graph) Node(id string) (Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return Snapshot{}, false
	}
	return node.snapshot(), true
}

// Snapshots returns all nodes in insertion order.
func (g *Graph) Snapshots() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Snapshot, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].snapshot())
	}
	return out
}

// upstreamReadyLocked reports whether every upstream of the node succeeded.
func (g *Graph) upstreamReadyLocked(node *Node) bool {
	for _, up := range node.Upstream {
		if g.nodes[up].Status != manifest.NodeSucceeded {
			return false
		}
	}
	return true
}

// skipDependentsLocked marks every transitive dependent of the given node
// Skipped unless it is already terminal.
func (g *Graph) skipDependentsLocked(failedID string) []*Node {
	var skipped []*Node
	reached := map[string]bool{failedID: true}
	changed := true
	for changed {
		changed = false
		for _, id := range g.order {
			node := g.nodes[id]
			if reached[id] {
				continue
			}
			for _, up := range node.Upstream {
				if reached[up] {
					reached[id] = true
					changed = true
					if !node.Status.Terminal() {
						node.Status = manifest.NodeSkipped
						skipped = append(skipped, node)
					}
					break
				}
			}
		}
	}
	return skipped
}

// inputsLocked assembles the upstream artifacts for a node in a stable
// order: non-clip artifacts in upstream declaration order, then synthesized
// clips sorted by cue ordinal regardless of completion order.
func (g *Graph) inputsLocked(node *Node) []*Node {
	var plain []*Node
	var clips []*Node
	for _, up := range node.Upstream {
		upstream := g.nodes[up]
		if upstream.Kind == stage.KindSynthesize {
			clips = append(clips, upstream)
		} else {
			plain = append(plain, upstream)
		}
	}
	sort.SliceStable(clips, func(i, j int) bool {
		return clips[i].CueIndex < clips[j].CueIndex
	})
	return append(plain, clips...)
}
