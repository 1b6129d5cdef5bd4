package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// Registry resolves the names an operator refers to. Implemented by
// *store.Store.
type Registry interface {
	Genome(ctx context.Context, name string) (ir.Genome, error)
	ResolveDataset(ctx context.Context, ref string) (ir.Dataset, error)
	ResolveTerm(ctx context.Context, kind ir.TermKind, name string) (string, error)
	BiosourceScope(ctx context.Context, name string) ([]string, error)
}

// Node is an immutable vertex of the query graph.
//
// Inputs are shared by reference: many nodes may point at the same input,
// and a node keeps its inputs reachable even after their owners released
// them.
type Node struct {
	ID      string
	Key     string
	Op      Operator
	Args    ir.IRObject
	Inputs  []*Node
	Genomes []string
}

// Graph is the content-addressed store of query nodes.
//
// Thread-safety: all methods are safe for concurrent use. Registry lookups
// happen outside the lock.
type Graph struct {
	registry Registry

	mu     sync.Mutex
	seq    int64
	byKey  map[string]*Node
	byID   map[string]*Node
	owners map[string]map[string]struct{} // node id -> owning sessions
}

// NewGraph creates an empty graph resolving names through reg.
func NewGraph(reg Registry) *Graph {
	return &Graph{
		registry: reg,
		byKey:    make(map[string]*Node),
		byID:     make(map[string]*Node),
		owners:   make(map[string]map[string]struct{}),
	}
}

// GetOrCreate returns the node for op, creating it if no structurally equal
// node exists. The node is owned by owner until Release(owner).
//
// Errors are *ir.Error with codes REFERENCE_NOT_FOUND, INVALID_ARGUMENTS
// or INCOMPATIBLE_GENOME.
func (g *Graph) GetOrCreate(ctx context.Context, owner string, op Operator) (*Node, error) {
	res, err := g.normalize(ctx, owner, op)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res.shortcut != nil {
		g.own(res.shortcut, owner)
		return res.shortcut, nil
	}

	inputKeys := make([]string, len(res.inputs))
	for i, in := range res.inputs {
		inputKeys[i] = in.Key
	}
	key, err := ir.NodeKey(res.op.Kind(), res.args, inputKeys)
	if err != nil {
		return nil, ir.Errorf(ir.CodeInvalidArguments, "%s: %v", res.op.Kind(), err)
	}

	if existing, ok := g.byKey[key]; ok {
		g.own(existing, owner)
		return existing, nil
	}

	g.seq++
	n := &Node{
		ID:      fmt.Sprintf("q%d", g.seq),
		Key:     key,
		Op:      res.op,
		Args:    res.args,
		Inputs:  res.inputs,
		Genomes: res.genomes,
	}
	g.byKey[key] = n
	g.byID[n.ID] = n
	g.own(n, owner)
	slog.Debug("query node created", "id", n.ID, "kind", res.op.Kind(), "owner", owner)
	return n, nil
}

// own must be called with g.mu held.
func (g *Graph) own(n *Node, owner string) {
	set, ok := g.owners[n.ID]
	if !ok {
		set = make(map[string]struct{})
		g.owners[n.ID] = set
	}
	set[owner] = struct{}{}
}

// Node returns the node with the given id if owner owns it.
// Returns a REFERENCE_NOT_FOUND error otherwise.
func (g *Graph) Node(owner, id string) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookup(owner, id)
}

func (g *Graph) lookup(owner, id string) (*Node, error) {
	n, ok := g.byID[id]
	if ok {
		if _, owned := g.owners[id][owner]; owned {
			return n, nil
		}
	}
	return nil, ir.Errorf(ir.CodeReferenceNotFound, "query %q not found", id).WithToken(id)
}

// Release drops owner's claim on every node. Nodes no longer owned by any
// session are removed from the graph and return the number removed.
func (g *Graph) Release(owner string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for id, set := range g.owners {
		if _, ok := set[owner]; !ok {
			continue
		}
		delete(set, owner)
		if len(set) == 0 {
			n := g.byID[id]
			delete(g.owners, id)
			delete(g.byID, id)
			delete(g.byKey, n.Key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("query nodes released", "owner", owner, "removed", removed)
	}
	return removed
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byID)
}

// IDs returns the ids of the nodes owned by owner, in creation order.
func (g *Graph) IDs(owner string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var nodes []*Node
	for id, set := range g.owners {
		if _, ok := set[owner]; ok {
			nodes = append(nodes, g.byID[id])
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodeSeq(nodes[i].ID) < nodeSeq(nodes[j].ID) })
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func nodeSeq(id string) int64 {
	var n int64
	fmt.Sscanf(id, "q%d", &n)
	return n
}
