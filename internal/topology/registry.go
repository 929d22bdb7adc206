package topology

import (
	"sync"

	"lowpansniff/internal/models"
)

// Registry holds the observed nodes and directed edges. Every method is
// safe for concurrent use; one RegisterPacket call is atomic with respect
// to readers.
type Registry struct {
	mu      sync.Mutex
	norm    *Normalizer
	nodes   []*Node
	index   map[string]*Node
	edges   []models.Edge
	edgeSet map[models.Edge]struct{}
}

// NewRegistry creates an empty registry keyed through norm.
func NewRegistry(norm *Normalizer) *Registry {
	return &Registry{
		norm:    norm,
		index:   make(map[string]*Node),
		edgeSet: make(map[models.Edge]struct{}),
	}
}

// RegisterPacket records p against its source and, for unicast packets, its
// destination. It returns the vertices and edge seen for the first time, in
// that order. Packets without addresses change nothing.
func (r *Registry) RegisterPacket(p *models.Packet) []models.TopologyEvent {
	if p.Src == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var events []models.TopologyEvent
	src := r.norm.Normalize(p.Src)
	srcOK := r.attach(src, p, &events)
	if p.Multicast {
		return events
	}
	if p.Dst == "" {
		return events
	}

	dst := r.norm.Normalize(p.Dst)
	dstOK := r.attach(dst, p, &events)
	if srcOK && dstOK {
		e := models.Edge{Src: src, Dst: dst}
		if _, ok := r.edgeSet[e]; !ok {
			r.edgeSet[e] = struct{}{}
			r.edges = append(r.edges, e)
			events = append(events, models.TopologyEvent{Type: models.EventAddEdge, Src: src, Dst: dst})
		}
	}
	return events
}

// attach appends p to the node at addr, creating it if needed. It reports
// false when addr is excluded.
func (r *Registry) attach(addr string, p *models.Packet, events *[]models.TopologyEvent) bool {
	if r.norm.Excluded(addr) {
		return false
	}
	n, ok := r.index[addr]
	if !ok {
		n = &Node{Address: addr}
		r.index[addr] = n
		r.nodes = append(r.nodes, n)
		*events = append(*events, models.TopologyEvent{Type: models.EventAddVertex, Address: addr})
	}
	n.Packets = append(n.Packets, p)
	return true
}

// Nodes returns a copy of the node list in insertion order.
func (r *Registry) Nodes() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Node, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = Node{
			Address: n.Address,
			Packets: append([]*models.Packet(nil), n.Packets...),
		}
	}
	return out
}

// Node returns a copy of the node stored under addr, which may be in any
// form Normalize accepts.
func (r *Registry) Node(addr string) (Node, bool) {
	key := r.norm.Normalize(addr)

	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.index[key]
	if !ok {
		return Node{}, false
	}
	return Node{Address: n.Address, Packets: append([]*models.Packet(nil), n.Packets...)}, true
}

// NodeInfos summarizes every node for display.
func (r *Registry) NodeInfos() []models.NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.NodeInfo, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.info()
	}
	return out
}

// Snapshot returns the whole graph for consumers that join late.
func (r *Registry) Snapshot() models.TopologySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := models.TopologySnapshot{
		Vertices: make([]string, len(r.nodes)),
		Edges:    append([]models.Edge{}, r.edges...),
	}
	for i, n := range r.nodes {
		snap.Vertices[i] = n.Address
	}
	return snap
}

// Counts returns the number of vertices and edges.
func (r *Registry) Counts() (nodes, edges int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes), len(r.edges)
}

// Reset clears the graph.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = nil
	r.index = make(map[string]*Node)
	r.edges = nil
	r.edgeSet = make(map[models.Edge]struct{})
}
