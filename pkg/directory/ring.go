// Package directory implements the Room Directory: a consistent-hash ring
// mapping a room to the ingest/edge node currently responsible for it, and
// a websocket fan-out of ownership-change notifications to subscribed
// edge servers.
package directory

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultVirtualNodes = 150

// Ring is a consistent-hash ring over node identifiers (host:port
// strings). Looking up a room's owner is O(log n) in the number of
// virtual node points; adding or removing a node only reshuffles the
// rooms whose owner point lies between the node's old neighbors.
type Ring struct {
	mu       sync.RWMutex
	points   []uint64          // sorted virtual-node hash points
	owners   map[uint64]string // point -> node id
	nodes    map[string]bool
	vnodes   int
}

// NewRing builds an empty ring. vnodes controls how many virtual points
// each node gets; more points smooth the distribution at the cost of a
// larger point table. 0 selects the default of 150.
func NewRing(vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = defaultVirtualNodes
	}
	return &Ring{
		owners: make(map[uint64]string),
		nodes:  make(map[string]bool),
		vnodes: vnodes,
	}
}

// AddNode inserts a node's virtual points into the ring. A no-op if the
// node is already present.
func (r *Ring) AddNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[id] {
		return
	}
	r.nodes[id] = true
	for i := 0; i < r.vnodes; i++ {
		p := pointHash(id, i)
		r.owners[p] = id
		r.points = append(r.points, p)
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
}

// RemoveNode deletes a node's virtual points from the ring.
func (r *Ring) RemoveNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.nodes[id] {
		return
	}
	delete(r.nodes, id)
	filtered := r.points[:0]
	for _, p := range r.points {
		if r.owners[p] == id {
			delete(r.owners, p)
			continue
		}
		filtered = append(filtered, p)
	}
	r.points = filtered
}

// Owner returns the node responsible for key (an "org/room" string), or
// "" if the ring has no nodes.
func (r *Ring) Owner(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 {
		return ""
	}
	h := xxhash.Sum64String(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx == len(r.points) {
		idx = 0
	}
	return r.owners[r.points[idx]]
}

// Nodes returns the current node set.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func pointHash(id string, i int) uint64 {
	h := xxhash.New()
	h.WriteString(id)
	h.Write([]byte{byte(i), byte(i >> 8)})
	return h.Sum64()
}
