// Package sharding implements C5, the Shard & Service Redistributor: it
// reassigns a failed node's shards and services across the surviving
// peer set, and provides placeholder Byzantine-node and consensus
// checks.
package sharding

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"
)

// Registry is C5: the shard and service redistributor.
type Registry struct {
	mu sync.Mutex

	redundancyFactor float64

	// shardsByNode maps a node id to the shard ids it currently hosts.
	shardsByNode map[string][]int
	// shardContent is used only by the Byzantine placeholder check: a
	// node's shard content blob, in which the literal token "corrupted"
	// marks a compromised shard.
	shardContent map[string]string

	// serviceOwner maps a service id to its owning node id.
	serviceOwner map[string]string

	active map[string]bool
}

// New constructs an empty Registry with the given redundancy factor
// (default 1.5): an advisory hint on how many additional replica copies
// a redistribution should eventually enqueue, not a hard placement
// count. Redistribute and Reassign still place each shard/service
// exactly once; RedundancyFactor exposes the hint itself for display
// alongside a placement (the status surface, capacity planning) rather
// than having it drive placement arithmetic.
func New(redundancyFactor float64) *Registry {
	if redundancyFactor <= 0 {
		redundancyFactor = 1.5
	}
	return &Registry{
		redundancyFactor: redundancyFactor,
		shardsByNode:     make(map[string][]int),
		shardContent:     make(map[string]string),
		serviceOwner:     make(map[string]string),
		active:           make(map[string]bool),
	}
}

// AddNode registers a node as active and ensures it has a shard-list
// entry.
func (r *Registry) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[nodeID] = true
	if _, ok := r.shardsByNode[nodeID]; !ok {
		r.shardsByNode[nodeID] = nil
	}
}

// AssignShard places shardID on nodeID, for test setup and initial
// placement.
func (r *Registry) AssignShard(shardID int, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shardsByNode[nodeID] = append(r.shardsByNode[nodeID], shardID)
}

// AssignService places serviceID on nodeID.
func (r *Registry) AssignService(serviceID, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serviceOwner[serviceID] = nodeID
}

// SetShardContent records the raw content blob used by the Byzantine
// placeholder predicate.
func (r *Registry) SetShardContent(nodeID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shardContent[nodeID] = content
}

// Redistribute removes failedNode's shard list and places each removed
// shard exactly once, round-robin, across the surviving active nodes in
// deterministic (sorted) order.
func (r *Registry) Redistribute(failedNode string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.shardsByNode[failedNode]
	delete(r.shardsByNode, failedNode)
	delete(r.active, failedNode)

	survivors := r.sortedActiveLocked()
	if len(survivors) == 0 || len(removed) == 0 {
		return
	}

	sort.Ints(removed)
	for i, shardID := range removed {
		target := survivors[i%len(survivors)]
		r.shardsByNode[target] = append(r.shardsByNode[target], shardID)
	}
}

// Reassign gives every service owned by failedNode to the
// least-loaded surviving active node, ties broken by node id.
func (r *Registry) Reassign(failedNode string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var survivors []string
	for _, n := range r.sortedActiveLocked() {
		if n != failedNode {
			survivors = append(survivors, n)
		}
	}
	if len(survivors) == 0 {
		return
	}

	load := make(map[string]int, len(survivors))
	for _, n := range survivors {
		load[n] = 0
	}
	for _, owner := range r.serviceOwner {
		if _, ok := load[owner]; ok {
			load[owner]++
		}
	}

	var orphaned []string
	for svc, owner := range r.serviceOwner {
		if owner == failedNode {
			orphaned = append(orphaned, svc)
		}
	}
	sort.Strings(orphaned)

	for _, svc := range orphaned {
		target := leastLoaded(survivors, load)
		r.serviceOwner[svc] = target
		load[target]++
	}
}

func leastLoaded(nodes []string, load map[string]int) string {
	best := nodes[0]
	for _, n := range nodes[1:] {
		if load[n] < load[best] {
			best = n
		}
	}
	return best
}

func (r *Registry) sortedActiveLocked() []string {
	var nodes []string
	for n, active := range r.active {
		if active {
			nodes = append(nodes, n)
		}
	}
	sort.Strings(nodes)
	return nodes
}

// RedundancyFactor returns the advisory replica-count hint the
// registry was constructed with, for callers (the status surface,
// capacity planning) that want to display it alongside a placement.
func (r *Registry) RedundancyFactor() float64 {
	return r.redundancyFactor
}

// ShardsOf returns the shard ids currently hosted on nodeID.
func (r *Registry) ShardsOf(nodeID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.shardsByNode[nodeID]))
	copy(out, r.shardsByNode[nodeID])
	return out
}

// TotalShardCount returns the number of shard placements across every
// remaining node, used by tests to verify the exact-count invariant.
func (r *Registry) TotalShardCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, shards := range r.shardsByNode {
		total += len(shards)
	}
	return total
}

// DetectByzantine returns the ids of nodes whose shard content contains
// the literal token "corrupted" — a placeholder predicate; the real
// check is a content validator hook.
func (r *Registry) DetectByzantine() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flagged []string
	for node, content := range r.shardContent {
		if strings.Contains(content, "corrupted") {
			flagged = append(flagged, node)
		}
	}
	sort.Strings(flagged)
	return flagged
}

// ReachConsensus approves iff the active node count is at least
// max(2, ceil(quorum * total)).
func (r *Registry) ReachConsensus(total int, quorum float64) bool {
	r.mu.Lock()
	activeCount := len(r.sortedActiveLocked())
	r.mu.Unlock()

	required := int(quorum * float64(total))
	if float64(required) < quorum*float64(total) {
		required++
	}
	if required < 2 {
		required = 2
	}
	return activeCount >= required
}

// ShardForKey returns the shard index a key hashes to: the FNV-1a hash
// of the key modulo numShards.
func ShardForKey(key string, numShards int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % numShards
}
