package gateway

import (
	"sync"

	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
)

// whitelist is the set of nodes the gateway will act on.
// A node outside it is dropped by the Task Queue before it can cause a
// nil dereference or an unwanted side effect; it never crashes the
// gateway, it is simply invisible.
type whitelist struct {
	queue *taskqueue.Queue

	mu    sync.RWMutex
	nodes map[*node.Node]struct{}
}

func newWhitelist(queue *taskqueue.Queue) *whitelist {
	return &whitelist{queue: queue, nodes: make(map[*node.Node]struct{})}
}

// Add admits n. Returns false if n already appears.
func (w *whitelist) Add(n *node.Node) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.nodes[n]; ok {
		return false
	}
	w.nodes[n] = struct{}{}
	return true
}

// Remove evicts n, cancelling any tasks the queue holds for it.
func (w *whitelist) Remove(n *node.Node) bool {
	w.mu.Lock()
	_, ok := w.nodes[n]
	if ok {
		delete(w.nodes, n)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	if w.queue.NodeIsInQueue(n) {
		w.queue.NodeCancelTasks(n)
	}
	return true
}

// Contains reports whether n is admitted.
func (w *whitelist) Contains(n *node.Node) bool {
	if n == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.nodes[n]
	return ok
}

// Nodes returns every admitted node.
func (w *whitelist) Nodes() []*node.Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*node.Node, 0, len(w.nodes))
	for n := range w.nodes {
		out = append(out, n)
	}
	return out
}
