package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
)

// Node is the abstract interface an executor dispatches actions through,
// decoupling it from whether an action runs locally or (in a future
// multi-node deployment) on a remote LLMOS instance. Grounded directly on
// original_source's orchestration/nodes.py BaseNode: only the local
// implementation is mandated here, but the executor depends on Node, not
// on LocalNode, so a future RemoteNode needs no executor changes.
type Node interface {
	NodeID() string
	ExecuteAction(ctx context.Context, moduleID, actionName string, params map[string]any) (any, error)
	IsAvailable() bool
}

// LocalNode executes actions on this machine by delegating to a
// ModuleRegistry. It is the only Node used in a standalone deployment.
type LocalNode struct {
	registry *ModuleRegistry
}

func NewLocalNode(registry *ModuleRegistry) *LocalNode {
	return &LocalNode{registry: registry}
}

func (n *LocalNode) NodeID() string { return "local" }

func (n *LocalNode) ExecuteAction(ctx context.Context, moduleID, actionName string, params map[string]any) (any, error) {
	module, err := n.registry.Get(moduleID)
	if err != nil {
		return nil, err
	}
	return module.Execute(ctx, actionName, params)
}

func (n *LocalNode) IsAvailable() bool { return true }

// NodeRegistry maps node IDs to Node implementations. Registrations are
// expected at startup before concurrent dispatch begins, but the registry
// still locks its map since trigger-fired plans and HTTP-submitted plans
// can race on registry reads even in Phase 1; a future RemoteNode joining
// or leaving at runtime needs nothing more than what's already here.
// Grounded directly on original_source's orchestration/nodes.py
// NodeRegistry.
type NodeRegistry struct {
	mu    sync.RWMutex
	nodes map[string]Node
	local Node
}

func NewNodeRegistry(local *LocalNode) *NodeRegistry {
	return &NodeRegistry{
		nodes: map[string]Node{local.NodeID(): local},
		local: local,
	}
}

// Resolve returns the Node for target. Empty string and "local" always
// resolve to the local node.
func (r *NodeRegistry) Resolve(target string) (Node, error) {
	if target == "" || target == "local" {
		return r.local, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[target]
	if !ok {
		return nil, imlerrors.New(imlerrors.ModuleNotFound, fmt.Sprintf("unknown node %q", target)).
			WithDetail("target_node", target).
			WithDetail("registered_nodes", r.listNodesLocked())
	}
	return node, nil
}

// Register adds or replaces a node.
func (r *NodeRegistry) Register(node Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.NodeID()] = node
	slog.Info("node registered", "node_id", node.NodeID())
}

// Unregister removes a node. The local node can never be unregistered.
func (r *NodeRegistry) Unregister(nodeID string) {
	if nodeID == r.local.NodeID() {
		slog.Warn("ignoring attempt to unregister local node")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[nodeID]; ok {
		delete(r.nodes, nodeID)
		slog.Info("node unregistered", "node_id", nodeID)
	}
}

func (r *NodeRegistry) ListNodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listNodesLocked()
}

func (r *NodeRegistry) listNodesLocked() []string {
	out := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		out = append(out, id)
	}
	return out
}

func (r *NodeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
