package engine

import "github.com/user/flowd/internal/storage"

// graphNode is one vertex of the in-memory run graph. incoming and outgoing
// hold node ids; result is filled as the run progresses.
type graphNode struct {
	node     storage.Node
	incoming []string
	outgoing []string
	executed bool
	result   map[string]any
}

// buildGraph indexes nodes by id and attaches edges. Connections that
// reference unknown node ids are dropped.
func buildGraph(nodes []storage.Node, conns []storage.Connection) map[string]*graphNode {
	graph := make(map[string]*graphNode, len(nodes))
	for _, n := range nodes {
		graph[n.ID] = &graphNode{node: n}
	}
	for _, c := range conns {
		from, okFrom := graph[c.FromNodeID]
		to, okTo := graph[c.ToNodeID]
		if !okFrom || !okTo {
			continue
		}
		from.outgoing = append(from.outgoing, c.ToNodeID)
		to.incoming = append(to.incoming, c.FromNodeID)
	}
	return graph
}

// topoOrder returns a topological ordering of the graph using Kahn's
// algorithm. Nodes left over after the queue drains sit on a cycle, which
// makes the whole run invalid.
func topoOrder(graph map[string]*graphNode) ([]string, error) {
	indegree := make(map[string]int, len(graph))
	var queue []string
	for id, gn := range graph {
		indegree[id] = len(gn.incoming)
		if len(gn.incoming) == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(graph))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range graph[id].outgoing {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(graph) {
		return nil, ErrCyclicWorkflow
	}
	return order, nil
}

// mergeInputs folds src into dst recursively. Nested maps merge key by key;
// a key held by both sides with non-map values collects into a slice, so no
// upstream result is silently overwritten. Values taken from src are deep
// copied: dst only ever holds private maps and slices, never references into
// an upstream's stored result, so a join node cannot rewrite the output a
// sibling branch still reads.
func mergeInputs(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for key, sv := range src {
		dv, exists := dst[key]
		if !exists {
			dst[key] = copyValue(sv)
			continue
		}
		dm, dOK := dv.(map[string]any)
		sm, sOK := sv.(map[string]any)
		if dOK && sOK {
			dst[key] = mergeInputs(dm, sm)
			continue
		}
		if list, ok := dv.([]any); ok {
			dst[key] = append(list, copyValue(sv))
			continue
		}
		dst[key] = []any{dv, copyValue(sv)}
	}
	return dst
}

// copyValue deep-copies maps and slices; scalars pass through.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v2 := range val {
			out[k] = copyValue(v2)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v2 := range val {
			out[i] = copyValue(v2)
		}
		return out
	default:
		return v
	}
}
