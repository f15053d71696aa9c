package delegation

// Graph traversal helpers over an active-edge adjacency map. All run in
// O(V+E); delegation graphs can have thousands of nodes, so nothing here
// may be quadratic.

// reaches reports whether target is reachable from start via active edges.
func reaches(adj map[string][]string, start, target string) bool {
	if start == target {
		return true
	}
	visited := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[cur] {
			if next == target {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// chainDepth returns the length in edges of the longest active chain ending
// at node. With the cycle invariant holding the graph is a DAG; the onStack
// guard keeps the walk terminating even on corrupted data.
func chainDepth(adj map[string][]string, node string) int {
	// Reverse adjacency: who delegates to whom.
	radj := make(map[string][]string, len(adj))
	for from, tos := range adj {
		for _, to := range tos {
			radj[to] = append(radj[to], from)
		}
	}

	memo := make(map[string]int)
	onStack := make(map[string]bool)

	var walk func(n string) int
	walk = func(n string) int {
		if d, ok := memo[n]; ok {
			return d
		}
		if onStack[n] {
			return 0
		}
		onStack[n] = true
		depth := 0
		for _, prev := range radj[n] {
			if d := walk(prev) + 1; d > depth {
				depth = d
			}
		}
		onStack[n] = false
		memo[n] = depth
		return depth
	}

	return walk(node)
}

// cycleFrom runs a depth-first search from start looking for a path back to
// start, maintaining a recursion-stack set. Returns the cycle path
// (e.g. ["a","b","c","a"]) or nil.
func cycleFrom(adj map[string][]string, start string) []string {
	visited := make(map[string]bool)
	path := []string{start}

	var dfs func(current string) []string
	dfs = func(current string) []string {
		for _, next := range adj[current] {
			if next == start && len(path) > 1 {
				return append(path, start)
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			if result := dfs(next); result != nil {
				return result
			}
			path = path[:len(path)-1]
			visited[next] = false
		}
		return nil
	}

	visited[start] = true
	return dfs(start)
}
