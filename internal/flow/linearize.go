package flow

// Linearize orders frames by walking prototype connections.
//
// Without connections every frame is returned in input order. Otherwise the
// walk starts at the first frame that is a source but never a destination
// (or at the first connection's source when every source is also a
// destination), follows the first outgoing connection of each node, and stops
// at a revisited node, a node without outgoing connections, a connection
// without destination, or a destination that is not a known frame. A walk
// that yields no frames falls back to input order.
func Linearize(frames []Frame, connections []Connection, settings Settings) Plan {
	if len(connections) == 0 {
		return Uniform(frames, settings)
	}

	byID := make(map[string]Frame, len(frames))
	for _, f := range frames {
		byID[f.ID] = f
	}

	next := make(map[string]Connection, len(connections))
	dests := make(map[string]bool, len(connections))
	for _, c := range connections {
		if _, seen := next[c.SourceID]; !seen {
			next[c.SourceID] = c
		}
		if c.DestID != "" {
			dests[c.DestID] = true
		}
	}

	start := connections[0].SourceID
	for _, c := range connections {
		if !dests[c.SourceID] {
			start = c.SourceID
			break
		}
	}

	var ordered []Frame
	visited := make(map[string]bool)
	for current := start; current != "" && !visited[current]; {
		visited[current] = true
		if f, ok := byID[current]; ok {
			ordered = append(ordered, f)
		}

		c, ok := next[current]
		if !ok || c.DestID == "" {
			break
		}
		if _, known := byID[c.DestID]; !known {
			break
		}
		current = c.DestID
	}

	if len(ordered) == 0 {
		return Uniform(frames, settings)
	}
	return Uniform(ordered, settings)
}
