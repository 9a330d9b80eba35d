package bvh

// Stats summarizes a linearized tree.
type Stats struct {
	Nodes     int
	Internal  int
	Leaves    int
	Triangles int
	Depth     int
	MinLeaf   int
	MaxLeaf   int
	AvgLeaf   float64
	NodeBytes int
	TriBytes  int
}

func (l *Linear) Stats() Stats {
	s := Stats{
		Nodes:     len(l.Nodes),
		Triangles: len(l.Tris),
		Depth:     l.Depth,
		NodeBytes: len(l.Nodes) * NodeStride,
		TriBytes:  len(l.Tris) * TriStride,
	}
	total := 0
	for _, n := range l.Nodes {
		if !n.IsLeaf() {
			s.Internal++
			continue
		}
		c := int(n.Count())
		if s.Leaves == 0 || c < s.MinLeaf {
			s.MinLeaf = c
		}
		if c > s.MaxLeaf {
			s.MaxLeaf = c
		}
		s.Leaves++
		total += c
	}
	if s.Leaves > 0 {
		s.AvgLeaf = float64(total) / float64(s.Leaves)
	}
	return s
}
