package dsaa

// StorageNode is implemented by nodes that know which kinds of memory they
// summarise.
type StorageNode interface {
	Node

	// IsConstant reports whether the memory of the node is never written and
	// consists of immutable storage only, or also of stack storage when
	// orLocal is set.
	IsConstant(orLocal bool) bool
}

// PointsToConstantMemory reports whether l.Ptr provably refers to memory that
// is never written. With orLocal, unwritten stack memory counts as constant.
func (aa *AliasAnalysis) PointsToConstantMemory(l Location, orLocal bool) bool {
	p := stripPointerCasts(l.Ptr)
	if p == nil {
		return false
	}

	aa.mu.RLock()
	defer aa.mu.RUnlock()

	g, owned := aa.graphFor(p)
	switch {
	case owned && g == nil:
		return false
	case g == nil:
		g = aa.graphs.GlobalsGraph()
	}

	c, found := g.Scalar(p)
	if !found || c.Node == nil || !c.Node.IsComplete() {
		return false
	}

	n, ok := c.Node.(StorageNode)
	return ok && n.IsConstant(orLocal)
}
