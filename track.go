package dsaa

import "golang.org/x/tools/go/ssa"

// DeleteValue must be called when the client deletes v. Memoized answers
// involving v are dropped before the upstream trackers are notified.
func (aa *AliasAnalysis) DeleteValue(v ssa.Value) {
	aa.mu.Lock()
	defer aa.mu.Unlock()

	aa.cache.invalidate(v)
	for _, t := range aa.upstream {
		t.DeleteValue(v)
	}
}

// CopyValue must be called when the client makes to a copy of from.
func (aa *AliasAnalysis) CopyValue(from, to ssa.Value) {
	if from == to {
		return
	}

	aa.mu.Lock()
	defer aa.mu.Unlock()

	aa.cache.invalidate(from)
	aa.cache.invalidate(to)
	for _, t := range aa.upstream {
		t.CopyValue(from, to)
	}
}
