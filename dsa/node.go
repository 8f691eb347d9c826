package dsa

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// NodeFlags describe the storage summarised by a node and what is known about
// it.
type NodeFlags uint16

const (
	Alloca   NodeFlags = 1 << iota // stack allocation
	Heap                           // heap allocation (new, make, escaping locals)
	Global                         // storage of a package-level variable
	Function                       // code of a function; never written
	External                       // reachable by code the analysis has not seen
	Unknown                        // forged pointer (uintptr conversions etc.)
	Incomplete                     // points-to information may be missing
	Modified                       // written somewhere in the graph
	Read                           // read somewhere in the graph
	Array                          // indexed as an array; implies Collapsed
	Collapsed                      // offsets are no longer tracked
)

// StorageFlags is the set of flags denoting a kind of storage.
const StorageFlags = Alloca | Heap | Global | Function | Unknown

var flagNames = [...]string{
	"alloca", "heap", "global", "function", "external", "unknown",
	"incomplete", "modified", "read", "array", "collapsed",
}

func (f NodeFlags) String() string {
	var names []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}

// Node is an equivalence class of memory objects. Nodes merged into another
// node keep a forwarding pointer to it, so stale references resolve through
// find.
type Node struct {
	id    int
	flags NodeFlags

	forward *Node
	// Offset of this node's byte 0 inside forward.
	fwdOff int64

	// Outgoing edges: the pointer stored at a byte offset points to a handle.
	links   map[int64]Handle
	globals []*ssa.Global
	sites   []ssa.Value
}

func (n *Node) ID() int                { return n.id }
func (n *Node) Flags() NodeFlags       { return n.flags }
func (n *Node) IsComplete() bool       { return n.flags&Incomplete == 0 }
func (n *Node) IsCollapsed() bool      { return n.flags&Collapsed != 0 }
func (n *Node) Globals() []*ssa.Global { return n.globals }

func (n *Node) IsModified() bool { return n.flags&Modified != 0 }

// Storage returns the kinds of storage summarised by the node.
func (n *Node) Storage() NodeFlags { return n.flags & StorageFlags }

// IsConstant reports whether the node is never written and only summarises
// function code, or stack allocations when orLocal is set.
func (n *Node) IsConstant(orLocal bool) bool {
	allowed := Function
	if orLocal {
		allowed |= Alloca
	}
	s := n.Storage()
	return !n.IsModified() && s != 0 && s&^allowed == 0
}

// Sites returns the allocation sites summarised by the node.
func (n *Node) Sites() []ssa.Value { return n.sites }

// Links returns the outgoing edges of the node ordered by offset.
func (n *Node) Links() []Link {
	links := make([]Link, 0, len(n.links))
	for off, h := range n.links {
		links = append(links, Link{off, h.resolve()})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Offset < links[j].Offset })
	return links
}

type Link struct {
	Offset int64
	Target Handle
}

func (n *Node) String() string {
	if n.flags == 0 {
		return fmt.Sprintf("n%d", n.id)
	}
	return fmt.Sprintf("n%d[%v]", n.id, n.flags)
}

// find returns the representative of n and the offset of n's byte 0 inside
// it, compressing the forwarding path on the way.
func (n *Node) find() (*Node, int64) {
	if n.forward == nil {
		return n, 0
	}

	rep, off := n.forward.find()
	n.forward = rep
	n.fwdOff += off
	return rep, n.fwdOff
}

// Handle is a (node, offset) pair. The zero Handle is the null handle, which
// points nowhere.
type Handle struct {
	node   *Node
	offset int64
}

func (h Handle) resolve() Handle {
	if h.node == nil {
		return h
	}

	rep, d := h.node.find()
	if rep.flags&Collapsed != 0 {
		return Handle{rep, 0}
	}
	return Handle{rep, h.offset + d}
}

func (h Handle) Node() *Node   { return h.resolve().node }
func (h Handle) Offset() int64 { return h.resolve().offset }
func (h Handle) IsNull() bool  { return h.node == nil }

func (h Handle) add(off int64) Handle {
	if h.node == nil {
		return h
	}
	return Handle{h.node, h.offset + off}
}

func (h Handle) String() string {
	h = h.resolve()
	if h.node == nil {
		return "null"
	}
	return fmt.Sprintf("%v+%d", h.node, h.offset)
}
