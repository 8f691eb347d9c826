package dsa

import (
	"go/token"
	"go/types"

	"go.uber.org/zap"
	"golang.org/x/tools/go/ssa"
)

// localBuilder constructs the graph of a single function from its
// instructions alone. Static calls to analysed functions are recorded for the
// interprocedural passes; every other call is treated as unknown code.
type localBuilder struct {
	g        *Graph
	layout   *layout
	analysed func(*ssa.Function) bool
	logger   *zap.SugaredLogger
}

// cell returns the handle of v, creating it on first use. Values whose type
// cannot refer to memory get the null handle and no scalar map entry.
func (b *localBuilder) cell(v ssa.Value) Handle {
	if h, found := b.g.scalars[v]; found {
		return h
	}

	var h Handle
	switch v := v.(type) {
	case *ssa.Builtin:
		return h

	case *ssa.Const:
		// Every constant of a pointer-like type is nil.
		if !tracked(v.Type()) {
			return h
		}

	case *ssa.Global:
		n := b.g.newNode(Global)
		n.globals = append(n.globals, v)
		h = Handle{node: n}

	case *ssa.Function:
		n := b.g.newNode(Function)
		n.sites = append(n.sites, v)
		h = Handle{node: n}

	case *ssa.FreeVar:
		// Captured variables are shared with the code that created the
		// closure, which is unknown here.
		h = Handle{node: b.g.newNode(External)}

	case *ssa.Range:
		// Map iterators have an invalid type but share the map's node.
		h = Handle{node: b.g.newNode(0)}

	default:
		if !tracked(v.Type()) {
			return h
		}
		h = Handle{node: b.g.newNode(0)}
	}

	b.g.scalars[v] = h
	return h
}

// bind unifies the cell of v with h.
func (b *localBuilder) bind(v ssa.Value, h Handle) {
	if tracked(v.Type()) {
		b.g.merge(b.cell(v), h)
	}
}

// deref returns the cell of a value of type t stored at h.
func (b *localBuilder) deref(h Handle, t types.Type) Handle {
	switch {
	case PointerLike(t):
		return b.g.link(h)
	case aggregate(t):
		return h
	default:
		return Handle{}
	}
}

// store writes v to the memory at h.
func (b *localBuilder) store(h Handle, v ssa.Value) {
	b.g.mark(h, Modified)
	b.g.merge(b.deref(h, v.Type()), b.cell(v))
}

// alloc gives v a fresh object of the given kind.
func (b *localBuilder) alloc(v ssa.Value, flags NodeFlags) Handle {
	h := b.cell(v)
	if n := h.Node(); n != nil {
		n.flags |= flags &^ Collapsed
		n.sites = append(n.sites, v)
		if flags&(Array|Collapsed) != 0 {
			b.g.collapse(n)
		}
	}
	return h.resolve()
}

// escape marks the memory reachable from v as visible to unknown code.
func (b *localBuilder) escape(v ssa.Value) {
	b.g.mark(b.cell(v), External)
}

func (b *localBuilder) build(fun *ssa.Function) {
	g := b.g
	for _, p := range fun.Params {
		g.formals = append(g.formals, b.cell(p))
	}
	for _, fv := range fun.FreeVars {
		b.cell(fv)
	}
	if fun.Signature.Results().Len() > 0 {
		g.ret = Handle{node: g.newNode(0)}
	}

	for _, block := range fun.Blocks {
		for _, insn := range block.Instrs {
			b.instr(insn)
		}
	}
}

func (b *localBuilder) instr(insn ssa.Instruction) {
	g := b.g
	switch t := insn.(type) {
	case ssa.CallInstruction:
		b.call(t)

	case *ssa.Store:
		b.store(b.cell(t.Addr), t.Val)

	case *ssa.MapUpdate:
		m := b.cell(t.Map)
		b.store(m, t.Key)
		b.store(m, t.Value)

	case *ssa.Send:
		b.store(b.cell(t.Chan), t.X)

	case *ssa.Panic:
		// The panic value may be recovered anywhere up the stack.
		b.escape(t.X)

	case *ssa.Return:
		results := g.fn.Signature.Results()
		for i, r := range t.Results {
			b.g.merge(b.deref(g.ret.add(b.layout.offset(results, i)), r.Type()), b.cell(r))
		}

	case *ssa.Jump, *ssa.If, *ssa.RunDefers, *ssa.DebugRef:

	case ssa.Value:
		b.value(t)

	default:
		b.logger.Debugf("dsa: unhandled instruction %T %v", t, t)
	}
}

func (b *localBuilder) value(v ssa.Value) {
	g := b.g
	switch t := v.(type) {
	case *ssa.Alloc:
		if t.Heap {
			b.alloc(t, Heap)
		} else {
			b.alloc(t, Alloca)
		}

	case *ssa.MakeSlice:
		b.alloc(t, Heap|Array)

	case *ssa.MakeMap, *ssa.MakeChan:
		b.alloc(t, Heap|Collapsed)

	case *ssa.MakeInterface:
		box := b.alloc(t, Heap)
		g.merge(b.deref(box, t.X.Type()), b.cell(t.X))

	case *ssa.MakeClosure:
		env := b.alloc(t, Heap|Collapsed)
		for _, binding := range t.Bindings {
			// The closure body may run anywhere, at any time.
			b.escape(binding)
			g.merge(b.deref(env, binding.Type()), b.cell(binding))
		}

	case *ssa.FieldAddr:
		off := b.layout.fieldOffset(t.X.Type(), t.Field)
		b.bind(t, b.cell(t.X).add(off))

	case *ssa.Field:
		off := b.layout.offset(t.X.Type().Underlying(), t.Field)
		b.bind(t, b.deref(b.cell(t.X).add(off), t.Type()))

	case *ssa.IndexAddr:
		arr := b.cell(t.X)
		g.mark(arr, Array)
		g.collapse(arr.Node())
		b.bind(t, arr)

	case *ssa.Index:
		if !aggregate(t.X.Type()) {
			return
		}
		arr := b.cell(t.X)
		g.mark(arr, Array)
		g.collapse(arr.Node())
		b.bind(t, b.deref(arr, t.Type()))

	case *ssa.UnOp:
		switch t.Op {
		case token.MUL:
			addr := b.cell(t.X)
			g.mark(addr, Read)
			b.bind(t, b.deref(addr, t.Type()))

		case token.ARROW:
			ch := b.cell(t.X)
			g.mark(ch, Read)
			elem := elemType(t.X.Type())
			if t.CommaOk {
				g.merge(b.deref(b.cell(t), elem), b.deref(ch, elem))
			} else {
				b.bind(t, b.deref(ch, elem))
			}
		}

	case *ssa.BinOp:

	case *ssa.Convert:
		from, to := t.X.Type(), t.Type()
		switch {
		case IsPointer(from) && IsPointer(to):
			// Reinterpreting memory through unsafe.Pointer: offsets within
			// the object can no longer be trusted.
			x := b.cell(t.X)
			g.collapse(x.Node())
			b.bind(t, x)
		case IsPointer(to):
			b.alloc(t, Unknown)
		case IsPointer(from):
			// The address may come back through integer arithmetic as a
			// forged pointer into the same object.
			g.mark(b.cell(t.X), Unknown)
		case tracked(to):
			// string to []byte or []rune copies into a fresh array.
			b.alloc(t, Heap|Array)
		}

	case *ssa.ChangeType:
		b.bind(t, b.cell(t.X))

	case *ssa.ChangeInterface:
		b.bind(t, b.cell(t.X))

	case *ssa.Slice:
		if tracked(t.Type()) {
			x := b.cell(t.X)
			g.collapse(x.Node())
			b.bind(t, x)
		}

	case *ssa.SliceToArrayPointer:
		x := b.cell(t.X)
		g.collapse(x.Node())
		b.bind(t, x)

	case *ssa.Phi:
		for _, e := range t.Edges {
			b.bind(t, b.cell(e))
		}

	case *ssa.Extract:
		tuple := t.Tuple.Type()
		off := b.layout.offset(tuple, t.Index)
		b.bind(t, b.deref(b.cell(t.Tuple).add(off), t.Type()))

	case *ssa.Lookup:
		if _, isMap := t.X.Type().Underlying().(*types.Map); !isMap {
			return
		}
		m := b.cell(t.X)
		g.mark(m, Read)
		elem := elemType(t.X.Type())
		if t.CommaOk {
			g.merge(b.deref(b.cell(t), elem), b.deref(m, elem))
		} else {
			b.bind(t, b.deref(m, elem))
		}

	case *ssa.Range:
		if _, isMap := t.X.Type().Underlying().(*types.Map); isMap {
			g.merge(b.cell(t), b.cell(t.X))
		}

	case *ssa.Next:
		if t.IsString {
			return
		}
		tuple := t.Type().(*types.Tuple)
		it, res := b.cell(t.Iter), b.cell(t)
		g.mark(it, Read)
		for i := 1; i <= 2; i++ {
			vt := tuple.At(i).Type()
			g.merge(b.deref(res.add(b.layout.offset(tuple, i)), vt), b.deref(it, vt))
		}

	case *ssa.TypeAssert:
		x := b.cell(t.X)
		val := x
		if _, isItf := t.AssertedType.Underlying().(*types.Interface); !isItf {
			val = b.deref(x, t.AssertedType)
		}

		if t.CommaOk {
			g.merge(b.deref(b.cell(t), t.AssertedType), val)
		} else {
			b.bind(t, val)
		}

	case *ssa.Select:
		res := b.cell(t)
		tuple := t.Type().(*types.Tuple)
		field := 2
		for _, st := range t.States {
			ch := b.cell(st.Chan)
			elem := elemType(st.Chan.Type())
			if st.Dir == types.RecvOnly {
				g.mark(ch, Read)
				slot := res.add(b.layout.offset(tuple, field))
				g.merge(b.deref(slot, elem), b.deref(ch, elem))
				field++
			} else {
				b.store(ch, st.Send)
			}
		}

	default:
		// Anything else producing memory is treated as a forged pointer.
		if tracked(t.Type()) {
			b.logger.Debugf("dsa: unmodelled value %T %v", t, t)
			b.alloc(t, Unknown)
		}
	}
}

func (b *localBuilder) call(call ssa.CallInstruction) {
	g := b.g
	common := call.Common()
	v := call.Value()

	if builtin, ok := common.Value.(*ssa.Builtin); ok {
		b.builtin(builtin, common.Args, v)
		return
	}

	// Results are held in a tuple node laid out like the signature's results.
	var ret Handle
	sig := common.Signature()
	if sig.Results().Len() > 0 {
		ret = Handle{node: g.newNode(0)}
		if v != nil {
			if sig.Results().Len() == 1 {
				b.bind(v, b.deref(ret, v.Type()))
			} else {
				g.merge(b.cell(v), ret)
			}
		}
	}

	if callee := common.StaticCallee(); callee != nil && b.analysed(callee) {
		cs := &CallSite{Instr: call, Callee: callee, ret: ret}
		for _, arg := range common.Args {
			cs.args = append(cs.args, b.cell(arg))
		}
		g.calls = append(g.calls, cs)
		g.sites[call] = cs
		return
	}

	// Unknown code may do anything to what it is given.
	for _, arg := range common.Args {
		b.escape(arg)
	}
	if _, isFun := common.Value.(*ssa.Function); !isFun {
		b.escape(common.Value)
	}
	g.mark(ret, External)
}

func (b *localBuilder) builtin(fun *ssa.Builtin, args []ssa.Value, v ssa.Value) {
	g := b.g
	switch fun.Name() {
	case "append":
		res := b.cell(v)
		g.merge(res, b.cell(args[0]))
		if _, isSlice := args[1].Type().Underlying().(*types.Slice); isSlice {
			elem := elemType(v.Type())
			g.mark(res, Modified)
			g.merge(b.deref(res, elem), b.deref(b.cell(args[1]), elem))
		}

	case "copy":
		dst := b.cell(args[0])
		if _, isSlice := args[1].Type().Underlying().(*types.Slice); isSlice {
			elem := elemType(args[0].Type())
			g.mark(dst, Modified)
			g.merge(b.deref(dst, elem), b.deref(b.cell(args[1]), elem))
		}

	case "recover":
		b.g.mark(b.cell(v), External)

	case "ssa:wrapnilchk":
		b.bind(v, b.cell(args[0]))

	case "Add", "Slice", "SliceData", "String", "StringData":
		// unsafe arithmetic stays within the operand's object, at an unknown
		// offset.
		if v != nil && tracked(v.Type()) {
			x := b.cell(args[0])
			g.collapse(x.Node())
			b.bind(v, x)
		}

	case "clear":
		g.mark(b.cell(args[0]), Modified)

	default:
		if v != nil && tracked(v.Type()) {
			b.alloc(v, Unknown)
		}
	}
}
