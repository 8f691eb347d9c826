package dsa

import (
	"go/types"

	"golang.org/x/tools/go/types/typeutil"
)

// PointerLike reports whether values of type t refer to memory: pointers,
// unsafe.Pointer and the reference types of Go.
func PointerLike(t types.Type) bool {
	switch t := t.Underlying().(type) {
	case *types.Pointer,
		*types.Map,
		*types.Chan,
		*types.Slice,
		*types.Interface,
		*types.Signature:
		return true
	case *types.Basic:
		return t.Kind() == types.UnsafePointer
	default:
		return false
	}
}

// IsPointer reports whether t is a pointer or unsafe.Pointer, the types of
// addresses that loads and stores go through.
func IsPointer(t types.Type) bool {
	switch t := t.Underlying().(type) {
	case *types.Pointer:
		return true
	case *types.Basic:
		return t.Kind() == types.UnsafePointer
	default:
		return false
	}
}

func isUnsafePointer(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Kind() == types.UnsafePointer
}

func aggregate(t types.Type) bool {
	switch t := t.Underlying().(type) {
	case *types.Struct, *types.Array:
		return true
	case *types.Tuple:
		return t.Len() > 0
	default:
		return false
	}
}

// tracked reports whether values of type t get a cell in the scalar map.
func tracked(t types.Type) bool {
	return PointerLike(t) || aggregate(t)
}

// elemType returns the element type of collections and channels.
func elemType(t types.Type) types.Type {
	switch t := t.Underlying().(type) {
	case *types.Pointer:
		return elemType(t.Elem())
	case *types.Array:
		return t.Elem()
	case *types.Slice:
		return t.Elem()
	case *types.Chan:
		return t.Elem()
	case *types.Map:
		return t.Elem()
	default:
		return nil
	}
}

// layout computes byte offsets of struct fields and tuple components.
type layout struct {
	sizes   types.Sizes
	offsets typeutil.Map // types.Type -> []int64
}

func newLayout(sizes types.Sizes, hasher typeutil.Hasher) *layout {
	l := &layout{sizes: sizes}
	l.offsets.SetHasher(hasher)
	return l
}

func (l *layout) offset(t types.Type, i int) int64 {
	if offs, ok := l.offsets.At(t).([]int64); ok {
		return offs[i]
	}

	var vars []*types.Var
	switch t := t.Underlying().(type) {
	case *types.Struct:
		for j := 0; j < t.NumFields(); j++ {
			vars = append(vars, t.Field(j))
		}
	case *types.Tuple:
		for j := 0; j < t.Len(); j++ {
			vars = append(vars, t.At(j))
		}
	default:
		panic(ErrNotImplemented)
	}

	offs := l.sizes.Offsetsof(vars)
	l.offsets.Set(t, offs)
	return offs[i]
}

// fieldOffset returns the offset of field i of the struct x points to.
func (l *layout) fieldOffset(ptr types.Type, i int) int64 {
	return l.offset(ptr.Underlying().(*types.Pointer).Elem().Underlying(), i)
}
