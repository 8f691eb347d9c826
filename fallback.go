package dsaa

import "go/types"

// Conservative answers MayAlias to every query.
type Conservative struct{}

func (Conservative) Alias(a, b Location) AliasResult { return MayAlias }

// TypeBased disambiguates accesses by the types they go through, relying on
// Go's type safety: outside of unsafe.Pointer, memory of one type cannot be
// accessed through a pointer to an unrelated type.
//
// Only conversions in the use-def chain of a pointer are seen. A pointer
// reinterpreted through unsafe.Pointer and then stored to memory and loaded
// back carries its new type alone, so TypeBased is only sound for programs
// that never reinterpret memory through unsafe.Pointer.
type TypeBased struct{}

func (TypeBased) Alias(a, b Location) AliasResult {
	if a.Size == 0 || b.Size == 0 {
		return NoAlias
	}

	pa, pb := stripPointerCasts(a.Ptr), stripPointerCasts(b.Ptr)
	if pa == nil || pb == nil {
		return MayAlias
	}
	if pa == pb {
		return MustAlias
	}

	ta, okA := pointee(pa.Type())
	tb, okB := pointee(pb.Type())
	if !okA || !okB || contains(ta, tb) || contains(tb, ta) {
		return MayAlias
	}
	return NoAlias
}

func pointee(t types.Type) (types.Type, bool) {
	if p, ok := t.Underlying().(*types.Pointer); ok {
		return p.Elem(), true
	}
	return nil, false
}

// contains reports whether a value of type inner may be stored inside a
// value of type outer.
func contains(outer, inner types.Type) bool {
	if types.IdenticalIgnoreTags(outer.Underlying(), inner.Underlying()) {
		return true
	}

	switch t := outer.Underlying().(type) {
	case *types.Struct:
		for i := 0; i < t.NumFields(); i++ {
			if contains(t.Field(i).Type(), inner) {
				return true
			}
		}
	case *types.Array:
		return contains(t.Elem(), inner)
	}
	return false
}
