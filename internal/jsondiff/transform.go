package jsondiff

// TransformObjectDiff rebases local against upstream, both diffs computed
// against the same base, per the per-operation table in §4.1. The result
// is what local becomes after upstream has already been applied.
func TransformObjectDiff(local, upstream ObjectOperationSet, base Value) (ObjectOperationSet, error) {
	if base.Kind != KindObject {
		return nil, errNotAnObject
	}
	out := ObjectOperationSet{}
	for key, localOp := range local {
		upstreamOp, conflict := upstream[key]
		if !conflict {
			out[key] = localOp
			continue
		}
		baseChild, _ := base.Obj[key]
		transformed, keep := transformOperation(localOp, upstreamOp, baseChild)
		if keep {
			out[key] = transformed
		}
	}
	return out, nil
}

// transformOperation rebases one local operation against the upstream
// operation that shares its path, per the table in §4.1. baseChild is the
// pre-image value at that path (zero Value if it didn't exist).
func transformOperation(local, upstream Operation, baseChild Value) (Operation, bool) {
	switch local.Tag {
	case OpAdd:
		// Ties (both ADD) favor local; an upstream REMOVE on the same
		// not-yet-present key is vacuous so local still wins. Anything
		// that implies upstream already settled the key (REPLACE, or a
		// recursive/text op, which can only target an existing value)
		// outranks the still-uncommitted local ADD.
		switch upstream.Tag {
		case OpAdd, OpRemove:
			return local, true
		default:
			return Operation{}, false
		}
	case OpRemove:
		switch upstream.Tag {
		case OpRemove:
			return Operation{}, false
		default:
			return local, true
		}
	case OpReplace:
		switch upstream.Tag {
		case OpAdd, OpReplace:
			return Operation{}, false
		default:
			return local, true
		}
	case OpIncrement:
		switch upstream.Tag {
		case OpIncrement:
			return local, true
		default:
			return Operation{}, false
		}
	case OpObject:
		switch upstream.Tag {
		case OpObject:
			sub, err := TransformObjectDiff(local.ObjectOps, upstream.ObjectOps, baseChild)
			if err != nil || len(sub) == 0 {
				return Operation{}, false
			}
			return ObjectOp(sub), true
		default:
			return Operation{}, false
		}
	case OpList:
		switch upstream.Tag {
		case OpList:
			sub := transformListDiff(local.ListOps, upstream.ListOps, baseChild.List)
			if len(sub) == 0 {
				return Operation{}, false
			}
			return ListOp(sub), true
		default:
			return Operation{}, false
		}
	case OpDMP:
		switch upstream.Tag {
		case OpDMP:
			rebased, ok := dmpTransform(local.Patch, upstream.Patch, baseChild.Str)
			if !ok {
				return Operation{}, false
			}
			return DMP(rebased), true
		default:
			return Operation{}, false
		}
	}
	return Operation{}, false
}

// transformListDiff rebases per-index list operations. Indices that only
// local touched pass through unchanged; indices both touched are
// transformed with transformOperation, using the pre-image element as the
// sub-base (a scalar transform for REPLACE/INCREMENT/DMP touching the same
// index, or a recursive one for nested OBJECT/LIST elements).
func transformListDiff(local, upstream ListOperationSet, base []Value) ListOperationSet {
	out := ListOperationSet{}
	for idx, localOp := range local {
		upstreamOp, conflict := upstream[idx]
		if !conflict {
			out[idx] = localOp
			continue
		}
		var baseElem Value
		if idx >= 0 && idx < len(base) {
			baseElem = base[idx]
		}
		transformed, keep := transformOperation(localOp, upstreamOp, baseElem)
		if keep {
			out[idx] = transformed
		}
	}
	return out
}
