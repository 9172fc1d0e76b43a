package jsondiff

import (
	"fmt"
	"sort"

	"github.com/wezm/node-simperium/internal/syncerr"
)

// ApplyObjectDiff produces a deep copy of base with ops applied. base is
// never mutated.
func ApplyObjectDiff(ops ObjectOperationSet, base Value) (Value, error) {
	if base.Kind != KindObject {
		return Value{}, errNotAnObject
	}
	result := base.Clone()
	for _, key := range objectOpKeys(ops) {
		op := ops[key]
		cur, exists := result.Obj[key]
		next, err := applyAtKey(op, cur, exists, fmt.Sprintf("key %q", key))
		if err != nil {
			return Value{}, err
		}
		if op.Tag == OpRemove {
			delete(result.Obj, key)
		} else {
			result.Obj[key] = next
		}
	}
	return result, nil
}

func objectOpKeys(ops ObjectOperationSet) []string {
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applyAtKey applies a single operation to the value currently occupying
// a path (an object key or list index). exists tells whether the path is
// currently populated; cur is its value if so.
func applyAtKey(op Operation, cur Value, exists bool, where string) (Value, error) {
	switch op.Tag {
	case OpAdd:
		if exists {
			return Value{}, fmt.Errorf("%w: ADD at %s but value already present", syncerr.ErrOperationPreconditionViolated, where)
		}
		return op.Value, nil
	case OpRemove:
		if !exists {
			return Value{}, fmt.Errorf("%w: REMOVE at %s but value absent", syncerr.ErrOperationPreconditionViolated, where)
		}
		return Value{}, nil
	case OpReplace:
		return op.Value, nil
	case OpIncrement:
		if !exists || cur.Kind != KindNumber {
			return Value{}, fmt.Errorf("%w: INCREMENT at %s on non-number", syncerr.ErrOperationPreconditionViolated, where)
		}
		return Number(cur.Num + op.Delta), nil
	case OpObject:
		if !exists || cur.Kind != KindObject {
			return Value{}, fmt.Errorf("%w: OBJECT op at %s on non-object", syncerr.ErrOperationPreconditionViolated, where)
		}
		return ApplyObjectDiff(op.ObjectOps, cur)
	case OpList:
		if !exists || cur.Kind != KindList {
			return Value{}, fmt.Errorf("%w: LIST op at %s on non-list", syncerr.ErrOperationPreconditionViolated, where)
		}
		newList, err := applyListDiff(op.ListOps, cur.List)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindList, List: newList}, nil
	case OpDMP:
		if !exists || cur.Kind != KindString {
			return Value{}, fmt.Errorf("%w: DMP op at %s on non-string", syncerr.ErrOperationPreconditionViolated, where)
		}
		text, err := applyDMPPatch(op.Patch, cur.Str)
		if err != nil {
			return Value{}, err
		}
		return String(text), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown operation tag %d at %s", syncerr.ErrMalformedOperation, op.Tag, where)
	}
}

// applyListDiff reconstructs modified from base and a ListOperationSet.
//
// Non-ADD ops (REMOVE and in-place recursive edits) address pre-image
// indices directly and are applied to a mutable working copy in
// descending index order, exactly as §4.1 describes: removing a higher
// index first never disturbs the addressing of a lower one.
//
// ADD ops are handled separately because several of them can share one
// gap in the pre-image (see the diffList doc comment): they are grouped
// into runs of consecutive keys and spliced in ascending order, each run
// positioned by counting how many surviving (non-removed) original
// elements precede its boundary key. This keeps multi-element insertions
// in their intended relative order regardless of how many removes also
// landed in the same region.
func applyListDiff(ops ListOperationSet, base []Value) ([]Value, error) {
	removed := make([]bool, len(base))
	working := make([]Value, len(base))
	copy(working, base)

	var nonAddKeys []int
	var addKeys []int
	for k, op := range ops {
		if op.Tag == OpAdd {
			addKeys = append(addKeys, k)
		} else {
			nonAddKeys = append(nonAddKeys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(nonAddKeys)))

	for _, idx := range nonAddKeys {
		if idx < 0 || idx >= len(working) {
			return nil, fmt.Errorf("%w: list op at out-of-range index %d (len %d)", syncerr.ErrOperationPreconditionViolated, idx, len(base))
		}
		op := ops[idx]
		next, err := applyAtKey(op, working[idx], true, fmt.Sprintf("index %d", idx))
		if err != nil {
			return nil, err
		}
		if op.Tag == OpRemove {
			removed[idx] = true
		} else {
			working[idx] = next
		}
	}

	result := make([]Value, 0, len(working))
	for i, v := range working {
		if !removed[i] {
			result = append(result, v)
		}
	}

	// survivorsBefore[i] = number of surviving original elements whose
	// pre-image index is < i, for i in [0, len(base)].
	survivorsBefore := make([]int, len(base)+1)
	for i := 0; i < len(base); i++ {
		survivorsBefore[i+1] = survivorsBefore[i]
		if !removed[i] {
			survivorsBefore[i+1]++
		}
	}
	survivorsBeforeBoundary := func(boundary int) int {
		if boundary >= len(survivorsBefore) {
			return survivorsBefore[len(survivorsBefore)-1]
		}
		return survivorsBefore[boundary]
	}

	sort.Ints(addKeys)
	runs := groupConsecutive(addKeys)

	inserted := 0
	for _, run := range runs {
		pos := survivorsBeforeBoundary(run[0]) + inserted
		values := make([]Value, len(run))
		for i, k := range run {
			values[i] = ops[k].Value
		}
		result = append(result[:pos], append(append([]Value{}, values...), result[pos:]...)...)
		inserted += len(run)
	}

	return result, nil
}

// groupConsecutive partitions a sorted slice of ints into maximal runs of
// consecutive integers.
func groupConsecutive(sorted []int) [][]int {
	if len(sorted) == 0 {
		return nil
	}
	var runs [][]int
	run := []int{sorted[0]}
	for _, k := range sorted[1:] {
		if k == run[len(run)-1]+1 {
			run = append(run, k)
		} else {
			runs = append(runs, run)
			run = []int{k}
		}
	}
	runs = append(runs, run)
	return runs
}
