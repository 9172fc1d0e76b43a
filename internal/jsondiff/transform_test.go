package jsondiff

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

// diffApply is a small test helper: it diffs base against modified, failing
// the test on error, used to build scenario fixtures without repeating
// boilerplate.
func diffApply(t *testing.T, base, modified Value) ObjectOperationSet {
	t.Helper()
	ops, err := ObjectDiff(base, modified)
	assert.Equal(t, nil, err)
	return ops
}

func TestTransformCounterCommutes(t *testing.T) {
	base := obj(map[string]Value{"c": Number(5)})
	local := diffApply(t, base, obj(map[string]Value{"c": Number(7)}))  // +2
	upstream := diffApply(t, base, obj(map[string]Value{"c": Number(8)})) // +3

	upstreamApplied, err := ApplyObjectDiff(upstream, base)
	assert.Equal(t, nil, err)

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, OpIncrement, rebased["c"].Tag)
	assert.Equal(t, float64(2), rebased["c"].Delta)

	out, err := ApplyObjectDiff(rebased, upstreamApplied)
	assert.Equal(t, nil, err)
	assert.Equal(t, float64(10), out.Obj["c"].Num)
}

func TestTransformConcurrentReplaceUpstreamWins(t *testing.T) {
	base := obj(map[string]Value{"k": String("a")})
	local := ObjectOperationSet{"k": Replace(String("b"))}
	upstream := ObjectOperationSet{"k": Replace(String("c"))}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.Equal(t, nil, err)
	_, stillThere := rebased["k"]
	assert.Equal(t, false, stillThere)
}

func TestTransformAddTieLocalWins(t *testing.T) {
	base := obj(map[string]Value{})
	local := ObjectOperationSet{"n": Add(String("local"))}
	upstream := ObjectOperationSet{"n": Add(String("upstream"))}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, OpAdd, rebased["n"].Tag)
	assert.Equal(t, "local", rebased["n"].Value.Str)
}

func TestTransformRemoveVsRemoveDrops(t *testing.T) {
	base := obj(map[string]Value{"x": Number(1)})
	local := ObjectOperationSet{"x": Remove()}
	upstream := ObjectOperationSet{"x": Remove()}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.Equal(t, nil, err)
	_, stillThere := rebased["x"]
	assert.Equal(t, false, stillThere)
}

func TestTransformRemoveSurvivesUpstreamIncrement(t *testing.T) {
	base := obj(map[string]Value{"x": Number(1)})
	local := ObjectOperationSet{"x": Remove()}
	upstream := ObjectOperationSet{"x": Increment(4)}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, OpRemove, rebased["x"].Tag)
}

func TestTransformNonConflictingKeysPassThrough(t *testing.T) {
	base := obj(map[string]Value{"a": Number(1), "b": Number(1)})
	local := ObjectOperationSet{"a": Increment(1)}
	upstream := ObjectOperationSet{"b": Increment(1)}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, OpIncrement, rebased["a"].Tag)
	_, hasB := rebased["b"]
	assert.Equal(t, false, hasB)
}

func TestTransformCorrectnessGeneral(t *testing.T) {
	base := obj(map[string]Value{"a": Number(1), "b": String("x")})
	local := diffApply(t, base, obj(map[string]Value{"a": Number(3), "b": String("x")}))
	upstream := diffApply(t, base, obj(map[string]Value{"a": Number(1), "b": String("xy")}))

	upstreamApplied, err := ApplyObjectDiff(upstream, base)
	assert.Equal(t, nil, err)
	rebasedLocal, err := TransformObjectDiff(local, upstream, base)
	assert.Equal(t, nil, err)

	b, err := ApplyObjectDiff(rebasedLocal, upstreamApplied)
	assert.Equal(t, nil, err)

	assert.Equal(t, float64(3), b.Obj["a"].Num)
	assert.Equal(t, "xy", b.Obj["b"].Str)
}

func TestTransformDMPRebase(t *testing.T) {
	base := obj(map[string]Value{"t": String("hello")})
	local := diffApply(t, base, obj(map[string]Value{"t": String("hello world")}))
	upstream := diffApply(t, base, obj(map[string]Value{"t": String("hello!")}))

	upstreamApplied, err := ApplyObjectDiff(upstream, base)
	assert.Equal(t, nil, err)

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.Equal(t, nil, err)

	out, err := ApplyObjectDiff(rebased, upstreamApplied)
	assert.Equal(t, nil, err)
	assert.Equal(t, "hello world!", out.Obj["t"].Str)
}
