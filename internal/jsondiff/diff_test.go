package jsondiff

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func obj(m map[string]Value) Value { return Object(m) }

func TestObjectDiffIdentity(t *testing.T) {
	a := obj(map[string]Value{"x": Number(1), "y": String("hi")})
	ops, err := ObjectDiff(a, a)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(ops))
}

func TestApplyEmptyDiffIsIdentity(t *testing.T) {
	a := obj(map[string]Value{"x": Number(1)})
	out, err := ApplyObjectDiff(ObjectOperationSet{}, a)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, a.Equal(out))
}

func TestRoundTripScalar(t *testing.T) {
	base := obj(map[string]Value{"content": String("Hi")})
	modified := obj(map[string]Value{"content": String("Hi there")})
	ops, err := ObjectDiff(base, modified)
	assert.Equal(t, nil, err)
	out, err := ApplyObjectDiff(ops, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, modified.Equal(out))
}

func TestRoundTripAddRemoveReplace(t *testing.T) {
	base := obj(map[string]Value{
		"keep":   String("same"),
		"remove": Bool(true),
		"repl":   String("a"),
	})
	modified := obj(map[string]Value{
		"keep": String("same"),
		"repl": Number(5),
		"new":  List(Number(1), Number(2)),
	})
	ops, err := ObjectDiff(base, modified)
	assert.Equal(t, nil, err)
	out, err := ApplyObjectDiff(ops, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, modified.Equal(out))
}

func TestRoundTripNestedObject(t *testing.T) {
	base := obj(map[string]Value{
		"inner": obj(map[string]Value{"a": Number(1), "b": String("x")}),
	})
	modified := obj(map[string]Value{
		"inner": obj(map[string]Value{"a": Number(2), "c": String("y")}),
	})
	ops, err := ObjectDiff(base, modified)
	assert.Equal(t, nil, err)
	out, err := ApplyObjectDiff(ops, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, modified.Equal(out))
}

func TestRoundTripList(t *testing.T) {
	base := obj(map[string]Value{"l": List(String("a"), String("b"), String("c"))})
	modified := obj(map[string]Value{"l": List(String("a"), String("x"), String("c"), String("d"))})
	ops, err := ObjectDiff(base, modified)
	assert.Equal(t, nil, err)
	out, err := ApplyObjectDiff(ops, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, modified.Equal(out))
}

func TestRoundTripListRemoval(t *testing.T) {
	base := obj(map[string]Value{"l": List(Number(1), Number(2), Number(3), Number(4))})
	modified := obj(map[string]Value{"l": List(Number(1), Number(4))})
	ops, err := ObjectDiff(base, modified)
	assert.Equal(t, nil, err)
	out, err := ApplyObjectDiff(ops, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, modified.Equal(out))
}

func TestIncrementDiff(t *testing.T) {
	base := obj(map[string]Value{"c": Number(5)})
	modified := obj(map[string]Value{"c": Number(8)})
	ops, err := ObjectDiff(base, modified)
	assert.Equal(t, nil, err)
	op, ok := ops["c"]
	assert.Equal(t, true, ok)
	assert.Equal(t, OpIncrement, op.Tag)
	assert.Equal(t, float64(3), op.Delta)
}

func TestStringDiffUsesDMP(t *testing.T) {
	base := obj(map[string]Value{"t": String("hello")})
	modified := obj(map[string]Value{"t": String("hello world")})
	ops, err := ObjectDiff(base, modified)
	assert.Equal(t, nil, err)
	assert.Equal(t, OpDMP, ops["t"].Tag)
	out, err := ApplyObjectDiff(ops, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, modified.Equal(out))
}

func TestEmptyStringFallsBackToReplace(t *testing.T) {
	base := obj(map[string]Value{"t": String("")})
	modified := obj(map[string]Value{"t": String("hi")})
	ops, err := ObjectDiff(base, modified)
	assert.Equal(t, nil, err)
	assert.Equal(t, OpReplace, ops["t"].Tag)
}

func TestApplyAddToPresentKeyFails(t *testing.T) {
	base := obj(map[string]Value{"x": Number(1)})
	_, err := ApplyObjectDiff(ObjectOperationSet{"x": Add(Number(2))}, base)
	if err == nil {
		t.Fatalf("expected precondition violation")
	}
}

func TestApplyRemoveAbsentKeyFails(t *testing.T) {
	base := obj(map[string]Value{})
	_, err := ApplyObjectDiff(ObjectOperationSet{"x": Remove()}, base)
	if err == nil {
		t.Fatalf("expected precondition violation")
	}
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := obj(map[string]Value{"x": Number(1)})
	baseCopy := base.Clone()
	_, err := ApplyObjectDiff(ObjectOperationSet{"x": Replace(Number(2))}, base)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, base.Equal(baseCopy))
}
