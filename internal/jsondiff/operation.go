package jsondiff

import (
	"encoding/json"
	"fmt"

	"github.com/wezm/node-simperium/internal/syncerr"
)

// OpTag identifies which member of the operation algebra an Operation
// holds. The string form matches the single-character wire codes used by
// the protocol's "o" field (§6).
type OpTag int

const (
	OpAdd OpTag = iota
	OpRemove
	OpReplace
	OpIncrement
	OpList
	OpObject
	OpDMP
)

func (t OpTag) wireCode() string {
	switch t {
	case OpAdd:
		return "+"
	case OpRemove:
		return "-"
	case OpReplace:
		return "r"
	case OpIncrement:
		return "I"
	case OpList:
		return "L"
	case OpObject:
		return "O"
	case OpDMP:
		return "d"
	default:
		return "?"
	}
}

func opTagFromWireCode(code string) (OpTag, bool) {
	switch code {
	case "+":
		return OpAdd, true
	case "-":
		return OpRemove, true
	case "r":
		return OpReplace, true
	case "I":
		return OpIncrement, true
	case "L":
		return OpList, true
	case "O":
		return OpObject, true
	case "d":
		return OpDMP, true
	default:
		return 0, false
	}
}

// Operation is one entry of the diff algebra, applied at a single path
// (a top-level object key, or recursively, a nested key/index).
type Operation struct {
	Tag OpTag

	Value Value // ADD, REPLACE

	Delta float64 // INCREMENT

	ObjectOps ObjectOperationSet // OBJECT
	ListOps   ListOperationSet   // LIST

	Patch string // DMP: diff_match_patch patch text
}

// ObjectOperationSet describes edits to one mapping: key -> Operation.
type ObjectOperationSet map[string]Operation

// ListOperationSet describes edits to one list, keyed by the pre-image
// index the operation targets (§3, §4.1).
type ListOperationSet map[int]Operation

func Add(v Value) Operation         { return Operation{Tag: OpAdd, Value: v} }
func Remove() Operation             { return Operation{Tag: OpRemove} }
func Replace(v Value) Operation     { return Operation{Tag: OpReplace, Value: v} }
func Increment(delta float64) Operation { return Operation{Tag: OpIncrement, Delta: delta} }
func ObjectOp(ops ObjectOperationSet) Operation { return Operation{Tag: OpObject, ObjectOps: ops} }
func ListOp(ops ListOperationSet) Operation     { return Operation{Tag: OpList, ListOps: ops} }
func DMP(patch string) Operation    { return Operation{Tag: OpDMP, Patch: patch} }

type wireOperation struct {
	O string          `json:"o"`
	V json.RawMessage `json:"v,omitempty"`
}

func (op Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{O: op.Tag.wireCode()}
	var raw []byte
	var err error
	switch op.Tag {
	case OpAdd, OpReplace:
		raw, err = json.Marshal(op.Value)
	case OpRemove:
		// no value
	case OpIncrement:
		raw, err = json.Marshal(op.Delta)
	case OpObject:
		raw, err = json.Marshal(op.ObjectOps)
	case OpList:
		// list index keys are encoded as strings in JSON objects
		strKeyed := make(map[string]Operation, len(op.ListOps))
		for idx, child := range op.ListOps {
			strKeyed[fmt.Sprintf("%d", idx)] = child
		}
		raw, err = json.Marshal(strKeyed)
	case OpDMP:
		raw, err = json.Marshal(op.Patch)
	default:
		return nil, fmt.Errorf("jsondiff: cannot marshal unknown operation tag %d", op.Tag)
	}
	if err != nil {
		return nil, err
	}
	w.V = raw
	return json.Marshal(w)
}

func (op *Operation) UnmarshalJSON(b []byte) error {
	var w wireOperation
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	tag, ok := opTagFromWireCode(w.O)
	if !ok {
		return fmt.Errorf("%w: unknown operation code %q", syncerr.ErrMalformedOperation, w.O)
	}
	out := Operation{Tag: tag}
	switch tag {
	case OpAdd, OpReplace:
		var v Value
		if err := json.Unmarshal(w.V, &v); err != nil {
			return fmt.Errorf("%w: %v", syncerr.ErrMalformedOperation, err)
		}
		out.Value = v
	case OpRemove:
		// nothing to decode
	case OpIncrement:
		var d float64
		if err := json.Unmarshal(w.V, &d); err != nil {
			return fmt.Errorf("%w: %v", syncerr.ErrMalformedOperation, err)
		}
		out.Delta = d
	case OpObject:
		var ops ObjectOperationSet
		if err := json.Unmarshal(w.V, &ops); err != nil {
			return fmt.Errorf("%w: %v", syncerr.ErrMalformedOperation, err)
		}
		out.ObjectOps = ops
	case OpList:
		var strKeyed map[string]Operation
		if err := json.Unmarshal(w.V, &strKeyed); err != nil {
			return fmt.Errorf("%w: %v", syncerr.ErrMalformedOperation, err)
		}
		ops := make(ListOperationSet, len(strKeyed))
		for k, child := range strKeyed {
			var idx int
			if _, err := fmt.Sscanf(k, "%d", &idx); err != nil {
				return fmt.Errorf("%w: bad list index %q", syncerr.ErrMalformedOperation, k)
			}
			ops[idx] = child
		}
		out.ListOps = ops
	case OpDMP:
		var patch string
		if err := json.Unmarshal(w.V, &patch); err != nil {
			return fmt.Errorf("%w: %v", syncerr.ErrMalformedOperation, err)
		}
		out.Patch = patch
	}
	*op = out
	return nil
}
